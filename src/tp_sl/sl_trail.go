package tp_sl

import (
	"github.com/shopspring/decimal"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

func pct(p decimal.Decimal) decimal.Decimal { return p.Div(hundred) }

// State is the trailing-stop lifecycle of one position.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateArmed         State = "armed"
	StateActivated     State = "activated"
)

func StateOf(p model.Position) State {
	switch {
	case p.TrailingStop.Activated:
		return StateActivated
	case p.TrailingStop.Initialized:
		return StateArmed
	default:
		return StateUninitialized
	}
}

// NextExtreme keeps the most favorable price seen: the high for a long, the low for
// a short.
func NextExtreme(side model.Side, extreme, price decimal.Decimal) decimal.Decimal {
	if extreme.IsZero() {
		return price
	}
	if side == model.SideShort {
		return decimal.Min(extreme, price)
	}
	return decimal.Max(extreme, price)
}

// ReachedActivation reports whether price has moved activationPct in the trade's
// favor from entry.
func ReachedActivation(side model.Side, entry, price, activationPct decimal.Decimal) bool {
	switch side {
	case model.SideLong:
		return price.GreaterThanOrEqual(entry.Mul(one.Add(pct(activationPct))))
	case model.SideShort:
		return price.LessThanOrEqual(entry.Mul(one.Sub(pct(activationPct))))
	default:
		return false
	}
}

// ComputeNextStopLossDirectional applies the trailing distance to the extreme price.
//
// Long:
// - candidate: extreme * (1 - distance)
// - clamp: candidate must sit below price, else price * (1 - safeOffset)
// - update: SL = max(SL, candidate)
//
// Short:
// - candidate: extreme * (1 + distance)
// - clamp: candidate must sit above price, else price * (1 + safeOffset)
// - update: SL = min(SL, candidate)
//
// A zero currentSL is treated as "no stop yet" and always moves.
func ComputeNextStopLossDirectional(
	side model.Side,
	currentSL, extreme, price decimal.Decimal,
	distancePct, safeOffsetPct decimal.Decimal,
) (newSL decimal.Decimal, moved bool) {
	if !price.IsPositive() || !extreme.IsPositive() {
		return currentSL, false
	}

	switch side {
	case model.SideLong:
		candidate := extreme.Mul(one.Sub(pct(distancePct)))
		if candidate.GreaterThanOrEqual(price) {
			candidate = price.Mul(one.Sub(pct(safeOffsetPct)))
		}
		if currentSL.IsZero() || candidate.GreaterThan(currentSL) {
			return candidate, true
		}
		return currentSL, false

	case model.SideShort:
		candidate := extreme.Mul(one.Add(pct(distancePct)))
		if candidate.LessThanOrEqual(price) {
			candidate = price.Mul(one.Add(pct(safeOffsetPct)))
		}
		// Stop only moves down for shorts
		if currentSL.IsZero() || candidate.LessThan(currentSL) {
			return candidate, true
		}
		return currentSL, false

	default:
		return currentSL, false
	}
}

// Improvement returns how far next moved past prev, as a percent of prev.
func Improvement(prev, next decimal.Decimal) decimal.Decimal {
	if prev.IsZero() {
		return hundred
	}
	return next.Sub(prev).Abs().Div(prev).Mul(hundred)
}
