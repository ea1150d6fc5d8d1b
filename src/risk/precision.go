package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// FloorToStep rounds qty down to a multiple of step. A zero step leaves qty unchanged.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// SnapStop aligns a stop price to the tick grid, always moving it away from the
// market: down for a long stop, up for a short stop.
func SnapStop(side model.Side, stop, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return stop
	}
	steps := stop.Div(tick)
	if side == model.SideShort {
		return steps.Ceil().Mul(tick)
	}
	return steps.Floor().Mul(tick)
}

// StopLossPrice computes the initial stop from entry: entry*(1-pct/100) for long,
// entry*(1+pct/100) for short. Anything but a normalized side is an error, never a
// silent default.
func StopLossPrice(side model.Side, entry, percent decimal.Decimal) (decimal.Decimal, error) {
	frac := percent.Div(decimal.NewFromInt(100))
	switch side {
	case model.SideLong:
		return entry.Mul(decimal.NewFromInt(1).Sub(frac)), nil
	case model.SideShort:
		return entry.Mul(decimal.NewFromInt(1).Add(frac)), nil
	default:
		return decimal.Zero, fmt.Errorf("stop loss: side %q is not long/short", side)
	}
}
