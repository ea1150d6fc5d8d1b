// Package verifier decides whether an accepted entry order actually produced a
// position, consulting the order itself, the push stream and a positions snapshot.
//
// Verification runs in rounds rather than per-source retry loops. Each round asks
// the order status, then the stream cache, then the snapshot, stopping at the
// first source that answers. Rounds are spaced by the exchange backoff, so a
// source that stays silent is retried once per round and gets at most Attempts
// tries. The whole call is bounded by Timeout. A lower-priority source can
// confirm in the first round without waiting out the retries of the sources
// above it.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
	"github.com/JacobJanuary/TradingBot-sub006/src/utils"
)

var (
	ErrUnconfirmed = errors.New("position not confirmed")
	ErrNotFlat     = errors.New("position still open on exchange")
)

type Source string

const (
	SourceOrderStatus Source = "order_status"
	SourceStream      Source = "position_stream"
	SourceSnapshot    Source = "positions_snapshot"
)

// Confirmation is the verifier's verdict. Quantity and Side come from whichever
// source confirmed.
type Confirmation struct {
	Confirmed bool
	Quantity  decimal.Decimal
	Side      model.Side
	AvgPrice  decimal.Decimal
	Source    Source
	Attempts  int
}

// Exchange is what the verifier reads from an adapter.
type Exchange interface {
	Name() string
	FetchOrder(ctx context.Context, orderID, symbol string) (*exchange.Order, error)
	FetchPositions(ctx context.Context, symbols ...string) ([]exchange.Position, error)
}

type Verifier struct {
	ex    Exchange
	cache *exchange.PositionCache
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
	log   *logger.Entry
}

// New builds a verifier for one exchange. cache may be nil when no push stream runs.
func New(ex Exchange, cache *exchange.PositionCache, cfg Config) *Verifier {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Verifier{
		ex:    ex,
		cache: cache,
		cfg:   cfg,
		sleep: utils.Sleep,
		log: logger.WithFields(map[string]interface{}{
			"component": "verifier",
			"exchange":  ex.Name(),
		}),
	}
}

type verdict int

const (
	indeterminate verdict = iota
	confirmed
	rejected
)

// ConfirmOpen checks the sources in priority order each round and backs off between
// rounds. The order status is authoritative when it answers; the stream cache is
// consulted only when it does not, and the snapshot only when neither does.
// Exhaustion or timeout returns ErrUnconfirmed.
func (v *Verifier) ConfirmOpen(ctx context.Context, orderID, symbol string) (Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	symbol = exchange.NormalizeSymbol(symbol)
	log := v.log.WithFields(map[string]interface{}{"symbol": symbol, "order_id": orderID})
	backoff := v.cfg.backoff()

	for attempt := 0; attempt < v.cfg.Attempts; attempt++ {
		if attempt > 0 {
			if err := v.sleep(ctx, backoff.Delay(attempt-1)); err != nil {
				break
			}
		}

		c, res := v.fromOrder(ctx, orderID, symbol, log)
		if res == rejected {
			log.WithField("attempt", attempt+1).Warn("Entry order finished without a fill")
			return Confirmation{Attempts: attempt + 1}, fmt.Errorf("%w: order %s closed unfilled", ErrUnconfirmed, orderID)
		}
		if res == indeterminate {
			c, res = v.fromStream(symbol)
		}
		if res == indeterminate {
			c, res = v.fromSnapshot(ctx, symbol, log)
		}
		if res == confirmed {
			c.Confirmed = true
			c.Attempts = attempt + 1
			log.WithFields(map[string]interface{}{
				"source":   c.Source,
				"quantity": c.Quantity.String(),
				"attempt":  c.Attempts,
			}).Info("Position confirmed")
			return c, nil
		}
	}

	log.WithField("attempts", v.cfg.Attempts).Error("Position could not be confirmed")
	return Confirmation{Attempts: v.cfg.Attempts}, fmt.Errorf("%w: order %s on %s", ErrUnconfirmed, orderID, symbol)
}

func (v *Verifier) fromOrder(ctx context.Context, orderID, symbol string, log *logger.Entry) (Confirmation, verdict) {
	if orderID == "" {
		return Confirmation{}, indeterminate
	}
	o, err := v.ex.FetchOrder(ctx, orderID, symbol)
	if err != nil {
		log.WithError(err).Debug("Order status check failed")
		return Confirmation{}, indeterminate
	}
	if o == nil {
		return Confirmation{}, indeterminate
	}
	if o.FilledQuantity.IsPositive() {
		return Confirmation{
			Quantity: o.FilledQuantity,
			Side:     model.NormalizeSide(string(o.Side)),
			AvgPrice: o.AvgPrice,
			Source:   SourceOrderStatus,
		}, confirmed
	}
	if model.IsTerminalOrderStatus(o.Status) {
		return Confirmation{}, rejected
	}
	return Confirmation{}, indeterminate
}

func (v *Verifier) fromStream(symbol string) (Confirmation, verdict) {
	if v.cache == nil {
		return Confirmation{}, indeterminate
	}
	u, ok := v.cache.Get(v.ex.Name(), symbol)
	if !ok || !u.Quantity.IsPositive() {
		return Confirmation{}, indeterminate
	}
	return Confirmation{Quantity: u.Quantity, Side: u.Side, AvgPrice: u.EntryPrice, Source: SourceStream}, confirmed
}

func (v *Verifier) fromSnapshot(ctx context.Context, symbol string, log *logger.Entry) (Confirmation, verdict) {
	p, err := v.position(ctx, symbol)
	if err != nil {
		log.WithError(err).Debug("Positions snapshot failed")
		return Confirmation{}, indeterminate
	}
	if p == nil {
		return Confirmation{}, indeterminate
	}
	return Confirmation{Quantity: p.Quantity, Side: p.Side, AvgPrice: p.EntryPrice, Source: SourceSnapshot}, confirmed
}

func (v *Verifier) position(ctx context.Context, symbol string) (*exchange.Position, error) {
	positions, err := v.ex.FetchPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if exchange.NormalizeSymbol(positions[i].Symbol) == symbol && positions[i].Quantity.IsPositive() {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// ConfirmClosed polls the positions snapshot until symbol is flat. It returns
// ErrNotFlat when the position is still there after the configured attempts.
func (v *Verifier) ConfirmClosed(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	symbol = exchange.NormalizeSymbol(symbol)
	backoff := v.cfg.backoff()
	var lastErr error
	for attempt := 0; attempt < v.cfg.Attempts; attempt++ {
		if attempt > 0 {
			if err := v.sleep(ctx, backoff.Delay(attempt-1)); err != nil {
				break
			}
		}
		p, err := v.position(ctx, symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if p == nil {
			return nil
		}
		lastErr = fmt.Errorf("%w: %s %s %s", ErrNotFlat, symbol, p.Side, p.Quantity)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", ErrNotFlat, symbol)
	}
	return lastErr
}
