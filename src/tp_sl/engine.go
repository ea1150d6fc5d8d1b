// Package tp_sl runs the trailing stop: it arms on a confirmed position, activates
// after a favorable move and advances the exchange stop order as price runs.
package tp_sl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
	"github.com/JacobJanuary/TradingBot-sub006/src/risk"
)

// Orders is the part of an exchange adapter needed to replace a stop order.
type Orders interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
}

type PositionStore interface {
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
}

type EventLogger interface {
	LogEvent(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// TickSource returns the price tick for a symbol so new stops land on the grid.
type TickSource func(ctx context.Context, exchangeName, symbol string) (decimal.Decimal, error)

type Deps struct {
	Ledger    *ledger.Ledger
	Locks     *ledger.SymbolLocks
	Protected *ledger.ProtectedOrders
	Orders    map[string]Orders // by exchange name
	Positions PositionStore
	Events    EventLogger
	Ticks     TickSource
}

type Engine struct {
	cfg  Config
	deps Deps

	tracked sync.Map // position key -> struct{}
	now     func() time.Time
	log     *logger.Entry
}

func NewEngine(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		log:  logger.WithField("component", "trailing_stop"),
	}
}

func (e *Engine) lock(ctx context.Context, exchangeName, symbol string) (func(), error) {
	timeout := e.cfg.LockTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	unlock, err := e.deps.Locks.Lock(lockCtx, exchangeName, symbol)
	if err != nil {
		return nil, fmt.Errorf("trailing stop %s: lock: %w", model.Key(exchangeName, symbol), err)
	}
	return unlock, nil
}

// Arm moves a confirmed position from uninitialized to armed and starts tracking
// it. Arming an already armed or activated position only resumes tracking.
func (e *Engine) Arm(ctx context.Context, exchangeName, symbol string) error {
	unlock, err := e.lock(ctx, exchangeName, symbol)
	if err != nil {
		return err
	}
	defer unlock()

	p, err := e.deps.Ledger.Update(exchangeName, symbol, func(p *model.Position) error {
		if p.Status != model.PositionStatusActive {
			return fmt.Errorf("trailing stop: %s is %s, not active", p.Key(), p.Status)
		}
		if !p.TrailingStop.Initialized {
			p.TrailingStop.Initialized = true
			p.TrailingStop.ExtremePrice = p.EntryPrice
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.tracked.Store(p.Key(), struct{}{})
	e.persist(ctx, p)

	e.log.WithFields(map[string]interface{}{
		"exchange": p.Exchange,
		"symbol":   p.Symbol,
		"state":    StateOf(p),
		"stop":     p.StopLossPrice.String(),
	}).Info("Trailing stop armed")
	return nil
}

// Remove stops tracking the symbol. Called by the close path.
func (e *Engine) Remove(exchangeName, symbol string) {
	e.tracked.Delete(model.Key(exchangeName, symbol))
}

func (e *Engine) Tracked(exchangeName, symbol string) bool {
	_, ok := e.tracked.Load(model.Key(exchangeName, symbol))
	return ok
}

// OnPrice feeds a price tick for one symbol. Only that symbol's lock is held, and
// only for this read-modify-write.
func (e *Engine) OnPrice(ctx context.Context, exchangeName, symbol string, price decimal.Decimal) error {
	if !e.Tracked(exchangeName, symbol) || !price.IsPositive() {
		return nil
	}
	unlock, err := e.lock(ctx, exchangeName, symbol)
	if err != nil {
		return err
	}
	defer unlock()

	p, ok := e.deps.Ledger.Get(exchangeName, symbol)
	if !ok || p.Status != model.PositionStatusActive {
		return nil
	}

	next := p
	next.CurrentPrice = price
	next.TrailingStop.ExtremePrice = NextExtreme(p.Side, p.TrailingStop.ExtremePrice, price)

	activatedNow := false
	if !next.TrailingStop.Activated && ReachedActivation(p.Side, p.EntryPrice, price, e.cfg.ActivationPercent) {
		next.TrailingStop.Activated = true
		activatedNow = true
	}

	var stopErr error
	if next.TrailingStop.Activated {
		stop, moved := e.nextStop(ctx, next)
		if moved && !activatedNow && e.throttled(p, stop) {
			moved = false
		}
		if moved {
			orderID, err := e.replaceStop(ctx, p, stop)
			if err != nil {
				stopErr = err
			} else {
				now := e.now()
				next.StopLossPrice = stop
				next.StopLossOrderID = orderID
				next.TrailingStop.LastUpdateTime = &now
			}
		}
	}

	saved, err := e.deps.Ledger.Update(exchangeName, symbol, func(cur *model.Position) error {
		cur.CurrentPrice = next.CurrentPrice
		cur.StopLossPrice = next.StopLossPrice
		cur.StopLossOrderID = next.StopLossOrderID
		cur.TrailingStop = next.TrailingStop
		return nil
	})
	if err != nil {
		return err
	}
	e.persist(ctx, saved)

	fields := map[string]interface{}{
		"exchange":    saved.Exchange,
		"symbol":      saved.Symbol,
		"position_id": saved.ID,
		"price":       price.String(),
		"stop":        saved.StopLossPrice.String(),
	}
	if activatedNow {
		e.log.WithFields(fields).Info("Trailing stop activated")
		e.event(ctx, model.EventTrailingActivated, fields)
	}
	if !saved.StopLossPrice.Equal(p.StopLossPrice) {
		moved := make(map[string]interface{}, len(fields)+2)
		for k, v := range fields {
			moved[k] = v
		}
		moved["previous_stop"] = p.StopLossPrice.String()
		moved["order_id"] = saved.StopLossOrderID
		e.log.WithFields(moved).Info("Trailing stop moved")
		e.event(ctx, model.EventStopLossMoved, moved)
	}
	return stopErr
}

func (e *Engine) nextStop(ctx context.Context, p model.Position) (decimal.Decimal, bool) {
	stop, moved := ComputeNextStopLossDirectional(p.Side, p.StopLossPrice, p.TrailingStop.ExtremePrice,
		p.CurrentPrice, e.cfg.DistancePercent, e.cfg.SafeOffsetPercent)
	if !moved || e.deps.Ticks == nil {
		return stop, moved
	}
	tick, err := e.deps.Ticks(ctx, p.Exchange, p.Symbol)
	if err != nil {
		e.log.WithError(err).WithField("symbol", p.Symbol).Warn("No tick size, using raw stop")
		return stop, moved
	}
	stop = risk.SnapStop(p.Side, stop, tick)
	if p.StopLossPrice.IsZero() {
		return stop, true
	}
	if p.Side == model.SideShort {
		return stop, stop.LessThan(p.StopLossPrice)
	}
	return stop, stop.GreaterThan(p.StopLossPrice)
}

func (e *Engine) throttled(p model.Position, stop decimal.Decimal) bool {
	if last := p.TrailingStop.LastUpdateTime; last != nil && e.now().Sub(*last) < e.cfg.MinUpdateInterval {
		return true
	}
	return Improvement(p.StopLossPrice, stop).LessThan(e.cfg.MinImprovementPercent)
}

// replaceStop places the new stop before cancelling the old one, so the position is
// never naked. The old id leaves the protected set only once the exchange confirms
// it is gone.
func (e *Engine) replaceStop(ctx context.Context, p model.Position, stop decimal.Decimal) (string, error) {
	orders, ok := e.deps.Orders[strings.ToLower(p.Exchange)]
	if !ok {
		return "", fmt.Errorf("trailing stop: no adapter for exchange %q", p.Exchange)
	}
	log := e.log.WithFields(map[string]interface{}{
		"exchange": p.Exchange,
		"symbol":   p.Symbol,
		"stop":     stop.String(),
	})

	ack, err := orders.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        p.Symbol,
		Side:          exchange.ExitSide(p.Side),
		Type:          exchange.OrderTypeStopMarket,
		Quantity:      p.Quantity,
		StopPrice:     stop,
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
		PositionSide:  p.Side,
	})
	if err != nil {
		log.WithError(err).Error("Failed to place replacement stop")
		return "", fmt.Errorf("trailing stop %s: place: %w", p.Key(), err)
	}
	e.deps.Protected.Add(ack.OrderID, p.Key())

	if old := p.StopLossOrderID; old != "" && old != ack.OrderID {
		err := orders.CancelOrder(ctx, old, p.Symbol)
		if err == nil || errors.Is(err, exchange.ErrOrderNotFound) {
			e.deps.Protected.Remove(old)
		} else {
			log.WithError(err).WithField("order_id", old).Warn("Old stop not cancelled, keeping it protected")
		}
	}
	return ack.OrderID, nil
}

func (e *Engine) persist(ctx context.Context, p model.Position) {
	if e.deps.Positions == nil || p.ID == 0 {
		return
	}
	if err := e.deps.Positions.Update(ctx, p.ID, p.StopFields()); err != nil {
		e.log.WithError(err).WithField("position_id", p.ID).Warn("Failed to persist trailing state")
	}
}

func (e *Engine) event(ctx context.Context, eventType string, payload map[string]interface{}) {
	if e.deps.Events == nil {
		return
	}
	if err := e.deps.Events.LogEvent(ctx, eventType, payload); err != nil {
		e.log.WithError(err).WithField("event", eventType).Warn("Failed to log event")
	}
}
