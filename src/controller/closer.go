package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

type PositionStore interface {
	Create(ctx context.Context, p *model.Position) error
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
}

type OrderStore interface {
	Create(ctx context.Context, o *model.Order) error
}

type EventLogger interface {
	LogEvent(ctx context.Context, eventType string, payload map[string]interface{}) error
}

type Trailing interface {
	Arm(ctx context.Context, exchangeName, symbol string) error
	Remove(exchangeName, symbol string)
}

type AgedTracker interface {
	Track(p model.Position)
	Untrack(exchangeName, symbol string)
}

type Alerter interface {
	Critical(ctx context.Context, key, title string, fields map[string]interface{})
}

type CloseVerifier interface {
	ConfirmClosed(ctx context.Context, symbol string) error
}

// Closer owns the one path every position leaves the ledger through, whether it
// was closed by us, stopped out, rolled back or found orphaned.
type Closer struct {
	ex        exchange.Adapter
	ledger    *ledger.Ledger
	locks     *ledger.SymbolLocks
	protected *ledger.ProtectedOrders
	trailing  Trailing
	aged      AgedTracker
	verifier  CloseVerifier
	positions PositionStore
	orders    OrderStore
	events    EventLogger
	now       func() time.Time
	log       *logger.Entry
}

type CloserDeps struct {
	Ledger    *ledger.Ledger
	Locks     *ledger.SymbolLocks
	Protected *ledger.ProtectedOrders
	Trailing  Trailing
	Aged      AgedTracker
	Verifier  CloseVerifier
	Positions PositionStore
	Orders    OrderStore
	Events    EventLogger
}

func NewCloser(ex exchange.Adapter, deps CloserDeps) *Closer {
	return &Closer{
		ex:        ex,
		ledger:    deps.Ledger,
		locks:     deps.Locks,
		protected: deps.Protected,
		trailing:  deps.Trailing,
		aged:      deps.Aged,
		verifier:  deps.Verifier,
		positions: deps.Positions,
		orders:    deps.Orders,
		events:    deps.Events,
		now:       time.Now,
		log: logger.WithFields(map[string]interface{}{
			"component": "closer",
			"exchange":  ex.Name(),
		}),
	}
}

// ClosePosition sends a reduce-only market close for the whole position, waits
// for the exchange to report it flat and then finalizes it.
func (c *Closer) ClosePosition(ctx context.Context, symbol, reason string) error {
	symbol = exchange.NormalizeSymbol(symbol)
	unlock, err := c.locks.Lock(ctx, c.ex.Name(), symbol)
	if err != nil {
		return err
	}
	defer unlock()

	p, err := c.ledger.Update(c.ex.Name(), symbol, func(p *model.Position) error {
		if !p.IsLive() {
			return fmt.Errorf("close %s: already closed", p.Key())
		}
		p.Status = model.PositionStatusClosing
		return nil
	})
	if err != nil {
		return err
	}
	c.persist(ctx, p.ID, map[string]interface{}{"status": p.Status})

	ack, err := c.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          exchange.ExitSide(p.Side),
		Type:          exchange.OrderTypeMarket,
		Quantity:      p.Quantity,
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
		PositionSide:  p.Side,
	})
	if err != nil {
		return fmt.Errorf("close %s: %w", p.Key(), err)
	}
	recordOrder(ctx, c.orders, c.log, p, ack, model.OrderTypeClose, exchange.ExitSide(p.Side), p.Quantity)

	if c.verifier != nil {
		if err := c.verifier.ConfirmClosed(ctx, symbol); err != nil {
			return fmt.Errorf("close %s: %w", p.Key(), err)
		}
	}
	return c.Finalize(ctx, p, reason)
}

// Finalize runs the cleanup for a position the exchange no longer holds: stop
// trailing, stop aged tracking, release the stop order, persist and log, then
// drop it from the ledger. The caller holds the symbol lock.
func (c *Closer) Finalize(ctx context.Context, p model.Position, reason string) error {
	log := c.log.WithFields(map[string]interface{}{
		"symbol":      p.Symbol,
		"position_id": p.ID,
		"reason":      reason,
	})

	if c.trailing != nil {
		c.trailing.Remove(p.Exchange, p.Symbol)
	}
	if c.aged != nil {
		c.aged.Untrack(p.Exchange, p.Symbol)
	}
	c.releaseStop(ctx, p, log)

	closedAt := c.now()
	p.Status = model.PositionStatusClosed
	p.ClosedAt = &closedAt
	p.ExitReason = reason
	if _, err := c.ledger.Update(p.Exchange, p.Symbol, func(cur *model.Position) error {
		cur.Status = p.Status
		cur.ClosedAt = p.ClosedAt
		cur.ExitReason = reason
		return nil
	}); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return err
	}
	c.persist(ctx, p.ID, map[string]interface{}{
		"status":      p.Status,
		"closed_at":   closedAt,
		"exit_reason": reason,
	})
	c.event(ctx, model.EventPositionClosed, map[string]interface{}{
		"exchange":    p.Exchange,
		"symbol":      p.Symbol,
		"position_id": p.ID,
		"reason":      reason,
		"quantity":    p.Quantity.String(),
	})
	c.ledger.Remove(p.Exchange, p.Symbol)

	log.Info("Position finalized")
	return nil
}

// releaseStop cancels the position's stop order. The id stays protected unless the
// exchange confirms it is gone.
func (c *Closer) releaseStop(ctx context.Context, p model.Position, log *logger.Entry) {
	if !p.HasProtection() {
		return
	}
	err := c.ex.CancelOrder(ctx, p.StopLossOrderID, p.Symbol)
	if err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
		log.WithError(err).WithField("order_id", p.StopLossOrderID).Warn("Stop order not released")
		return
	}
	c.protected.Remove(p.StopLossOrderID)
}

func (c *Closer) persist(ctx context.Context, id uint, fields map[string]interface{}) {
	if c.positions == nil || id == 0 {
		return
	}
	if err := c.positions.Update(ctx, id, fields); err != nil {
		c.log.WithError(err).WithField("position_id", id).Warn("Failed to persist position")
	}
}

func (c *Closer) event(ctx context.Context, eventType string, payload map[string]interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.LogEvent(ctx, eventType, payload); err != nil {
		c.log.WithError(err).WithField("event", eventType).Warn("Failed to log event")
	}
}

// recordOrder mirrors an accepted order into the orders table.
func recordOrder(ctx context.Context, store OrderStore, log *logger.Entry, p model.Position, ack *exchange.OrderAck,
	orderType string, side exchange.OrderSide, qty decimal.Decimal) {
	if store == nil || ack == nil {
		return
	}
	rec := &model.Order{
		ExchangeOrderID:   ack.OrderID,
		ClientOrderID:     ack.ClientOrderID,
		Exchange:          p.Exchange,
		Symbol:            p.Symbol,
		Type:              orderType,
		Side:              strings.ToLower(string(side)),
		RequestedQuantity: qty,
		FilledQuantity:    ack.FilledQuantity,
		Price:             ack.AvgPrice,
		Status:            ack.Status,
	}
	if p.ID != 0 {
		id := p.ID
		rec.PositionID = &id
	}
	if rec.Status == "" {
		rec.Status = model.OrderStatusNew
	}
	if err := store.Create(ctx, rec); err != nil {
		log.WithError(err).WithField("order_id", ack.OrderID).Warn("Failed to record order")
	}
}
