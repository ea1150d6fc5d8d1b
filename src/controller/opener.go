package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
	"github.com/JacobJanuary/TradingBot-sub006/src/risk"
	"github.com/JacobJanuary/TradingBot-sub006/src/utils"
	"github.com/JacobJanuary/TradingBot-sub006/src/verifier"
)

// OpenRequest asks for a new position. Side accepts long/short/buy/sell in any case.
// A zero StopLossPercent uses the configured default.
type OpenRequest struct {
	Symbol          string
	Side            string
	Quantity        decimal.Decimal
	StopLossPercent decimal.Decimal
}

type Guard interface {
	Normalize(ctx context.Context, m risk.Market, req risk.Request) (*risk.Normalized, error)
}

type OpenVerifier interface {
	ConfirmOpen(ctx context.Context, orderID, symbol string) (verifier.Confirmation, error)
	ConfirmClosed(ctx context.Context, symbol string) error
}

type OpenerDeps struct {
	Ledger     *ledger.Ledger
	Locks      *ledger.SymbolLocks
	Protected  *ledger.ProtectedOrders
	Guard      Guard
	Verifier   OpenVerifier
	Closer     *Closer
	Trailing   Trailing
	Aged       AgedTracker
	Alerter    Alerter
	Positions  PositionStore
	Orders     OrderStore
	Events     EventLogger
	Exceptions ExceptionStore
}

// Opener opens a position on one exchange so that it either ends up active with a
// stop-loss attached, or nothing is left open.
type Opener struct {
	ex    exchange.Adapter
	cfg   Config
	deps  OpenerDeps
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	log   *logger.Entry
}

func NewOpener(ex exchange.Adapter, cfg Config, deps OpenerDeps) *Opener {
	if cfg.StopLossAttempts <= 0 {
		cfg.StopLossAttempts = 1
	}
	if cfg.RollbackAttempts <= 0 {
		cfg.RollbackAttempts = 1
	}
	return &Opener{
		ex:    ex,
		cfg:   cfg,
		deps:  deps,
		sleep: utils.Sleep,
		now:   time.Now,
		log: logger.WithFields(map[string]interface{}{
			"component": "opener",
			"exchange":  ex.Name(),
		}),
	}
}

func (o *Opener) backoff() utils.Backoff {
	return utils.Backoff{Initial: o.cfg.RetryInitialDelay, Multiplier: o.cfg.RetryMultiplier, Max: o.cfg.RetryMaxDelay}
}

// OpenPosition runs reserve, normalize, entry, verify, stop-loss. Any failure after
// the entry order was accepted is rolled back with a reduce-only close of the
// normalized requested quantity.
func (o *Opener) OpenPosition(ctx context.Context, req OpenRequest) (*model.Position, error) {
	name := o.ex.Name()
	symbol := exchange.NormalizeSymbol(req.Symbol)
	side := model.NormalizeSide(req.Side)
	if side == "" {
		return nil, &DeclinedError{Exchange: name, Symbol: symbol, Reason: fmt.Sprintf("unknown side %q", req.Side)}
	}
	slPercent := req.StopLossPercent
	if !slPercent.IsPositive() {
		slPercent = o.cfg.StopLossPercent
	}
	log := o.log.WithFields(map[string]interface{}{"symbol": symbol, "side": side})

	release, err := o.deps.Ledger.Reserve(name, symbol)
	if err != nil {
		return nil, &DeclinedError{Exchange: name, Symbol: symbol, Reason: "slot taken", Err: err}
	}
	defer release()

	norm, err := o.deps.Guard.Normalize(ctx, o.ex, risk.Request{Symbol: symbol, Side: side, Quantity: req.Quantity})
	if err != nil {
		if exchange.IsValidation(err) || exchange.KindOf(err) == exchange.KindRejected {
			log.WithError(err).Warn("Open declined by risk guard")
			return nil, &DeclinedError{Exchange: name, Symbol: symbol, Reason: "risk check", Err: err}
		}
		return nil, fmt.Errorf("open %s: normalize: %w", model.Key(name, symbol), err)
	}

	clientID := uuid.NewString()
	ack, err := o.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          exchange.EntrySide(side),
		Type:          exchange.OrderTypeMarket,
		Quantity:      norm.Quantity,
		ClientOrderID: clientID,
		PositionSide:  side,
	})
	if err != nil {
		if exchange.IsValidation(err) {
			return nil, &DeclinedError{Exchange: name, Symbol: symbol, Reason: "entry rejected", Err: err}
		}
		if !exchange.IsTransient(err) && exchange.KindOf(err) != exchange.KindUnknown {
			log.WithError(err).Error("Entry order failed")
			return nil, fmt.Errorf("open %s: place entry: %w", model.Key(name, symbol), err)
		}
		// The request may have reached the exchange.
		placeErr := err
		ack, err = o.resolveEntry(ctx, clientID, symbol)
		if err != nil {
			log.WithError(err).WithField("client_id", clientID).Warn("Entry outcome unknown, verifying by position")
			ack = &exchange.OrderAck{ClientOrderID: clientID, Status: model.OrderStatusNew}
		}
		if ack == nil {
			log.WithError(placeErr).Error("Entry order failed")
			return nil, fmt.Errorf("open %s: place entry: %w", model.Key(name, symbol), placeErr)
		}
		log.WithError(placeErr).WithField("order_id", ack.OrderID).Warn("Entry accepted despite failed response")
	}

	// From here on an order exists: hold the symbol lock until the position is
	// either protected or rolled back.
	unlock, err := o.deps.Locks.Lock(context.WithoutCancel(ctx), name, symbol)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p := model.Position{
		Symbol:     symbol,
		Exchange:   name,
		Side:       side,
		Quantity:   norm.Quantity,
		EntryPrice: ack.AvgPrice,
		Status:     model.PositionStatusPending,
		OpenedAt:   o.now(),
	}
	o.create(ctx, &p)
	if err := o.deps.Ledger.Put(p); err != nil {
		return nil, err
	}
	recordOrder(ctx, o.deps.Orders, o.log, p, ack, model.OrderTypeEntry, exchange.EntrySide(side), norm.Quantity)
	o.event(ctx, model.EventPositionCreated, p, map[string]interface{}{
		"order_id":  ack.OrderID,
		"client_id": clientID,
		"quantity":  norm.Quantity.String(),
	})
	log = log.WithField("position_id", p.ID)
	log.WithField("order_id", ack.OrderID).Info("Entry accepted, verifying")

	conf, err := o.deps.Verifier.ConfirmOpen(ctx, ack.OrderID, symbol)
	if err != nil {
		log.WithError(err).Warn("Entry not confirmed, rolling back")
		if rbErr := o.rollback(ctx, p, norm.Quantity, model.ExitReasonUnconfirmed, err); rbErr != nil {
			return nil, rbErr
		}
		return nil, fmt.Errorf("open %s: %w", p.Key(), err)
	}

	p, err = o.activate(ctx, p, conf, norm)
	if err != nil {
		return nil, err
	}

	stop, err := risk.StopLossPrice(side, p.EntryPrice, slPercent)
	if err != nil {
		return nil, err
	}
	stop = risk.SnapStop(side, stop, norm.Rules.TickSize)

	p, err = o.attachStopLoss(ctx, p, stop)
	if err != nil {
		log.WithError(err).Error("Stop-loss attach failed, rolling back")
		if rbErr := o.rollback(ctx, p, norm.Quantity, model.ExitReasonRollback, err); rbErr != nil {
			return nil, rbErr
		}
		return nil, fmt.Errorf("open %s: %w: %v", p.Key(), ErrStopLossAttach, err)
	}

	unlock()
	if o.deps.Trailing != nil {
		if err := o.deps.Trailing.Arm(ctx, name, symbol); err != nil {
			log.WithError(err).Warn("Failed to arm trailing stop")
		}
	}
	if o.deps.Aged != nil {
		o.deps.Aged.Track(p)
	}

	log.WithFields(map[string]interface{}{
		"entry":    p.EntryPrice.String(),
		"quantity": p.Quantity.String(),
		"stop":     p.StopLossPrice.String(),
	}).Info("Position opened and protected")
	return &p, nil
}

// activate marks the position active with the confirmed fill. The entry price is
// set only if the entry ack did not already carry it.
func (o *Opener) activate(ctx context.Context, p model.Position, conf verifier.Confirmation, norm *risk.Normalized) (model.Position, error) {
	updated, err := o.deps.Ledger.Update(p.Exchange, p.Symbol, func(cur *model.Position) error {
		cur.Status = model.PositionStatusActive
		if cur.EntryPrice.IsZero() {
			cur.EntryPrice = conf.AvgPrice
		}
		if cur.EntryPrice.IsZero() {
			cur.EntryPrice = norm.Price
		}
		if conf.Quantity.IsPositive() && conf.Quantity.LessThan(cur.Quantity) {
			cur.Quantity = conf.Quantity
		}
		cur.CurrentPrice = cur.EntryPrice
		return nil
	})
	if err != nil {
		return p, err
	}
	o.persist(ctx, updated.ID, map[string]interface{}{
		"status":        updated.Status,
		"entry_price":   updated.EntryPrice,
		"current_price": updated.CurrentPrice,
		"quantity":      updated.Quantity,
	})
	o.event(ctx, model.EventPositionActivated, updated, map[string]interface{}{
		"source":   string(conf.Source),
		"entry":    updated.EntryPrice.String(),
		"quantity": updated.Quantity.String(),
	})
	return updated, nil
}

// attachStopLoss places the reduce-only stop with retries. The order id is
// protected the moment the exchange accepts it.
func (o *Opener) attachStopLoss(ctx context.Context, p model.Position, stop decimal.Decimal) (model.Position, error) {
	backoff := o.backoff()
	var lastErr error
	for attempt := 0; attempt < o.cfg.StopLossAttempts; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, backoff.Delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		ack, err := o.ex.PlaceOrder(ctx, exchange.OrderRequest{
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
			lastErr = err
			o.log.WithError(err).WithFields(map[string]interface{}{
				"symbol":  p.Symbol,
				"attempt": attempt + 1,
				"stop":    stop.String(),
			}).Warn("Stop-loss placement failed")
			if exchange.IsValidation(err) {
				break
			}
			continue
		}
		o.deps.Protected.Add(ack.OrderID, p.Key())

		updated, err := o.deps.Ledger.Update(p.Exchange, p.Symbol, func(cur *model.Position) error {
			cur.StopLossPrice = stop
			cur.StopLossOrderID = ack.OrderID
			return nil
		})
		if err != nil {
			return p, err
		}
		o.persist(ctx, updated.ID, map[string]interface{}{
			"stop_loss_price":    updated.StopLossPrice,
			"stop_loss_order_id": updated.StopLossOrderID,
		})
		recordOrder(ctx, o.deps.Orders, o.log, updated, ack, model.OrderTypeStopLoss, exchange.ExitSide(p.Side), p.Quantity)
		o.event(ctx, model.EventStopLossAttached, updated, map[string]interface{}{
			"order_id": ack.OrderID,
			"stop":     stop.String(),
			"attempts": attempt + 1,
		})
		return updated, nil
	}
	return p, lastErr
}

// rollback closes qty with a reduce-only market order and succeeds only once the
// exchange reports the symbol flat. When every attempt fails the position stays in
// the ledger, marked rollback_failed, and a CRITICAL alert goes out.
func (o *Opener) rollback(ctx context.Context, p model.Position, qty decimal.Decimal, reason string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RollbackTimeout)
	defer cancel()
	log := o.log.WithFields(map[string]interface{}{
		"symbol":      p.Symbol,
		"position_id": p.ID,
		"quantity":    qty.String(),
		"reason":      reason,
	})

	if p.Status == model.PositionStatusActive || p.Status == model.PositionStatusPending {
		if updated, err := o.deps.Ledger.Update(p.Exchange, p.Symbol, func(cur *model.Position) error {
			cur.Status = model.PositionStatusClosing
			return nil
		}); err == nil {
			p = updated
			o.persist(ctx, p.ID, map[string]interface{}{"status": p.Status})
		}
	}

	backoff := o.backoff()
	var lastErr error
	closed := false
	for attempt := 0; attempt < o.cfg.RollbackAttempts && !closed; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, backoff.Delay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		ack, err := o.ex.PlaceOrder(ctx, exchange.OrderRequest{
			Symbol:        p.Symbol,
			Side:          exchange.ExitSide(p.Side),
			Type:          exchange.OrderTypeMarket,
			Quantity:      qty,
			ReduceOnly:    true,
			ClientOrderID: uuid.NewString(),
			PositionSide:  p.Side,
		})
		switch {
		case err == nil:
			recordOrder(ctx, o.deps.Orders, o.log, p, ack, model.OrderTypeClose, exchange.ExitSide(p.Side), qty)
		case exchange.KindOf(err) == exchange.KindRejected:
			log.WithError(err).Info("Reduce-only close rejected, checking the exchange is flat")
		default:
			lastErr = err
			log.WithError(err).WithField("attempt", attempt+1).Warn("Rollback attempt failed")
			continue
		}
		// Accepted or rejected, only a flat exchange position ends the rollback.
		if err := o.deps.Verifier.ConfirmClosed(ctx, p.Symbol); err != nil {
			lastErr = err
			log.WithError(err).WithField("attempt", attempt+1).Warn("Position still open after rollback close")
			continue
		}
		closed = true
	}

	if !closed {
		return o.rollbackFailed(ctx, p, qty, cause, lastErr)
	}

	o.event(ctx, model.EventRollback, p, map[string]interface{}{
		"reason":   reason,
		"quantity": qty.String(),
		"cause":    errString(cause),
	})
	if o.deps.Closer != nil {
		if err := o.deps.Closer.Finalize(ctx, p, reason); err != nil {
			log.WithError(err).Warn("Finalize after rollback failed")
		}
	} else {
		o.deps.Ledger.Remove(p.Exchange, p.Symbol)
	}
	log.Warn("Open rolled back")
	return nil
}

// resolveEntry looks the entry up by its client id after a placement whose outcome
// is unknown. (nil, nil) means the exchange never saw it.
func (o *Opener) resolveEntry(ctx context.Context, clientID, symbol string) (*exchange.OrderAck, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RollbackTimeout)
	defer cancel()
	backoff := o.backoff()
	var lastErr error
	for attempt := 0; attempt < o.cfg.RollbackAttempts; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, backoff.Delay(attempt-1)); err != nil {
				return nil, err
			}
		}
		ord, err := o.ex.FetchOrderByClientID(ctx, clientID, symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if ord == nil {
			return nil, nil
		}
		return &exchange.OrderAck{
			OrderID:        ord.ID,
			ClientOrderID:  clientID,
			Status:         ord.Status,
			FilledQuantity: ord.FilledQuantity,
			AvgPrice:       ord.AvgPrice,
		}, nil
	}
	return nil, lastErr
}

func (o *Opener) rollbackFailed(ctx context.Context, p model.Position, qty decimal.Decimal, cause, lastErr error) error {
	if lastErr == nil {
		lastErr = errors.New("no attempt made")
	}
	if updated, err := o.deps.Ledger.Update(p.Exchange, p.Symbol, func(cur *model.Position) error {
		cur.ExitReason = model.ExitReasonRollbackFail
		return nil
	}); err == nil {
		p = updated
	}
	o.persist(ctx, p.ID, map[string]interface{}{"exit_reason": model.ExitReasonRollbackFail})

	fields := map[string]interface{}{
		"exchange":    p.Exchange,
		"symbol":      p.Symbol,
		"position_id": p.ID,
		"side":        string(p.Side),
		"quantity":    qty.String(),
		"cause":       errString(cause),
		"error":       lastErr.Error(),
	}
	o.event(ctx, model.EventRollbackFailed, p, fields)
	if o.deps.Alerter != nil {
		o.deps.Alerter.Critical(ctx, p.Key(), "Rollback failed, position may be open without stop-loss", fields)
	}
	Capture(ctx, o.deps.Exceptions, "position_guard", "opener", "rollback", model.ExceptionLevelCritical, lastErr, fields)
	return fmt.Errorf("open %s: %w: %v", p.Key(), ErrRollbackFailed, lastErr)
}

func (o *Opener) create(ctx context.Context, p *model.Position) {
	if o.deps.Positions == nil {
		return
	}
	if err := o.deps.Positions.Create(ctx, p); err != nil {
		o.log.WithError(err).WithField("symbol", p.Symbol).Warn("Failed to persist new position")
	}
}

func (o *Opener) persist(ctx context.Context, id uint, fields map[string]interface{}) {
	if o.deps.Positions == nil || id == 0 {
		return
	}
	if err := o.deps.Positions.Update(ctx, id, fields); err != nil {
		o.log.WithError(err).WithField("position_id", id).Warn("Failed to persist position")
	}
}

func (o *Opener) event(ctx context.Context, eventType string, p model.Position, payload map[string]interface{}) {
	if o.deps.Events == nil {
		return
	}
	fields := copyFields(payload, "exchange", p.Exchange, "symbol", p.Symbol, "position_id", p.ID)
	if err := o.deps.Events.LogEvent(ctx, eventType, fields); err != nil {
		o.log.WithError(err).WithField("event", eventType).Warn("Failed to log event")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
