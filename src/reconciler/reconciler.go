// Package reconciler compares the ledger against the exchange positions snapshot and
// repairs the ledger toward the exchange.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

type Exchange interface {
	Name() string
	FetchPositions(ctx context.Context, symbols ...string) ([]exchange.Position, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, p model.Position, reason string) error
}

type PositionStore interface {
	Create(ctx context.Context, p *model.Position) error
	Update(ctx context.Context, id uint, fields map[string]interface{}) error
}

type RecordStore interface {
	Create(ctx context.Context, rec *model.ReconciliationRecord) error
}

type EventLogger interface {
	LogEvent(ctx context.Context, eventType string, payload map[string]interface{}) error
}

type Alerter interface {
	Critical(ctx context.Context, key, title string, fields map[string]interface{})
}

type AgedTracker interface {
	Track(p model.Position)
}

type Deps struct {
	Ledger    *ledger.Ledger
	Locks     *ledger.SymbolLocks
	Closer    Finalizer
	Positions PositionStore
	Records   RecordStore
	Events    EventLogger
	Alerter   Alerter
	Aged      AgedTracker
}

// Report summarizes one sweep. Records holds one entry per discrepancy.
type Report struct {
	Exchange  string
	CheckedAt time.Time
	Records   []model.ReconciliationRecord
}

func (r Report) Discrepancies() int { return len(r.Records) }

func (r Report) Count(discrepancyType string) int {
	n := 0
	for _, rec := range r.Records {
		if rec.DiscrepancyType == discrepancyType {
			n++
		}
	}
	return n
}

type Reconciler struct {
	ex   Exchange
	cfg  Config
	deps Deps
	now  func() time.Time
	log  *logger.Entry

	mu          sync.Mutex // one sweep at a time
	unprotected map[string]time.Time
}

func New(ex Exchange, cfg Config, deps Deps) *Reconciler {
	return &Reconciler{
		ex:          ex,
		cfg:         cfg,
		deps:        deps,
		now:         time.Now,
		unprotected: make(map[string]time.Time),
		log: logger.WithFields(map[string]interface{}{
			"component": "reconciler",
			"exchange":  ex.Name(),
		}),
	}
}

// Sweep runs one three-way comparison for the exchange. Pending positions are left
// to the opener that owns them.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := r.ex.Name()
	report := Report{Exchange: name, CheckedAt: r.now()}

	// The ledger is read first so a position activated while the snapshot is in
	// flight is absent from both sides rather than looking orphaned.
	local := make(map[string]model.Position)
	for _, p := range r.deps.Ledger.ByExchange(name) {
		local[exchange.NormalizeSymbol(p.Symbol)] = p
	}
	snapshot, err := r.ex.FetchPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("reconcile %s: fetch positions: %w", name, err)
	}
	remote := make(map[string]exchange.Position, len(snapshot))
	for _, p := range snapshot {
		if p.Quantity.IsPositive() {
			p.Symbol = exchange.NormalizeSymbol(p.Symbol)
			remote[p.Symbol] = p
		}
	}

	for _, symbol := range sortedKeys(remote) {
		ep := remote[symbol]
		lp, ok := local[symbol]
		switch {
		case !ok:
			r.phantom(ctx, &report, ep)
		case lp.Status == model.PositionStatusActive:
			r.compareQuantity(ctx, &report, ep)
		}
	}

	for _, symbol := range sortedKeys(local) {
		if _, ok := remote[symbol]; ok {
			continue
		}
		if local[symbol].Status == model.PositionStatusPending {
			continue
		}
		r.orphan(ctx, &report, local[symbol])
	}

	r.checkProtection(ctx, &report)

	entry := r.log.WithFields(map[string]interface{}{
		"exchange_positions": len(remote),
		"local_positions":    len(local),
		"discrepancies":      report.Discrepancies(),
	})
	if report.Discrepancies() > 0 {
		entry.Warn("Reconciliation found discrepancies")
	} else {
		entry.Debug("Reconciliation clean")
	}
	return report, nil
}

// phantom inserts an exchange position the ledger does not know. An open in flight
// holds the slot reservation, so a failed Reserve means the opener will record it.
func (r *Reconciler) phantom(ctx context.Context, report *Report, ep exchange.Position) {
	name := r.ex.Name()
	release, err := r.deps.Ledger.Reserve(name, ep.Symbol)
	if err != nil {
		return
	}
	defer release()
	unlock, err := r.deps.Locks.Lock(ctx, name, ep.Symbol)
	if err != nil {
		return
	}
	defer unlock()
	if _, ok := r.deps.Ledger.Get(name, ep.Symbol); ok {
		return
	}

	p := model.Position{
		Symbol:       ep.Symbol,
		Exchange:     name,
		Side:         ep.Side,
		Quantity:     ep.Quantity,
		EntryPrice:   ep.EntryPrice,
		CurrentPrice: ep.MarkPrice,
		Status:       model.PositionStatusActive,
		OpenedAt:     r.now(),
	}
	if r.deps.Positions != nil {
		if err := r.deps.Positions.Create(ctx, &p); err != nil {
			r.log.WithError(err).WithField("symbol", p.Symbol).Warn("Failed to persist phantom position")
		}
	}
	if err := r.deps.Ledger.Put(p); err != nil {
		r.log.WithError(err).WithField("symbol", p.Symbol).Error("Failed to insert phantom position")
		return
	}
	if r.deps.Aged != nil {
		r.deps.Aged.Track(p)
	}
	r.log.WithFields(map[string]interface{}{
		"symbol":   p.Symbol,
		"side":     p.Side,
		"quantity": p.Quantity.String(),
	}).Warn("Phantom position inserted")
	r.record(ctx, report, p, model.DiscrepancyPhantom, "inserted", decimal.Zero, ep.Quantity)
	r.event(ctx, model.EventPhantomInserted, p, map[string]interface{}{"quantity": ep.Quantity.String()})
}

// compareQuantity moves the ledger quantity to the exchange value when the two
// differ by more than the relative tolerance.
func (r *Reconciler) compareQuantity(ctx context.Context, report *Report, ep exchange.Position) {
	name := r.ex.Name()
	unlock, err := r.deps.Locks.Lock(ctx, name, ep.Symbol)
	if err != nil {
		return
	}
	defer unlock()

	lp, ok := r.deps.Ledger.Get(name, ep.Symbol)
	if !ok || lp.Status != model.PositionStatusActive {
		return
	}
	if lp.Side != ep.Side {
		r.log.WithFields(map[string]interface{}{
			"symbol":        ep.Symbol,
			"local_side":    lp.Side,
			"exchange_side": ep.Side,
		}).Error("Position side differs from exchange")
		r.record(ctx, report, lp, model.DiscrepancyQuantityMismatch, "side differs, left for review", lp.Quantity, ep.Quantity)
		return
	}
	if WithinTolerance(lp.Quantity, ep.Quantity, r.cfg.QuantityTolerance) {
		return
	}

	updated, err := r.deps.Ledger.Update(name, ep.Symbol, func(p *model.Position) error {
		p.Quantity = ep.Quantity
		return nil
	})
	if err != nil {
		r.log.WithError(err).WithField("symbol", ep.Symbol).Error("Failed to correct quantity")
		return
	}
	if r.deps.Positions != nil && updated.ID != 0 {
		if err := r.deps.Positions.Update(ctx, updated.ID, map[string]interface{}{"quantity": updated.Quantity}); err != nil {
			r.log.WithError(err).WithField("position_id", updated.ID).Warn("Failed to persist quantity")
		}
	}
	r.log.WithFields(map[string]interface{}{
		"symbol": ep.Symbol,
		"local":  lp.Quantity.String(),
		"remote": ep.Quantity.String(),
	}).Warn("Quantity corrected to exchange value")
	r.record(ctx, report, updated, model.DiscrepancyQuantityMismatch, "updated to exchange quantity", lp.Quantity, ep.Quantity)
	r.event(ctx, model.EventQuantityCorrected, updated, map[string]interface{}{
		"from": lp.Quantity.String(),
		"to":   ep.Quantity.String(),
	})
}

// orphan finalizes a ledger position the exchange no longer holds. Under the symbol
// lock the entry must still be the one the sweep saw, and a fresh single-symbol
// fetch must confirm the exchange is flat.
func (r *Reconciler) orphan(ctx context.Context, report *Report, seen model.Position) {
	name := r.ex.Name()
	symbol := exchange.NormalizeSymbol(seen.Symbol)
	unlock, err := r.deps.Locks.Lock(ctx, name, symbol)
	if err != nil {
		return
	}
	defer unlock()

	p, ok := r.deps.Ledger.Get(name, symbol)
	if !ok || p.Status == model.PositionStatusPending {
		return
	}
	if p.ID != seen.ID || p.OpenedAt.After(report.CheckedAt) {
		return
	}
	held, err := r.ex.FetchPositions(ctx, symbol)
	if err != nil {
		r.log.WithError(err).WithField("symbol", symbol).Warn("Orphan recheck failed, leaving position for next sweep")
		return
	}
	for _, ep := range held {
		if ep.Quantity.IsPositive() && exchange.NormalizeSymbol(ep.Symbol) == symbol {
			r.log.WithField("symbol", symbol).Info("Position reappeared on recheck, not orphaned")
			return
		}
	}
	resolution := "closed"
	if r.deps.Closer != nil {
		if err := r.deps.Closer.Finalize(ctx, p, model.ExitReasonOrphaned); err != nil {
			r.log.WithError(err).WithField("symbol", symbol).Error("Failed to finalize orphaned position")
			resolution = "finalize failed: " + err.Error()
		}
	} else {
		r.deps.Ledger.Remove(name, symbol)
	}
	r.log.WithFields(map[string]interface{}{
		"symbol":      symbol,
		"position_id": p.ID,
	}).Warn("Orphaned position cleaned up")
	r.record(ctx, report, p, model.DiscrepancyOrphaned, resolution, p.Quantity, decimal.Zero)
	r.event(ctx, model.EventOrphanCleaned, p, map[string]interface{}{"quantity": p.Quantity.String()})
}

// checkProtection raises a CRITICAL alert for every active or closing position that
// has been without a stop order for longer than the grace period.
func (r *Reconciler) checkProtection(ctx context.Context, report *Report) {
	now := r.now()
	seen := make(map[string]bool)
	for _, p := range r.deps.Ledger.ByExchange(r.ex.Name()) {
		if !needsProtection(p) {
			continue
		}
		key := p.Key()
		seen[key] = true
		since, ok := r.unprotected[key]
		if !ok {
			since = p.OpenedAt
			if since.IsZero() || since.After(now) {
				since = now
			}
			r.unprotected[key] = since
		}
		if now.Sub(since) < r.cfg.ProtectionGrace {
			continue
		}
		fields := map[string]interface{}{
			"exchange":    p.Exchange,
			"symbol":      p.Symbol,
			"position_id": p.ID,
			"side":        string(p.Side),
			"quantity":    p.Quantity.String(),
			"unprotected": now.Sub(since).Round(time.Second).String(),
		}
		if r.deps.Alerter != nil {
			r.deps.Alerter.Critical(ctx, key, "Position has no stop-loss", fields)
		}
		r.record(ctx, report, p, model.DiscrepancyMissingProtection, "alerted", p.Quantity, p.Quantity)
		r.event(ctx, model.EventMissingProtection, p, fields)
	}
	for key := range r.unprotected {
		if !seen[key] {
			delete(r.unprotected, key)
		}
	}
}

func needsProtection(p model.Position) bool {
	if p.HasProtection() {
		return false
	}
	return p.Status == model.PositionStatusActive || p.Status == model.PositionStatusClosing
}

func (r *Reconciler) record(ctx context.Context, report *Report, p model.Position, kind, resolution string, local, remote decimal.Decimal) {
	rec := model.ReconciliationRecord{
		Exchange:         r.ex.Name(),
		Symbol:           p.Symbol,
		CheckedAt:        report.CheckedAt,
		DiscrepancyType:  kind,
		Resolution:       resolution,
		LocalQuantity:    local,
		ExchangeQuantity: remote,
	}
	if p.ID != 0 {
		id := p.ID
		rec.PositionID = &id
	}
	if r.deps.Records != nil {
		if err := r.deps.Records.Create(ctx, &rec); err != nil {
			r.log.WithError(err).WithField("symbol", p.Symbol).Warn("Failed to store reconciliation record")
		}
	}
	report.Records = append(report.Records, rec)
}

func (r *Reconciler) event(ctx context.Context, eventType string, p model.Position, payload map[string]interface{}) {
	if r.deps.Events == nil {
		return
	}
	fields := make(map[string]interface{}, len(payload)+3)
	for k, v := range payload {
		fields[k] = v
	}
	fields["exchange"] = p.Exchange
	fields["symbol"] = p.Symbol
	fields["position_id"] = p.ID
	if err := r.deps.Events.LogEvent(ctx, eventType, fields); err != nil {
		r.log.WithError(err).WithField("event", eventType).Warn("Failed to log event")
	}
}

// NextInterval is the wait before the next sweep: short after discrepancies, the
// baseline after a clean sweep or an error.
func (r *Reconciler) NextInterval(report Report, err error) time.Duration {
	if err == nil && report.Discrepancies() > 0 && r.cfg.FastInterval > 0 {
		return r.cfg.FastInterval
	}
	if r.cfg.Interval <= 0 {
		return time.Minute
	}
	return r.cfg.Interval
}

// Run sweeps until ctx is done, adapting the interval to the last result.
func (r *Reconciler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return nil
		case <-timer.C:
			report, err := r.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.log.WithError(err).Warn("Reconciliation sweep failed")
			}
			timer.Reset(r.NextInterval(report, err))
		}
	}
}

// WithinTolerance reports whether local and remote differ by at most tol relative
// to remote.
func WithinTolerance(local, remote, tol decimal.Decimal) bool {
	if remote.IsZero() {
		return local.IsZero()
	}
	diff := local.Sub(remote).Abs()
	return diff.Div(remote.Abs()).LessThanOrEqual(tol)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
