// Package zombie cancels open orders left behind by positions that no longer exist.
package zombie

import (
	"context"
	"errors"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

type Exchange interface {
	Name() string
	FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
}

type EventLogger interface {
	LogEvent(ctx context.Context, eventType string, payload map[string]interface{}) error
}

type Deps struct {
	Ledger    *ledger.Ledger
	Protected *ledger.ProtectedOrders
	Events    EventLogger
}

// Result counts what one sweep saw and did.
type Result struct {
	Checked   int
	Canceled  []string
	Protected int // skipped: protected set or protective type
	Live      int // skipped: symbol has a live position
	Young     int // skipped: younger than MinAge
	Failed    int
}

type Guard struct {
	ex   Exchange
	cfg  Config
	deps Deps
	now  func() time.Time
	log  *logger.Entry
}

func New(ex Exchange, cfg Config, deps Deps) *Guard {
	return &Guard{
		ex:   ex,
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		log: logger.WithFields(map[string]interface{}{
			"component": "zombie_guard",
			"exchange":  ex.Name(),
		}),
	}
}

var protectiveKeywords = []string{"STOP", "TAKEPROFIT", "TRAILING"}

// IsProtective reports whether an order guards a position by its type label or its
// flags. Labels are compared upper-cased with separators removed, so "stop_market",
// "Stop-Loss" and "TakeProfit" all match.
func IsProtective(o exchange.Order) bool {
	if o.ClosePosition {
		return true
	}
	if o.ReduceOnly && o.StopPrice.IsPositive() {
		return true
	}
	label := strings.ToUpper(o.RawType)
	label = strings.NewReplacer("_", "", "-", "", " ", "").Replace(label)
	for _, kw := range protectiveKeywords {
		if strings.Contains(label, kw) {
			return true
		}
	}
	return false
}

// Sweep cancels every open order that belongs to no live position and is neither
// protected nor protective.
func (g *Guard) Sweep(ctx context.Context) (Result, error) {
	var res Result
	orders, err := g.ex.FetchOpenOrders(ctx, "")
	if err != nil {
		return res, err
	}
	name := g.ex.Name()
	now := g.now()

	for _, o := range orders {
		res.Checked++
		symbol := exchange.NormalizeSymbol(o.Symbol)
		switch {
		case g.deps.Protected != nil && g.deps.Protected.Contains(o.ID):
			res.Protected++
			continue
		case IsProtective(o):
			res.Protected++
			continue
		case g.deps.Ledger.HasLive(name, symbol):
			res.Live++
			continue
		case o.CreatedAt.IsZero() || now.Sub(o.CreatedAt) < g.cfg.MinAge:
			res.Young++
			continue
		}

		log := g.log.WithFields(map[string]interface{}{
			"order_id": o.ID,
			"symbol":   symbol,
			"type":     o.RawType,
			"age":      now.Sub(o.CreatedAt).Round(time.Second).String(),
		})
		if err := g.ex.CancelOrder(ctx, o.ID, symbol); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
			res.Failed++
			log.WithError(err).Warn("Failed to cancel zombie order")
			continue
		}
		res.Canceled = append(res.Canceled, o.ID)
		log.Warn("Zombie order canceled")
		if g.deps.Events != nil {
			if err := g.deps.Events.LogEvent(ctx, model.EventZombieOrderCanceled, map[string]interface{}{
				"exchange": name,
				"symbol":   symbol,
				"order_id": o.ID,
				"type":     o.RawType,
			}); err != nil {
				log.WithError(err).Warn("Failed to log event")
			}
		}
	}

	if len(res.Canceled) > 0 || res.Failed > 0 {
		g.log.WithFields(map[string]interface{}{
			"checked":  res.Checked,
			"canceled": len(res.Canceled),
			"failed":   res.Failed,
		}).Info("Zombie sweep finished")
	}
	return res, nil
}

// Run sweeps on Interval until ctx is done.
func (g *Guard) Run(ctx context.Context) error {
	interval := g.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.log.Info("zombie guard stopped")
			return nil
		case <-ticker.C:
			if _, err := g.Sweep(ctx); err != nil && ctx.Err() == nil {
				g.log.WithError(err).Warn("Zombie sweep failed")
			}
		}
	}
}
