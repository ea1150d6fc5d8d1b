// Package executors runs the long-lived loops of the guard process: the price feed
// driving the trailing-stop engine, the position streams feeding the cache, and the
// periodic workers (reconciler, zombie guard, aged monitor).
package executors

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

type PriceSource interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type PriceSink interface {
	OnPrice(ctx context.Context, exchangeName, symbol string, price decimal.Decimal) error
}

// Worker is any loop that runs until ctx is done.
type Worker interface {
	Run(ctx context.Context) error
}

type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }

type Loops struct {
	Ledger  *ledger.Ledger
	Prices  map[string]PriceSource // by exchange name
	Sink    PriceSink
	Streams []exchange.PositionStream
	Cache   *exchange.PositionCache
	Workers []Worker
}

// StartLoop runs every loop until ctx is done or one of them fails.
func StartLoop(ctx context.Context, cfg Config, loops Loops) error {
	group, ctx := errgroup.WithContext(ctx)

	if loops.Sink != nil && len(loops.Prices) > 0 {
		group.Go(func() error {
			return RunPriceFeed(ctx, cfg, loops.Ledger, loops.Prices, loops.Sink)
		})
	}
	for _, s := range loops.Streams {
		s := s
		group.Go(func() error {
			return ConsumeStream(ctx, s, loops.Cache)
		})
	}
	for _, w := range loops.Workers {
		w := w
		group.Go(func() error {
			return w.Run(ctx)
		})
	}

	logger.WithFields(map[string]interface{}{
		"streams": len(loops.Streams),
		"workers": len(loops.Workers),
	}).Info("loops started")
	return group.Wait()
}

// RunPriceFeed polls prices for live positions every PriceInterval.
func RunPriceFeed(ctx context.Context, cfg Config, l *ledger.Ledger, prices map[string]PriceSource, sink PriceSink) error {
	interval := cfg.PriceInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Println("price feed stopped")
			return nil
		case <-ticker.C:
			PollPrices(ctx, cfg, l, prices, sink)
		}
	}
}

// PollPrices fetches the price of every active position once and hands it to sink.
// Positions are handled in parallel; each symbol's engine update takes only its own
// lock. Returns the number of prices delivered.
func PollPrices(ctx context.Context, cfg Config, l *ledger.Ledger, prices map[string]PriceSource, sink PriceSink) int {
	limit := cfg.PriceConcurrency
	if limit <= 0 {
		limit = 8
	}
	var group errgroup.Group
	group.SetLimit(limit)

	var delivered atomic.Int64
	for _, p := range l.Active() {
		if p.Status != model.PositionStatusActive {
			continue
		}
		src, ok := prices[p.Exchange]
		if !ok {
			continue
		}
		p := p
		group.Go(func() error {
			log := logger.WithFields(map[string]interface{}{
				"exchange": p.Exchange,
				"symbol":   p.Symbol,
			})
			price, err := src.FetchPrice(ctx, p.Symbol)
			if err != nil {
				log.WithError(err).Debug("price fetch failed")
				return nil
			}
			if err := sink.OnPrice(ctx, p.Exchange, p.Symbol, price); err != nil {
				log.WithError(err).Warn("price update failed")
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = group.Wait()
	return int(delivered.Load())
}

// ConsumeStream applies every update from stream to cache until ctx is done. The
// stream reconnects on its own; the channel closes only when ctx ends.
func ConsumeStream(ctx context.Context, stream exchange.PositionStream, cache *exchange.PositionCache) error {
	updates, err := stream.Subscribe(ctx)
	if err != nil {
		return err
	}
	for u := range updates {
		if cache != nil {
			cache.Apply(u)
		}
	}
	return nil
}
