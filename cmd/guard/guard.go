// Package guard composes the position-integrity process: adapters, ledger, opener,
// trailing-stop engine, reconciler, zombie guard and the ops server.
package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/JacobJanuary/TradingBot-sub006/src/alert"
	"github.com/JacobJanuary/TradingBot-sub006/src/connectors"
	"github.com/JacobJanuary/TradingBot-sub006/src/controller"
	"github.com/JacobJanuary/TradingBot-sub006/src/database"
	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/executors"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
	"github.com/JacobJanuary/TradingBot-sub006/src/monitor"
	"github.com/JacobJanuary/TradingBot-sub006/src/reconciler"
	"github.com/JacobJanuary/TradingBot-sub006/src/repository"
	"github.com/JacobJanuary/TradingBot-sub006/src/risk"
	"github.com/JacobJanuary/TradingBot-sub006/src/server"
	"github.com/JacobJanuary/TradingBot-sub006/src/tp_sl"
	"github.com/JacobJanuary/TradingBot-sub006/src/verifier"
	"github.com/JacobJanuary/TradingBot-sub006/src/zombie"
)

// Venue is everything bound to one exchange account.
type Venue struct {
	Adapter    exchange.Adapter
	Stream     exchange.PositionStream
	Opener     *controller.Opener
	Closer     *controller.Closer
	Reconciler *reconciler.Reconciler
	Zombie     *zombie.Guard
}

type App struct {
	cfg *Config

	Ledger    *ledger.Ledger
	Locks     *ledger.SymbolLocks
	Protected *ledger.ProtectedOrders
	Cache     *exchange.PositionCache
	Risk      *risk.Guard
	Engine    *tp_sl.Engine
	Aged      *monitor.AgedTracker
	Alerter   *alert.Alerter
	Venues    map[string]*Venue

	positions       *repository.PositionRepository
	orders          *repository.OrderRepository
	events          *repository.EventRepository
	reconciliations *repository.ReconciliationRepository
	exceptions      *repository.ExceptionRepository
}

// NewAdapter builds the REST adapter and position stream for a supported exchange.
func NewAdapter(name string, cfg connectors.Config) (exchange.Adapter, exchange.PositionStream, error) {
	switch strings.ToLower(name) {
	case exchange.NameBinance:
		client := connectors.NewBinanceFuturesClient(cfg)
		return client, connectors.NewBinanceUserStream(client, cfg.StreamURL), nil
	case exchange.NameBybit:
		return connectors.NewBybitClient(cfg), connectors.NewBybitPositionStream(cfg), nil
	default:
		return nil, nil, fmt.Errorf("exchange %s not supported", name)
	}
}

// EnabledAdapters reads <EXCHANGE>_* settings and returns the enabled exchanges.
func EnabledAdapters() (map[string]exchange.Adapter, map[string]exchange.PositionStream, error) {
	adapters := make(map[string]exchange.Adapter)
	streams := make(map[string]exchange.PositionStream)
	for _, name := range []string{exchange.NameBinance, exchange.NameBybit} {
		c := connectors.GetConfig(strings.ToUpper(name))
		if !c.Enabled {
			continue
		}
		a, s, err := NewAdapter(name, c)
		if err != nil {
			return nil, nil, err
		}
		adapters[name] = a
		streams[name] = s
	}
	if len(adapters) == 0 {
		return nil, nil, fmt.Errorf("no exchange enabled, set BINANCE_ENABLED or BYBIT_ENABLED")
	}
	return adapters, streams, nil
}

// Prepare opens the main database, builds the enabled exchanges and loads the ledger.
func Prepare(ctx context.Context, cfg *Config) (*App, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	adapters, streams, err := EnabledAdapters()
	if err != nil {
		return nil, err
	}
	app := Build(cfg, database.MainDB, adapters, streams)
	if err := app.Load(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

// Build wires every component over db. streams may be nil or partial.
func Build(cfg *Config, db *gorm.DB, adapters map[string]exchange.Adapter, streams map[string]exchange.PositionStream) *App {
	a := &App{
		cfg:             cfg,
		Ledger:          ledger.New(),
		Locks:           ledger.NewSymbolLocks(),
		Protected:       ledger.NewProtectedOrders(),
		Cache:           exchange.NewPositionCache(cfg.StreamMaxAge),
		Risk:            risk.NewGuard(risk.GetConfig()),
		Venues:          make(map[string]*Venue, len(adapters)),
		positions:       repository.NewPositionRepository().WithDB(db),
		orders:          repository.NewOrderRepository().WithDB(db),
		events:          repository.NewEventRepository().WithDB(db),
		reconciliations: repository.NewReconciliationRepository().WithDB(db),
		exceptions:      repository.NewExceptionRepository().WithDB(db),
	}

	alertCfg := alert.GetConfig()
	var senders []alert.Sender
	if alertCfg.WebhookURL != "" {
		senders = append(senders, alert.NewWebhookSender(alertCfg.WebhookURL, alertCfg.WebhookTimeout))
	}
	a.Alerter = alert.New(alertCfg, senders...)
	a.Aged = monitor.NewAgedTracker(monitor.GetConfig(), a.Alerter, a.events)

	orders := make(map[string]tp_sl.Orders, len(adapters))
	for name, ad := range adapters {
		orders[name] = ad
	}
	a.Engine = tp_sl.NewEngine(tp_sl.GetConfig(), tp_sl.Deps{
		Ledger:    a.Ledger,
		Locks:     a.Locks,
		Protected: a.Protected,
		Orders:    orders,
		Positions: a.positions,
		Events:    a.events,
		Ticks: func(ctx context.Context, exchangeName, symbol string) (decimal.Decimal, error) {
			ad, ok := adapters[exchangeName]
			if !ok {
				return decimal.Zero, fmt.Errorf("no adapter for %s", exchangeName)
			}
			rules, err := a.Risk.Rules(ctx, ad, symbol)
			return rules.TickSize, err
		},
	})

	openerCfg := controller.GetConfig()
	reconcileCfg := reconciler.GetConfig()
	zombieCfg := zombie.GetConfig()
	for name, ad := range adapters {
		v := verifier.New(ad, a.Cache, verifier.GetConfig(name))
		closer := controller.NewCloser(ad, controller.CloserDeps{
			Ledger:    a.Ledger,
			Locks:     a.Locks,
			Protected: a.Protected,
			Trailing:  a.Engine,
			Aged:      a.Aged,
			Verifier:  v,
			Positions: a.positions,
			Orders:    a.orders,
			Events:    a.events,
		})
		venue := &Venue{
			Adapter: ad,
			Closer:  closer,
			Opener: controller.NewOpener(ad, openerCfg, controller.OpenerDeps{
				Ledger:     a.Ledger,
				Locks:      a.Locks,
				Protected:  a.Protected,
				Guard:      a.Risk,
				Verifier:   v,
				Closer:     closer,
				Trailing:   a.Engine,
				Aged:       a.Aged,
				Alerter:    a.Alerter,
				Positions:  a.positions,
				Orders:     a.orders,
				Events:     a.events,
				Exceptions: a.exceptions,
			}),
			Reconciler: reconciler.New(ad, reconcileCfg, reconciler.Deps{
				Ledger:    a.Ledger,
				Locks:     a.Locks,
				Closer:    closer,
				Positions: a.positions,
				Records:   a.reconciliations,
				Events:    a.events,
				Alerter:   a.Alerter,
				Aged:      a.Aged,
			}),
			Zombie: zombie.New(ad, zombieCfg, zombie.Deps{
				Ledger:    a.Ledger,
				Protected: a.Protected,
				Events:    a.events,
			}),
		}
		if s, ok := streams[name]; ok && cfg.EnableStreams {
			venue.Stream = s
		}
		a.Venues[name] = venue
	}
	return a
}

// Load restores the ledger from the non-closed persisted positions, seeds the
// protected set and resumes trailing and aged tracking.
func (a *App) Load(ctx context.Context) error {
	open, err := a.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	n := a.Ledger.Load(open, a.Protected)
	for _, p := range a.Ledger.Active() {
		if _, ok := a.Venues[p.Exchange]; !ok {
			logger.WithField("position", p.Key()).Warn("Loaded position for a disabled exchange")
			continue
		}
		if p.Status != model.PositionStatusActive {
			continue
		}
		if err := a.Engine.Arm(ctx, p.Exchange, p.Symbol); err != nil {
			logger.WithError(err).WithField("position", p.Key()).Warn("Failed to resume trailing stop")
		}
		a.Aged.Track(p)
	}
	logger.WithFields(map[string]interface{}{
		"positions": n,
		"protected": a.Protected.Len(),
	}).Info("Ledger loaded")
	return nil
}

func (a *App) venue(name string) (*Venue, error) {
	v, ok := a.Venues[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("exchange %s not enabled", name)
	}
	return v, nil
}

func (a *App) names() []string {
	names := make([]string, 0, len(a.Venues))
	for name := range a.Venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens and protects one position.
func (a *App) Open(ctx context.Context, exchangeName string, req controller.OpenRequest) (*model.Position, error) {
	v, err := a.venue(exchangeName)
	if err != nil {
		return nil, err
	}
	return v.Opener.OpenPosition(ctx, req)
}

// Close closes one position with a reduce-only market order.
func (a *App) Close(ctx context.Context, exchangeName, symbol string) error {
	v, err := a.venue(exchangeName)
	if err != nil {
		return err
	}
	return v.Closer.ClosePosition(ctx, symbol, model.ExitReasonManual)
}

// ReconcileOnce runs a single sweep on every exchange.
func (a *App) ReconcileOnce(ctx context.Context) ([]reconciler.Report, error) {
	var reports []reconciler.Report
	for _, name := range a.names() {
		report, err := a.Venues[name].Reconciler.Sweep(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Run starts every loop and the ops server and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	loops := executors.Loops{
		Ledger: a.Ledger,
		Prices: make(map[string]executors.PriceSource, len(a.Venues)),
		Sink:   a.Engine,
		Cache:  a.Cache,
		Workers: []executors.Worker{
			a.Aged,
		},
	}
	for _, name := range a.names() {
		v := a.Venues[name]
		loops.Prices[name] = v.Adapter
		loops.Workers = append(loops.Workers, v.Reconciler, v.Zombie)
		if v.Stream != nil {
			loops.Streams = append(loops.Streams, v.Stream)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return executors.StartLoop(ctx, executors.GetConfig(), loops)
	})
	if a.cfg.EnableServer {
		router := server.NewRouter(server.Sources{
			Ledger:          a.Ledger,
			Protected:       a.Protected,
			Reconciliations: a.reconciliations,
			Events:          a.events,
		})
		group.Go(func() error {
			return server.StartServer(ctx, *server.GetConfig(), router)
		})
	}
	logger.WithFields(map[string]interface{}{
		"app":       a.cfg.AppName,
		"exchanges": strings.Join(a.names(), ","),
	}).Info("Position guard running")
	return group.Wait()
}
