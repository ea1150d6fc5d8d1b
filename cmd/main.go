package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/JacobJanuary/TradingBot-sub006/cmd/guard"
	"github.com/JacobJanuary/TradingBot-sub006/src/controller"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Position Guard CMD"
	app.Usage = "Open, protect and reconcile exchange positions"
	app.Version = Version

	app.Commands = []cli.Command{
		runCMD,
		reconcileCMD,
		openCMD,
		closeCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	exchangeFlag = cli.StringFlag{Name: "exchange", Usage: "binance or bybit"}
	symbolFlag   = cli.StringFlag{Name: "symbol", Usage: "unified symbol, e.g. BTCUSDT"}

	runCMD = cli.Command{
		Name:        "run",
		Usage:       "run the position guard",
		Action:      runAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Load open positions and run the trailing stop, reconciler, zombie and aged loops`,
	}
	reconcileCMD = cli.Command{
		Name:        "reconcile",
		Usage:       "run one reconciliation sweep",
		Action:      reconcileAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Compare the ledger with every enabled exchange once and print the discrepancies`,
	}
	openCMD = cli.Command{
		Name:      "open",
		Usage:     "open a protected position",
		Action:    openAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			exchangeFlag,
			symbolFlag,
			cli.StringFlag{Name: "side", Usage: "long or short"},
			cli.StringFlag{Name: "qty", Usage: "base quantity"},
			cli.StringFlag{Name: "sl", Usage: "stop-loss distance in percent, defaults to STOP_LOSS_PERCENT"},
		},
		Description: `Place a market entry with a stop-loss attached, rolling back if the stop cannot be placed`,
	}
	closeCMD = cli.Command{
		Name:        "close",
		Usage:       "close a position",
		Action:      closeAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{exchangeFlag, symbolFlag},
		Description: `Close a position with a reduce-only market order and release its stop`,
	}
)

func prepare() (context.Context, context.CancelFunc, *guard.App, error) {
	cfg := guard.GetConfig()
	guard.SetupLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app, err := guard.Prepare(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, stop, app, nil
}

func runAction(_ *cli.Context) error {
	ctx, stop, app, err := prepare()
	if err != nil {
		logger.WithError(err).Error("Starting cmd")
		return err
	}
	defer stop()

	logger.WithField("cmd", "run").Info("Starting position guard CMD")
	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("Position guard stopped")
		return err
	}
	return nil
}

func reconcileAction(_ *cli.Context) error {
	ctx, stop, app, err := prepare()
	if err != nil {
		return err
	}
	defer stop()

	reports, err := app.ReconcileOnce(ctx)
	for _, r := range reports {
		fmt.Printf("%s: %d discrepancies\n", r.Exchange, r.Discrepancies())
		for _, rec := range r.Records {
			fmt.Printf("  %-20s %-12s %s\n", rec.DiscrepancyType, rec.Symbol, rec.Resolution)
		}
	}
	return err
}

func openAction(c *cli.Context) error {
	qty, err := decimal.NewFromString(c.String("qty"))
	if err != nil {
		return fmt.Errorf("invalid --qty: %w", err)
	}
	var sl decimal.Decimal
	if v := c.String("sl"); v != "" {
		if sl, err = decimal.NewFromString(v); err != nil {
			return fmt.Errorf("invalid --sl: %w", err)
		}
	}

	ctx, stop, app, err := prepare()
	if err != nil {
		return err
	}
	defer stop()

	p, err := app.Open(ctx, c.String("exchange"), controller.OpenRequest{
		Symbol:          c.String("symbol"),
		Side:            c.String("side"),
		Quantity:        qty,
		StopLossPercent: sl,
	})
	if err != nil {
		return err
	}
	fmt.Printf("opened %s %s %s @ %s, stop %s (%s)\n",
		p.Key(), p.Side, p.Quantity, p.EntryPrice, p.StopLossPrice, p.StopLossOrderID)
	return nil
}

func closeAction(c *cli.Context) error {
	ctx, stop, app, err := prepare()
	if err != nil {
		return err
	}
	defer stop()
	return app.Close(ctx, c.String("exchange"), c.String("symbol"))
}
