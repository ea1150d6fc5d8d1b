package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/cmd/guard"
)

var APP_NAME = os.Getenv("APP_NAME")

func main() {
	cfg := guard.GetConfig()
	guard.SetupLogger(cfg)
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := guard.Prepare(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start position guard")
	}
	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("Position guard stopped")
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
