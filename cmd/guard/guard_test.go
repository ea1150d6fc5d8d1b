package guard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/JacobJanuary/TradingBot-sub006/src/connectors"
	"github.com/JacobJanuary/TradingBot-sub006/src/controller"
	"github.com/JacobJanuary/TradingBot-sub006/src/database"
	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/exchange/exchangetest"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "guard.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func testConfig() *Config {
	return &Config{AppName: "position-guard-test", StreamMaxAge: 30 * time.Second}
}

func TestOpenPersistAndReload(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	binance := exchangetest.New(exchange.NameBinance)
	binance.Prices["BTCUSDT"] = decimal.NewFromInt(40000)
	adapters := map[string]exchange.Adapter{exchange.NameBinance: binance}

	app := Build(testConfig(), db, adapters, nil)
	require.NoError(t, app.Load(ctx))

	p, err := app.Open(ctx, "Binance", controller.OpenRequest{
		Symbol:          "BTCUSDT",
		Side:            string(model.SideLong),
		Quantity:        decimal.RequireFromString("0.5"),
		StopLossPercent: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.StopLossOrderID)
	assert.True(t, app.Engine.Tracked(exchange.NameBinance, "BTCUSDT"))

	// A fresh process over the same database picks the position back up.
	restarted := Build(testConfig(), db, adapters, nil)
	require.NoError(t, restarted.Load(ctx))
	got, ok := restarted.Ledger.Get(exchange.NameBinance, "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, model.PositionStatusActive, got.Status)
	assert.True(t, restarted.Protected.Contains(p.StopLossOrderID))
	assert.True(t, restarted.Engine.Tracked(exchange.NameBinance, "BTCUSDT"))
	assert.True(t, restarted.Aged.IsTracked(exchange.NameBinance, "BTCUSDT"))

	reports, err := restarted.ReconcileOnce(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 0, reports[0].Discrepancies())

	require.NoError(t, restarted.Close(ctx, exchange.NameBinance, "BTCUSDT"))
	assert.False(t, restarted.Ledger.HasLive(exchange.NameBinance, "BTCUSDT"))
	assert.Equal(t, 0, binance.OpenOrderCount())
}

func TestUnknownExchange(t *testing.T) {
	app := Build(testConfig(), newTestDB(t), map[string]exchange.Adapter{
		exchange.NameBybit: exchangetest.New(exchange.NameBybit),
	}, nil)

	_, err := app.Open(context.Background(), exchange.NameBinance, controller.OpenRequest{Symbol: "BTCUSDT"})
	assert.Error(t, err)
	assert.Error(t, app.Close(context.Background(), "kraken", "BTCUSDT"))
}

func TestNewAdapter(t *testing.T) {
	a, s, err := NewAdapter("BYBIT", connectors.Config{})
	require.NoError(t, err)
	assert.Equal(t, exchange.NameBybit, a.Name())
	assert.NotNil(t, s)

	_, _, err = NewAdapter("kraken", connectors.Config{})
	assert.Error(t, err)
}
