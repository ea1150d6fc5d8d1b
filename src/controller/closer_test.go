package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

func openBTC(t *testing.T, h *harness) *model.Position {
	t.Helper()
	h.ex.Prices["BTCUSDT"] = d("40000")
	p, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	require.NoError(t, err)
	return p
}

func TestClosePositionCleansUp(t *testing.T) {
	h := newHarness(t)
	p := openBTC(t, h)

	require.NoError(t, h.closer.ClosePosition(context.Background(), "btcusdt", model.ExitReasonManual))

	positions, _ := h.ex.FetchPositions(context.Background())
	assert.Empty(t, positions)
	assert.Equal(t, []string{p.StopLossOrderID}, h.ex.CanceledIDs())
	assert.Equal(t, 0, h.ex.OpenOrderCount())
	assert.False(t, h.protected.Contains(p.StopLossOrderID))
	assert.Equal(t, 0, h.ledger.Len())
	assert.Equal(t, []string{"binance:BTCUSDT"}, h.trailing.removed)
	assert.Equal(t, []string{"binance:BTCUSDT"}, h.aged.untracked)
	assert.Equal(t, model.PositionStatusClosed, h.positions.last(p.ID, "status"))
	assert.Equal(t, model.ExitReasonManual, h.positions.last(p.ID, "exit_reason"))
	assert.Contains(t, h.events.list(), model.EventPositionClosed)
	assert.Contains(t, h.orders.types(), model.OrderTypeClose)

	// The slot can be used again.
	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "short", Quantity: d("0.5")})
	assert.NoError(t, err)
}

func TestClosePositionUnknownSymbol(t *testing.T) {
	h := newHarness(t)
	err := h.closer.ClosePosition(context.Background(), "ETHUSDT", model.ExitReasonManual)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
	assert.Empty(t, h.ex.Placed)
}

func TestFinalizeKeepsStopProtectedWhenCancelFails(t *testing.T) {
	h := newHarness(t)
	p := openBTC(t, h)
	h.ex.CancelHook = func(string) error { return errTimeout }

	require.NoError(t, h.closer.Finalize(context.Background(), *p, model.ExitReasonOrphaned))
	assert.True(t, h.protected.Contains(p.StopLossOrderID))
	assert.Equal(t, 0, h.ledger.Len())
}

func TestFinalizeTreatsMissingStopAsReleased(t *testing.T) {
	h := newHarness(t)
	p := openBTC(t, h)
	h.ex.CancelHook = func(string) error {
		return &exchange.Error{Kind: exchange.KindOrderNotFound, Exchange: "binance", Code: -2011}
	}

	require.NoError(t, h.closer.Finalize(context.Background(), *p, model.ExitReasonStopLoss))
	assert.False(t, h.protected.Contains(p.StopLossOrderID))
	assert.Equal(t, model.ExitReasonStopLoss, h.positions.last(p.ID, "exit_reason"))
}
