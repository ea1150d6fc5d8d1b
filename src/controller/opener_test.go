package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func failStops(err error) func(exchange.OrderRequest) (*exchange.OrderAck, error) {
	return func(req exchange.OrderRequest) (*exchange.OrderAck, error) {
		if req.Type == exchange.OrderTypeStopMarket {
			return nil, err
		}
		return nil, nil
	}
}

var errTimeout = &exchange.Error{Kind: exchange.KindTransient, Exchange: "binance", Op: "PlaceOrder", Msg: "timeout"}

func TestOpenPositionLongIsProtected(t *testing.T) {
	h := newHarness(t)
	h.ex.Prices["BTCUSDT"] = d("40000")

	p, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "btc/usdt", Side: "BUY", Quantity: d("0.5")})
	require.NoError(t, err)

	assert.Equal(t, model.PositionStatusActive, p.Status)
	assert.Equal(t, model.SideLong, p.Side)
	assert.True(t, p.EntryPrice.Equal(d("40000")))
	assert.True(t, p.Quantity.Equal(d("0.5")))
	assert.True(t, p.StopLossPrice.Equal(d("39200")), p.StopLossPrice.String())
	require.NotEmpty(t, p.StopLossOrderID)
	assert.True(t, h.protected.Contains(p.StopLossOrderID))
	assert.Equal(t, uint(1), p.ID)

	stops := h.ex.PlacedOfType(exchange.OrderTypeStopMarket)
	require.Len(t, stops, 1)
	assert.Equal(t, exchange.SideSell, stops[0].Side)
	assert.True(t, stops[0].ReduceOnly)
	assert.True(t, stops[0].Quantity.Equal(d("0.5")))

	assert.Equal(t, 1, h.ledger.Len())
	stored, ok := h.ledger.Get("binance", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, p.StopLossOrderID, stored.StopLossOrderID)

	assert.Equal(t, []string{"binance:BTCUSDT"}, h.trailing.armed)
	assert.Equal(t, []string{"binance:BTCUSDT"}, h.aged.tracked)
	assert.Equal(t, []string{model.OrderTypeEntry, model.OrderTypeStopLoss}, h.orders.types())
	assert.Equal(t, []string{
		model.EventPositionCreated,
		model.EventPositionActivated,
		model.EventStopLossAttached,
	}, h.events.list())
	assert.Equal(t, model.PositionStatusActive, h.positions.last(1, "status"))
}

func TestOpenPositionShortStopAbove(t *testing.T) {
	h := newHarness(t)
	h.ex.Prices["ETHUSDT"] = d("2000")

	p, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "ETHUSDT", Side: "short", Quantity: d("1")})
	require.NoError(t, err)
	assert.Equal(t, model.SideShort, p.Side)
	assert.True(t, p.StopLossPrice.Equal(d("2040")), p.StopLossPrice.String())

	stops := h.ex.PlacedOfType(exchange.OrderTypeStopMarket)
	require.Len(t, stops, 1)
	assert.Equal(t, exchange.SideBuy, stops[0].Side)
}

func TestOpenPositionSlotTaken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.opener.OpenPosition(ctx, OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	require.NoError(t, err)

	_, err = h.opener.OpenPosition(ctx, OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	var declined *DeclinedError
	require.True(t, errors.As(err, &declined))
	assert.Equal(t, CategoryValidation, Classify(err))
	assert.Len(t, h.ex.PlacedOfType(exchange.OrderTypeMarket), 1)
	assert.Equal(t, 1, h.ledger.Len())
}

func TestOpenPositionDeclinedBeforeAnyOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		req   OpenRequest
		want  error
	}{
		{
			name:  "insufficient balance",
			setup: func(h *harness) { h.ex.Balances["USDT"] = exchange.Balance{Free: d("10")} },
			req:   OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("1")},
			want:  exchange.ErrInsufficientBalance,
		},
		{
			name:  "below min qty",
			setup: func(h *harness) {},
			req:   OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.0004")},
			want:  exchange.ErrPrecision,
		},
		{
			name: "not tradeable",
			setup: func(h *harness) {
				h.ex.Rules["BTCUSDT"] = exchange.SymbolRules{Symbol: "BTCUSDT", TickSize: d("0.1"), StepSize: d("0.001")}
			},
			req:  OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("1")},
			want: exchange.ErrSymbolNotTradeable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			_, err := h.opener.OpenPosition(context.Background(), tt.req)
			var declined *DeclinedError
			require.True(t, errors.As(err, &declined), "%v", err)
			assert.True(t, errors.Is(err, tt.want))
			assert.Empty(t, h.ex.Placed)
			assert.Equal(t, 0, h.ledger.Len())

			// The slot is free again.
			release, err := h.ledger.Reserve("binance", "BTCUSDT")
			require.NoError(t, err)
			release()
		})
	}
}

func TestOpenPositionUnknownSide(t *testing.T) {
	h := newHarness(t)
	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "sideways", Quantity: d("1")})
	var declined *DeclinedError
	require.True(t, errors.As(err, &declined))
	assert.Empty(t, h.ex.Placed)
}

func TestStopLossFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.ex.Prices["BTCUSDT"] = d("40000")
	h.ex.PlaceHook = failStops(errTimeout)

	p, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, ErrStopLossAttach))
	assert.Equal(t, CategoryPartialFailure, Classify(err))

	assert.Len(t, h.ex.PlacedOfType(exchange.OrderTypeStopMarket), 2)
	markets := h.ex.PlacedOfType(exchange.OrderTypeMarket)
	require.Len(t, markets, 2)
	assert.True(t, markets[1].ReduceOnly)
	assert.Equal(t, exchange.SideSell, markets[1].Side)
	assert.True(t, markets[1].Quantity.Equal(d("0.5")))

	positions, _ := h.ex.FetchPositions(context.Background())
	assert.Empty(t, positions)
	assert.Equal(t, 0, h.ledger.Len())
	assert.Equal(t, 0, h.protected.Len())
	assert.Empty(t, h.trailing.armed)
	assert.Contains(t, h.events.list(), model.EventRollback)
	assert.Contains(t, h.events.list(), model.EventPositionClosed)
	assert.Equal(t, model.ExitReasonRollback, h.positions.last(1, "exit_reason"))
}

func TestStopLossValidationErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.ex.PlaceHook = failStops(&exchange.Error{Kind: exchange.KindPrecision, Exchange: "binance", Msg: "bad stop price"})

	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("1")})
	assert.True(t, errors.Is(err, ErrStopLossAttach))
	assert.Len(t, h.ex.PlacedOfType(exchange.OrderTypeStopMarket), 1)
	assert.Equal(t, 0, h.ledger.Len())
}

func TestRollbackClosesRequestedQuantity(t *testing.T) {
	h := newHarness(t)
	// The entry reports nothing useful and only 0.3 of 0.5 shows up on the book.
	h.ex.PlaceHook = func(req exchange.OrderRequest) (*exchange.OrderAck, error) {
		switch {
		case req.Type == exchange.OrderTypeStopMarket:
			return nil, errTimeout
		case req.Type == exchange.OrderTypeMarket && !req.ReduceOnly:
			h.ex.SetPosition(exchange.Position{Symbol: req.Symbol, Side: model.SideLong, Quantity: d("0.3"), EntryPrice: d("100")})
			return &exchange.OrderAck{OrderID: "partial-1", Status: model.OrderStatusNew}, nil
		}
		return nil, nil
	}

	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5004")})
	require.True(t, errors.Is(err, ErrStopLossAttach))

	stops := h.ex.PlacedOfType(exchange.OrderTypeStopMarket)
	require.NotEmpty(t, stops)
	assert.True(t, stops[0].Quantity.Equal(d("0.3")))

	markets := h.ex.PlacedOfType(exchange.OrderTypeMarket)
	require.Len(t, markets, 2)
	assert.True(t, markets[1].Quantity.Equal(d("0.5")), markets[1].Quantity.String())
	positions, _ := h.ex.FetchPositions(context.Background())
	assert.Empty(t, positions)
}

func TestUnconfirmedEntryRollsBack(t *testing.T) {
	h := newHarness(t)
	h.ex.PlaceHook = func(req exchange.OrderRequest) (*exchange.OrderAck, error) {
		if req.Type == exchange.OrderTypeMarket && !req.ReduceOnly {
			return &exchange.OrderAck{OrderID: "ghost-1", Status: model.OrderStatusNew}, nil
		}
		return nil, nil
	}

	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "SOLUSDT", Side: "long", Quantity: d("3")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnconfirmed))
	assert.Equal(t, CategoryPartialFailure, Classify(err))

	markets := h.ex.PlacedOfType(exchange.OrderTypeMarket)
	require.Len(t, markets, 2)
	assert.True(t, markets[1].ReduceOnly)
	assert.Empty(t, h.ex.PlacedOfType(exchange.OrderTypeStopMarket))
	assert.Equal(t, 0, h.ledger.Len())
	assert.Empty(t, h.alerts.critical)
	assert.Equal(t, model.ExitReasonUnconfirmed, h.positions.last(1, "exit_reason"))
}

func TestRollbackFailureIsCritical(t *testing.T) {
	h := newHarness(t)
	h.ex.PlaceHook = func(req exchange.OrderRequest) (*exchange.OrderAck, error) {
		if req.Type == exchange.OrderTypeStopMarket || req.ReduceOnly {
			return nil, errTimeout
		}
		return nil, nil
	}

	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRollbackFailed))
	assert.Equal(t, CategoryConsistency, Classify(err))

	assert.Equal(t, []string{"binance:BTCUSDT"}, h.alerts.critical)
	require.Len(t, h.exceptions.rows, 1)
	assert.Equal(t, model.ExceptionLevelCritical, h.exceptions.rows[0].Level)
	assert.Equal(t, "rollback", h.exceptions.rows[0].Method)

	p, ok := h.ledger.Get("binance", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, model.PositionStatusClosing, p.Status)
	assert.Equal(t, model.ExitReasonRollbackFail, p.ExitReason)
	assert.Contains(t, h.events.list(), model.EventRollbackFailed)

	_, err = h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	assert.Equal(t, CategoryValidation, Classify(err))
}

func TestOpensOnDistinctSymbolsRunConcurrently(t *testing.T) {
	h := newHarness(t)
	h.ex.Delay = 50 * time.Millisecond

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "BNBUSDT"}
	var wg sync.WaitGroup
	errs := make([]error, len(symbols))
	start := time.Now()
	for i, s := range symbols {
		wg.Add(1)
		go func(i int, s string) {
			defer wg.Done()
			_, errs[i] = h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: s, Side: "long", Quantity: d("1")})
		}(i, s)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for i, err := range errs {
		assert.NoError(t, err, symbols[i])
	}
	assert.Equal(t, len(symbols), h.ledger.Len())
	assert.Equal(t, len(symbols), h.protected.Len())
	assert.Less(t, elapsed, 350*time.Millisecond, fmt.Sprintf("took %s", elapsed))
}

func TestRejectedRollbackCloseLeavesPositionTracked(t *testing.T) {
	h := newHarness(t)
	h.ex.Prices["BTCUSDT"] = d("40000")
	// Any 4xx without a mapped code comes back as KindRejected, not only the
	// reduce-only rejection.
	sideMismatch := &exchange.Error{Kind: exchange.KindRejected, Exchange: "binance", Code: -4061,
		Msg: "Order's position side does not match user's setting."}
	h.ex.PlaceHook = func(req exchange.OrderRequest) (*exchange.OrderAck, error) {
		switch {
		case req.Type == exchange.OrderTypeStopMarket:
			return nil, errTimeout
		case req.ReduceOnly:
			return nil, sideMismatch
		}
		return nil, nil
	}

	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRollbackFailed), "%v", err)

	positions, _ := h.ex.FetchPositions(context.Background(), "BTCUSDT")
	require.Len(t, positions, 1)
	p, ok := h.ledger.Get("binance", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, model.PositionStatusClosing, p.Status)
	assert.Equal(t, []string{"binance:BTCUSDT"}, h.alerts.critical)
	assert.NotContains(t, h.events.list(), model.EventPositionClosed)
}

func TestReduceOnlyRejectOnFlatBookCompletesRollback(t *testing.T) {
	h := newHarness(t)
	// The entry fills, then the position disappears before the rollback close.
	h.ex.PlaceHook = func(req exchange.OrderRequest) (*exchange.OrderAck, error) {
		if req.Type == exchange.OrderTypeStopMarket {
			h.ex.ClearPosition(req.Symbol)
			return nil, errTimeout
		}
		return nil, nil
	}

	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "ETHUSDT", Side: "long", Quantity: d("1")})
	assert.True(t, errors.Is(err, ErrStopLossAttach), "%v", err)
	assert.Equal(t, 0, h.ledger.Len())
	assert.Empty(t, h.alerts.critical)
}

func TestLostEntryAckIsResolvedByClientID(t *testing.T) {
	h := newHarness(t)
	h.ex.Prices["BTCUSDT"] = d("40000")
	h.ex.LostAck = func(req exchange.OrderRequest) error {
		if req.Type == exchange.OrderTypeMarket && !req.ReduceOnly {
			return errTimeout
		}
		return nil
	}

	p, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	require.NoError(t, err)
	assert.Equal(t, model.PositionStatusActive, p.Status)
	assert.True(t, h.protected.Contains(p.StopLossOrderID))
	assert.Len(t, h.ex.PlacedOfType(exchange.OrderTypeMarket), 1)
}

func TestFailedEntryNeverSeenIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.ex.PlaceHook = func(req exchange.OrderRequest) (*exchange.OrderAck, error) {
		if req.Type == exchange.OrderTypeMarket {
			return nil, errTimeout
		}
		return nil, nil
	}

	_, err := h.opener.OpenPosition(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Quantity: d("0.5")})
	require.Error(t, err)
	assert.Equal(t, CategoryTransient, Classify(err))
	assert.Len(t, h.ex.PlacedOfType(exchange.OrderTypeMarket), 1)
	assert.Equal(t, 0, h.ledger.Len())

	release, err := h.ledger.Reserve("binance", "BTCUSDT")
	require.NoError(t, err)
	release()
}
