package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

func position(exchange, symbol, status string) model.Position {
	return model.Position{
		ID:         1,
		Exchange:   exchange,
		Symbol:     symbol,
		Side:       model.SideLong,
		Quantity:   decimal.NewFromInt(100),
		EntryPrice: decimal.NewFromInt(10),
		Status:     status,
	}
}

func TestReserveIsAtMostOnce(t *testing.T) {
	l := New()
	release, err := l.Reserve("binance", "BTCUSDT")
	require.NoError(t, err)

	_, err = l.Reserve("Binance", "btcusdt")
	assert.True(t, errors.Is(err, ErrSlotTaken))

	_, err = l.Reserve("bybit", "BTCUSDT")
	assert.NoError(t, err)

	release()
	release()
	_, err = l.Reserve("binance", "BTCUSDT")
	assert.NoError(t, err)
}

func TestReserveRejectsLivePosition(t *testing.T) {
	l := New()
	require.NoError(t, l.Put(position("binance", "ETHUSDT", model.PositionStatusActive)))

	_, err := l.Reserve("binance", "ETHUSDT")
	assert.True(t, errors.Is(err, ErrSlotTaken))
}

func TestEntryPriceIsImmutable(t *testing.T) {
	l := New()
	require.NoError(t, l.Put(position("binance", "BTCUSDT", model.PositionStatusPending)))

	_, err := l.Update("binance", "BTCUSDT", func(p *model.Position) error {
		p.EntryPrice = decimal.NewFromInt(11)
		return nil
	})
	assert.True(t, errors.Is(err, ErrEntryPriceImmutable))

	got, _ := l.Get("binance", "BTCUSDT")
	assert.True(t, got.EntryPrice.Equal(decimal.NewFromInt(10)))
}

func TestStatusOnlyMovesForward(t *testing.T) {
	l := New()
	require.NoError(t, l.Put(position("binance", "BTCUSDT", model.PositionStatusActive)))

	_, err := l.Update("binance", "BTCUSDT", func(p *model.Position) error {
		p.Status = model.PositionStatusPending
		return nil
	})
	assert.True(t, errors.Is(err, ErrStatusRegression))

	updated, err := l.Update("binance", "BTCUSDT", func(p *model.Position) error {
		p.Status = model.PositionStatusClosing
		p.CurrentPrice = decimal.NewFromInt(12)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, model.PositionStatusClosing, updated.Status)

	_, err = l.Update("bybit", "BTCUSDT", func(p *model.Position) error { return nil })
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetReturnsCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Put(position("binance", "BTCUSDT", model.PositionStatusActive)))

	p, ok := l.Get("binance", "BTCUSDT")
	require.True(t, ok)
	p.StopLossOrderID = "mutated"

	again, _ := l.Get("binance", "BTCUSDT")
	assert.Empty(t, again.StopLossOrderID)
}

func TestLoadSeedsProtectedOrders(t *testing.T) {
	l := New()
	protected := NewProtectedOrders()

	a := position("binance", "BTCUSDT", model.PositionStatusActive)
	a.StopLossOrderID = "sl-1"
	b := position("bybit", "ETHUSDT", model.PositionStatusActive)
	c := position("bybit", "SOLUSDT", model.PositionStatusClosed)
	c.StopLossOrderID = "sl-old"

	n := l.Load([]model.Position{a, b, c}, protected)
	assert.Equal(t, 2, n)
	assert.True(t, protected.Contains("sl-1"))
	assert.False(t, protected.Contains("sl-old"))
	assert.Len(t, l.ByExchange("bybit"), 1)
	assert.Len(t, l.Active(), 2)
}

func TestRemove(t *testing.T) {
	l := New()
	require.NoError(t, l.Put(position("binance", "BTCUSDT", model.PositionStatusActive)))
	_, ok := l.Remove("binance", "BTCUSDT")
	assert.True(t, ok)
	_, ok = l.Remove("binance", "BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}

func TestSymbolLocksAreIndependent(t *testing.T) {
	locks := NewSymbolLocks()
	ctx := context.Background()

	unlockA, err := locks.Lock(ctx, "binance", "BTCUSDT")
	require.NoError(t, err)

	// Another symbol proceeds while BTCUSDT is held.
	unlockB, ok := locks.TryLock("binance", "ETHUSDT")
	require.True(t, ok)
	unlockB()

	_, ok = locks.TryLock("binance", "BTCUSDT")
	assert.False(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(waitCtx, "binance", "BTCUSDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA()
	unlock, ok := locks.TryLock("binance", "BTCUSDT")
	require.True(t, ok)
	unlock()
}

func TestSymbolLocksSerializeSameSymbol(t *testing.T) {
	locks := NewSymbolLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), "bybit", "SOLUSDT")
			if err != nil {
				return
			}
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestProtectedOrders(t *testing.T) {
	p := NewProtectedOrders()
	p.Add("b", "binance:BTCUSDT")
	p.Add("a", "bybit:ETHUSDT")
	p.Add("  ", "ignored")

	assert.Equal(t, 2, p.Len())
	assert.True(t, p.Contains(" a "))
	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].OrderID)

	p.Remove("a")
	assert.False(t, p.Contains("a"))
}
