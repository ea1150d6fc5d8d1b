package executors

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/exchange/exchangetest"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) OnPrice(_ context.Context, exchangeName, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, model.Key(exchangeName, symbol)+"@"+price.String())
	return nil
}

func (s *recordingSink) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.calls...)
	sort.Strings(out)
	return out
}

type chanStream struct{ updates []exchange.PositionUpdate }

func (s chanStream) Subscribe(ctx context.Context) (<-chan exchange.PositionUpdate, error) {
	out := make(chan exchange.PositionUpdate, len(s.updates))
	for _, u := range s.updates {
		out <- u
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func put(t *testing.T, l *ledger.Ledger, exchangeName, symbol, status string) {
	t.Helper()
	require.NoError(t, l.Put(model.Position{
		Exchange: exchangeName, Symbol: symbol, Side: model.SideLong,
		Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(1), Status: status,
	}))
}

func TestPollPricesOnlyActivePositions(t *testing.T) {
	l := ledger.New()
	put(t, l, "binance", "BTCUSDT", model.PositionStatusActive)
	put(t, l, "bybit", "ETHUSDT", model.PositionStatusActive)
	put(t, l, "binance", "SOLUSDT", model.PositionStatusPending)
	put(t, l, "okx", "XRPUSDT", model.PositionStatusActive)

	binance := exchangetest.New("binance")
	binance.Prices["BTCUSDT"] = decimal.NewFromInt(40000)
	bybit := exchangetest.New("bybit")
	bybit.Prices["ETHUSDT"] = decimal.NewFromInt(2000)

	sink := &recordingSink{}
	n := PollPrices(context.Background(), Config{PriceConcurrency: 2}, l,
		map[string]PriceSource{"binance": binance, "bybit": bybit}, sink)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"binance:BTCUSDT@40000", "bybit:ETHUSDT@2000"}, sink.list())
}

func TestConsumeStreamFillsCache(t *testing.T) {
	cache := exchange.NewPositionCache(time.Minute)
	stream := chanStream{updates: []exchange.PositionUpdate{{
		Exchange: "bybit", Symbol: "ETHUSDT", Side: model.SideLong,
		Quantity: decimal.NewFromInt(2), EventTime: time.Now(),
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ConsumeStream(ctx, stream, cache) }()

	require.Eventually(t, func() bool {
		_, ok := cache.Get("bybit", "ETHUSDT")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestStartLoopStopsWithContext(t *testing.T) {
	var ran sync.WaitGroup
	ran.Add(2)
	worker := WorkerFunc(func(ctx context.Context) error {
		ran.Done()
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartLoop(ctx, Config{PriceInterval: 10 * time.Millisecond}, Loops{
			Ledger:  ledger.New(),
			Prices:  map[string]PriceSource{"binance": exchangetest.New("binance")},
			Sink:    &recordingSink{},
			Workers: []Worker{worker, worker},
		})
	}()
	ran.Wait()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loops did not stop")
	}
}

func TestStartLoopReturnsWorkerError(t *testing.T) {
	boom := errors.New("boom")
	err := StartLoop(context.Background(), Config{}, Loops{
		Ledger: ledger.New(),
		Workers: []Worker{
			WorkerFunc(func(context.Context) error { return boom }),
			WorkerFunc(func(ctx context.Context) error { <-ctx.Done(); return nil }),
		},
	})
	assert.ErrorIs(t, err, boom)
}
