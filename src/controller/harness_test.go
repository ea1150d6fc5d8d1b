package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange/exchangetest"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
	"github.com/JacobJanuary/TradingBot-sub006/src/risk"
	"github.com/JacobJanuary/TradingBot-sub006/src/verifier"
)

type memPositions struct {
	mu      sync.Mutex
	nextID  uint
	created []model.Position
	updates map[uint][]map[string]interface{}
}

func (m *memPositions) Create(_ context.Context, p *model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.created = append(m.created, *p)
	return nil
}

func (m *memPositions) Update(_ context.Context, id uint, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updates == nil {
		m.updates = make(map[uint][]map[string]interface{})
	}
	m.updates[id] = append(m.updates[id], fields)
	return nil
}

// last returns the most recent persisted value of field for position id.
func (m *memPositions) last(id uint, field string) interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var v interface{}
	for _, f := range m.updates[id] {
		if x, ok := f[field]; ok {
			v = x
		}
	}
	return v
}

type memOrders struct {
	mu     sync.Mutex
	orders []model.Order
}

func (m *memOrders) Create(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, *o)
	return nil
}

func (m *memOrders) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.Type)
	}
	return out
}

type memEvents struct {
	mu     sync.Mutex
	events []string
}

func (m *memEvents) LogEvent(_ context.Context, eventType string, _ map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
	return nil
}

func (m *memEvents) list() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

type fakeTrailing struct {
	mu      sync.Mutex
	armed   []string
	removed []string
}

func (f *fakeTrailing) Arm(_ context.Context, exchangeName, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = append(f.armed, model.Key(exchangeName, symbol))
	return nil
}

func (f *fakeTrailing) Remove(exchangeName, symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, model.Key(exchangeName, symbol))
}

type fakeAged struct {
	mu        sync.Mutex
	tracked   []string
	untracked []string
}

func (f *fakeAged) Track(p model.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, p.Key())
}

func (f *fakeAged) Untrack(exchangeName, symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untracked = append(f.untracked, model.Key(exchangeName, symbol))
}

type fakeAlerter struct {
	mu       sync.Mutex
	critical []string
}

func (f *fakeAlerter) Critical(_ context.Context, key, _ string, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.critical = append(f.critical, key)
}

type memExceptions struct {
	mu   sync.Mutex
	rows []model.Exception
}

func (m *memExceptions) Create(_ context.Context, exc *model.Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *exc)
	return nil
}

type harness struct {
	ex         *exchangetest.Fake
	ledger     *ledger.Ledger
	locks      *ledger.SymbolLocks
	protected  *ledger.ProtectedOrders
	positions  *memPositions
	orders     *memOrders
	events     *memEvents
	trailing   *fakeTrailing
	aged       *fakeAged
	alerts     *fakeAlerter
	exceptions *memExceptions
	closer     *Closer
	opener     *Opener
}

func testConfig() Config {
	return Config{
		StopLossPercent:   decimal.NewFromInt(2),
		StopLossAttempts:  2,
		RollbackAttempts:  2,
		RetryInitialDelay: time.Millisecond,
		RetryMultiplier:   1,
		RetryMaxDelay:     time.Millisecond,
		RollbackTimeout:   time.Second,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ex:         exchangetest.New("binance"),
		ledger:     ledger.New(),
		locks:      ledger.NewSymbolLocks(),
		protected:  ledger.NewProtectedOrders(),
		positions:  &memPositions{},
		orders:     &memOrders{},
		events:     &memEvents{},
		trailing:   &fakeTrailing{},
		aged:       &fakeAged{},
		alerts:     &fakeAlerter{},
		exceptions: &memExceptions{},
	}
	v := verifier.New(h.ex, nil, verifier.Config{
		Timeout:      time.Second,
		Attempts:     3,
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		MaxDelay:     time.Millisecond,
	})
	h.closer = NewCloser(h.ex, CloserDeps{
		Ledger:    h.ledger,
		Locks:     h.locks,
		Protected: h.protected,
		Trailing:  h.trailing,
		Aged:      h.aged,
		Verifier:  v,
		Positions: h.positions,
		Orders:    h.orders,
		Events:    h.events,
	})
	h.opener = NewOpener(h.ex, testConfig(), OpenerDeps{
		Ledger:     h.ledger,
		Locks:      h.locks,
		Protected:  h.protected,
		Guard:      risk.NewGuard(risk.Config{QuoteAsset: "USDT", Leverage: 1, BalanceTTL: time.Minute, RulesTTL: time.Hour}),
		Verifier:   v,
		Closer:     h.closer,
		Trailing:   h.trailing,
		Aged:       h.aged,
		Alerter:    h.alerts,
		Positions:  h.positions,
		Orders:     h.orders,
		Events:     h.events,
		Exceptions: h.exceptions,
	})
	h.opener.sleep = func(context.Context, time.Duration) error { return nil }
	return h
}
