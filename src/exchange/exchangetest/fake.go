// Package exchangetest provides an in-memory exchange.Adapter for tests.
package exchangetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// Fake simulates one exchange account. Market orders fill immediately at Prices
// and move Positions; stop orders rest in the open order book until cancelled.
type Fake struct {
	mu sync.Mutex

	ExchangeName string
	Balances     map[string]exchange.Balance
	Rules        map[string]exchange.SymbolRules
	Prices       map[string]decimal.Decimal
	Positions    map[string]exchange.Position // by symbol
	Orders       map[string]*exchange.Order   // every order ever accepted
	Open         map[string]*exchange.Order   // resting orders

	Placed   []exchange.OrderRequest
	Canceled []string

	// Delay is applied to every PlaceOrder call, outside the lock.
	Delay time.Duration
	// PlaceHook, when set and returning a non-nil ack or error, replaces the
	// simulated placement.
	PlaceHook  func(req exchange.OrderRequest) (*exchange.OrderAck, error)
	CancelHook func(orderID string) error
	// LostAck, when set and returning an error, runs after a successful simulated
	// placement and returns that error instead of the ack, as when the response
	// never reaches the caller.
	LostAck      func(req exchange.OrderRequest) error
	PositionsErr error

	seq int
}

func New(name string) *Fake {
	return &Fake{
		ExchangeName: name,
		Balances:     map[string]exchange.Balance{"USDT": {Free: decimal.NewFromInt(1000000), Total: decimal.NewFromInt(1000000)}},
		Rules:        make(map[string]exchange.SymbolRules),
		Prices:       make(map[string]decimal.Decimal),
		Positions:    make(map[string]exchange.Position),
		Orders:       make(map[string]*exchange.Order),
		Open:         make(map[string]*exchange.Order),
	}
}

var _ exchange.Adapter = (*Fake)(nil)

func (f *Fake) Name() string { return f.ExchangeName }

func (f *Fake) price(symbol string) decimal.Decimal {
	if p, ok := f.Prices[symbol]; ok {
		return p
	}
	return decimal.NewFromInt(100)
}

func (f *Fake) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	f.mu.Lock()
	f.Placed = append(f.Placed, req)
	hook := f.PlaceHook
	f.mu.Unlock()

	if hook != nil {
		if ack, err := hook(req); ack != nil || err != nil {
			return ack, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("%s-%d", f.ExchangeName, f.seq)
	o := &exchange.Order{
		ID:            id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		RawType:       string(req.Type),
		Status:        model.OrderStatusNew,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		ReduceOnly:    req.ReduceOnly,
		CreatedAt:     time.Now(),
	}

	if req.Type == exchange.OrderTypeMarket {
		if err := f.fill(req); err != nil {
			return nil, err
		}
		o.Status = model.OrderStatusFilled
		o.FilledQuantity = req.Quantity
		o.AvgPrice = f.price(req.Symbol)
	} else {
		f.Open[id] = o
	}
	f.Orders[id] = o
	if f.LostAck != nil {
		if err := f.LostAck(req); err != nil {
			return nil, err
		}
	}
	return &exchange.OrderAck{OrderID: id, ClientOrderID: req.ClientOrderID, Status: o.Status}, nil
}

// fill applies a market order to the position book. Caller holds f.mu.
func (f *Fake) fill(req exchange.OrderRequest) error {
	pos, ok := f.Positions[req.Symbol]
	side := model.NormalizeSide(string(req.Side))
	if req.ReduceOnly {
		if !ok || pos.Side == side {
			return &exchange.Error{Kind: exchange.KindRejected, Exchange: f.ExchangeName, Code: -2022, Msg: "ReduceOnly Order is rejected."}
		}
		pos.Quantity = pos.Quantity.Sub(req.Quantity)
		if !pos.Quantity.IsPositive() {
			delete(f.Positions, req.Symbol)
			return nil
		}
		f.Positions[req.Symbol] = pos
		return nil
	}
	if ok && pos.Side == side {
		pos.Quantity = pos.Quantity.Add(req.Quantity)
	} else {
		pos = exchange.Position{Symbol: req.Symbol, Side: side, Quantity: req.Quantity, EntryPrice: f.price(req.Symbol)}
	}
	f.Positions[req.Symbol] = pos
	return nil
}

func (f *Fake) CancelOrder(_ context.Context, orderID, _ string) error {
	f.mu.Lock()
	hook := f.CancelHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(orderID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.Open[orderID]
	if !ok {
		return &exchange.Error{Kind: exchange.KindOrderNotFound, Exchange: f.ExchangeName, Code: -2011, Msg: "Unknown order sent."}
	}
	delete(f.Open, orderID)
	o.Status = model.OrderStatusCanceled
	f.Canceled = append(f.Canceled, orderID)
	return nil
}

func (f *Fake) FetchOrder(_ context.Context, orderID, _ string) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.Orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *Fake) FetchOrderByClientID(_ context.Context, clientOrderID, _ string) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.Orders {
		if o.ClientOrderID != "" && o.ClientOrderID == clientOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *Fake) FetchPositions(_ context.Context, symbols ...string) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PositionsErr != nil {
		return nil, f.PositionsErr
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[exchange.NormalizeSymbol(s)] = true
	}
	out := make([]exchange.Position, 0, len(f.Positions))
	for symbol, p := range f.Positions {
		if len(want) > 0 && !want[symbol] {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (f *Fake) FetchOpenOrders(_ context.Context, symbol string) ([]exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.Order, 0, len(f.Open))
	for _, o := range f.Open {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) FetchBalance(context.Context) (map[string]exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]exchange.Balance, len(f.Balances))
	for k, v := range f.Balances {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) FetchSymbolRules(_ context.Context, symbol string) (*exchange.SymbolRules, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.Rules[symbol]; ok {
		return &r, nil
	}
	return &exchange.SymbolRules{
		Symbol:      symbol,
		TickSize:    decimal.RequireFromString("0.1"),
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.NewFromInt(5),
		Tradeable:   true,
	}, nil
}

func (f *Fake) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price(symbol), nil
}

// SetPosition puts a position straight into the book, as if opened elsewhere.
func (f *Fake) SetPosition(p exchange.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Positions[p.Symbol] = p
}

// ClearPosition removes a position, as if closed elsewhere.
func (f *Fake) ClearPosition(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Positions, symbol)
}

// AddOpenOrder puts a resting order straight into the book.
func (f *Fake) AddOpenOrder(o exchange.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := o
	f.Open[o.ID] = &cp
	f.Orders[o.ID] = &cp
}

// PlacedOfType returns the placed requests of one order type.
func (f *Fake) PlacedOfType(t exchange.OrderType) []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []exchange.OrderRequest
	for _, r := range f.Placed {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func (f *Fake) CanceledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Canceled...)
}

func (f *Fake) OpenOrderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Open)
}
