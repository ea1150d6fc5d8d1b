package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// Market is the slice of the adapter the guard reads.
type Market interface {
	Name() string
	FetchBalance(ctx context.Context) (map[string]exchange.Balance, error)
	FetchSymbolRules(ctx context.Context, symbol string) (*exchange.SymbolRules, error)
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Request is an order intent before normalization. A zero Price means "use the
// current market price".
type Request struct {
	Symbol   string
	Side     model.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Normalized is a request snapped to the exchange grid and checked against balance.
type Normalized struct {
	Symbol   string
	Side     model.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal // reference price used for notional/balance checks
	Notional decimal.Decimal
	Rules    exchange.SymbolRules
}

type cachedRules struct {
	rules     exchange.SymbolRules
	fetchedAt time.Time
}

type cachedBalance struct {
	free      decimal.Decimal
	fetchedAt time.Time
}

// Guard normalizes price/quantity to exchange constraints and pre-checks balance.
// Symbol rules and balances are short-TTL caches rather than locks.
type Guard struct {
	cfg Config

	mu       sync.Mutex
	rules    map[string]cachedRules
	balances map[string]cachedBalance
	warn     map[string]*rate.Limiter

	group singleflight.Group
	now   func() time.Time
	log   *logger.Entry
}

func NewGuard(cfg Config) *Guard {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &Guard{
		cfg:      cfg,
		rules:    make(map[string]cachedRules),
		balances: make(map[string]cachedBalance),
		warn:     make(map[string]*rate.Limiter),
		now:      time.Now,
		log:      logger.WithField("component", "risk_guard"),
	}
}

func declined(m Market, kind exchange.Kind, format string, args ...interface{}) error {
	return &exchange.Error{
		Kind:     kind,
		Exchange: m.Name(),
		Op:       "risk.Normalize",
		Msg:      fmt.Sprintf(format, args...),
	}
}

// Normalize snaps the request to the symbol's step and tick and rejects it before
// any order exists when it cannot be placed.
func (g *Guard) Normalize(ctx context.Context, m Market, req Request) (*Normalized, error) {
	symbol := exchange.NormalizeSymbol(req.Symbol)
	if req.Side != model.SideLong && req.Side != model.SideShort {
		return nil, declined(m, exchange.KindRejected, "side %q is not long/short", req.Side)
	}
	if !req.Quantity.IsPositive() {
		return nil, declined(m, exchange.KindPrecision, "quantity %s must be positive", req.Quantity)
	}

	rules, err := g.Rules(ctx, m, symbol)
	if err != nil {
		return nil, err
	}
	if !rules.Tradeable {
		return nil, declined(m, exchange.KindSymbolNotTradeable, "%s is not trading", symbol)
	}

	price := req.Price
	if !price.IsPositive() {
		if price, err = m.FetchPrice(ctx, symbol); err != nil {
			return nil, err
		}
	}
	price = RoundToTick(price, rules.TickSize)

	qty := FloorToStep(req.Quantity, rules.StepSize)
	if !qty.IsPositive() || qty.LessThan(rules.MinQty) {
		return nil, declined(m, exchange.KindPrecision, "quantity %s below minimum %s for %s (step %s)",
			req.Quantity, rules.MinQty, symbol, rules.StepSize)
	}
	notional := qty.Mul(price)
	if rules.MinNotional.IsPositive() && notional.LessThan(rules.MinNotional) {
		return nil, declined(m, exchange.KindPrecision, "notional %s below minimum %s for %s",
			notional.StringFixed(2), rules.MinNotional, symbol)
	}

	if err := g.reserveBalance(ctx, m, notional); err != nil {
		return nil, err
	}

	return &Normalized{
		Symbol:   symbol,
		Side:     req.Side,
		Quantity: qty,
		Price:    price,
		Notional: notional,
		Rules:    rules,
	}, nil
}

// Rules returns the cached symbol rules, fetching them when missing or expired.
func (g *Guard) Rules(ctx context.Context, m Market, symbol string) (exchange.SymbolRules, error) {
	key := model.Key(m.Name(), symbol)
	g.mu.Lock()
	c, ok := g.rules[key]
	g.mu.Unlock()
	if ok && g.now().Sub(c.fetchedAt) < g.cfg.RulesTTL {
		return c.rules, nil
	}

	v, err, _ := g.group.Do("rules:"+key, func() (interface{}, error) {
		return m.FetchSymbolRules(ctx, symbol)
	})
	if err != nil {
		return exchange.SymbolRules{}, err
	}
	rules := *(v.(*exchange.SymbolRules))
	g.mu.Lock()
	g.rules[key] = cachedRules{rules: rules, fetchedAt: g.now()}
	g.mu.Unlock()
	return rules, nil
}

// reserveBalance checks the free quote balance against the required margin and, on
// success, deducts it from the cached value so concurrent opens see each other.
func (g *Guard) reserveBalance(ctx context.Context, m Market, notional decimal.Decimal) error {
	required := notional.Div(decimal.NewFromInt(g.cfg.Leverage))
	free, err := g.freeBalance(ctx, m)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.balances[m.Name()]; ok {
		free = c.free
	}
	if free.LessThan(required) {
		g.warnInsufficient(m.Name(), free, required)
		return declined(m, exchange.KindInsufficientBalance, "free %s %s, required %s",
			free.StringFixed(2), g.cfg.QuoteAsset, required.StringFixed(2))
	}
	if c, ok := g.balances[m.Name()]; ok {
		c.free = c.free.Sub(required)
		g.balances[m.Name()] = c
	}
	return nil
}

func (g *Guard) freeBalance(ctx context.Context, m Market) (decimal.Decimal, error) {
	name := m.Name()
	g.mu.Lock()
	c, ok := g.balances[name]
	g.mu.Unlock()
	if ok && g.now().Sub(c.fetchedAt) < g.cfg.BalanceTTL {
		return c.free, nil
	}

	v, err, _ := g.group.Do("balance:"+name, func() (interface{}, error) {
		balances, err := m.FetchBalance(ctx)
		if err != nil {
			return nil, err
		}
		free := balances[strings.ToUpper(g.cfg.QuoteAsset)].Free
		g.mu.Lock()
		g.balances[name] = cachedBalance{free: free, fetchedAt: g.now()}
		g.mu.Unlock()
		return free, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// InvalidateBalance forces the next check on exchange to refetch the balance.
func (g *Guard) InvalidateBalance(exchangeName string) {
	g.mu.Lock()
	delete(g.balances, exchangeName)
	g.mu.Unlock()
}

// warnInsufficient logs at most once per WarnInterval per exchange. Caller holds g.mu.
func (g *Guard) warnInsufficient(exchangeName string, free, required decimal.Decimal) {
	lim, ok := g.warn[exchangeName]
	if !ok {
		every := g.cfg.WarnInterval
		if every <= 0 {
			every = time.Minute
		}
		lim = rate.NewLimiter(rate.Every(every), 1)
		g.warn[exchangeName] = lim
	}
	entry := g.log.WithFields(map[string]interface{}{
		"exchange": exchangeName,
		"free":     free.String(),
		"required": required.String(),
	})
	if lim.Allow() {
		entry.Warn("Insufficient balance, declining open")
		return
	}
	entry.Debug("Insufficient balance, declining open")
}
