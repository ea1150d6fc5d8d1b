package exchange

import (
	"sync"
	"time"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// PositionCache holds the latest stream-reported position per exchange/symbol.
// A zero-quantity update means the exchange reported the position closed.
type PositionCache struct {
	mu      sync.RWMutex
	entries map[string]cachedPosition
	maxAge  time.Duration
	now     func() time.Time
}

type cachedPosition struct {
	update     PositionUpdate
	receivedAt time.Time
}

// NewPositionCache creates a cache whose entries are considered stale after maxAge.
// maxAge <= 0 disables staleness.
func NewPositionCache(maxAge time.Duration) *PositionCache {
	return &PositionCache{
		entries: make(map[string]cachedPosition),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Apply stores an update from the push stream.
func (c *PositionCache) Apply(u PositionUpdate) {
	u.Symbol = NormalizeSymbol(u.Symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[model.Key(u.Exchange, u.Symbol)] = cachedPosition{update: u, receivedAt: c.now()}
}

// Get returns the latest fresh update for exchange/symbol.
func (c *PositionCache) Get(exchange, symbol string) (PositionUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[model.Key(exchange, NormalizeSymbol(symbol))]
	if !ok {
		return PositionUpdate{}, false
	}
	if c.maxAge > 0 && c.now().Sub(e.receivedAt) > c.maxAge {
		return PositionUpdate{}, false
	}
	return e.update, true
}

// Len returns the number of cached entries, fresh or not.
func (c *PositionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
