package ledger

import (
	"sort"
	"strings"
	"sync"
)

// ProtectedOrders is the process-wide set of order ids that cleanup sweeps must
// never cancel. Ids enter the moment a stop-loss is accepted and leave only on a
// confirmed cancel or fill.
type ProtectedOrders struct {
	mu  sync.RWMutex
	ids map[string]string // order id -> position key
}

func NewProtectedOrders() *ProtectedOrders {
	return &ProtectedOrders{ids: make(map[string]string)}
}

func (p *ProtectedOrders) Add(orderID, positionKey string) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return
	}
	p.mu.Lock()
	p.ids[orderID] = positionKey
	p.mu.Unlock()
}

func (p *ProtectedOrders) Remove(orderID string) {
	p.mu.Lock()
	delete(p.ids, strings.TrimSpace(orderID))
	p.mu.Unlock()
}

func (p *ProtectedOrders) Contains(orderID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.ids[strings.TrimSpace(orderID)]
	return ok
}

func (p *ProtectedOrders) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}

// Snapshot returns the protected ids with their owning position keys, sorted by id.
func (p *ProtectedOrders) Snapshot() []ProtectedOrder {
	p.mu.RLock()
	out := make([]ProtectedOrder, 0, len(p.ids))
	for id, key := range p.ids {
		out = append(out, ProtectedOrder{OrderID: id, PositionKey: key})
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

type ProtectedOrder struct {
	OrderID     string `json:"order_id"`
	PositionKey string `json:"position_key"`
}
