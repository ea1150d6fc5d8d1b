// Package ledger holds the runtime authority on open positions: an injected in-memory
// store, the per-symbol locks that serialize stop-field updates, and the set of
// protected order ids.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

var (
	ErrSlotTaken           = errors.New("ledger: position slot already taken")
	ErrNotFound            = errors.New("ledger: position not found")
	ErrEntryPriceImmutable = errors.New("ledger: entry price cannot change once set")
	ErrStatusRegression    = errors.New("ledger: position status cannot move backwards")
)

// Ledger maps exchange:symbol to the single live Position for that slot.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	reserved  map[string]struct{}
}

func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*model.Position),
		reserved:  make(map[string]struct{}),
	}
}

// Reserve claims the slot for an open in flight. It fails with ErrSlotTaken when
// another open holds the slot or a live position already exists there. The release
// func frees the reservation and is idempotent.
func (l *Ledger) Reserve(exchange, symbol string) (func(), error) {
	key := model.Key(exchange, symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reserved[key]; ok {
		return nil, fmt.Errorf("%w: %s (open in flight)", ErrSlotTaken, key)
	}
	if p, ok := l.positions[key]; ok && p.IsLive() {
		return nil, fmt.Errorf("%w: %s (position %d is %s)", ErrSlotTaken, key, p.ID, p.Status)
	}
	l.reserved[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.reserved, key)
			l.mu.Unlock()
		})
	}, nil
}

func checkTransition(prev, next *model.Position) error {
	if prev == nil {
		return nil
	}
	if !prev.EntryPrice.IsZero() && !next.EntryPrice.Equal(prev.EntryPrice) {
		return fmt.Errorf("%w: %s -> %s", ErrEntryPriceImmutable, prev.EntryPrice, next.EntryPrice)
	}
	if !model.CanTransition(prev.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, prev.Status, next.Status)
	}
	return nil
}

// Put inserts or replaces the position in its slot, enforcing the entry price and
// status invariants against any existing record.
func (l *Ledger) Put(p model.Position) error {
	key := p.Key()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := checkTransition(l.positions[key], &p); err != nil {
		return err
	}
	cp := p
	l.positions[key] = &cp
	return nil
}

// Get returns a copy of the position in the slot.
func (l *Ledger) Get(exchange, symbol string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[model.Key(exchange, symbol)]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// HasLive reports whether a non-closed position occupies the slot.
func (l *Ledger) HasLive(exchange, symbol string) bool {
	p, ok := l.Get(exchange, symbol)
	return ok && p.IsLive()
}

// Update applies fn to a copy of the position and stores the result if fn succeeds
// and the invariants hold. Callers that touch stop fields hold the symbol lock.
func (l *Ledger) Update(exchange, symbol string, fn func(p *model.Position) error) (model.Position, error) {
	key := model.Key(exchange, symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, ok := l.positions[key]
	if !ok {
		return model.Position{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	next := *prev
	if err := fn(&next); err != nil {
		return *prev, err
	}
	if next.Key() != key {
		return *prev, fmt.Errorf("ledger: update may not move %s to %s", key, next.Key())
	}
	if err := checkTransition(prev, &next); err != nil {
		return *prev, err
	}
	l.positions[key] = &next
	return next, nil
}

// Remove drops the slot. Only called after exchange-confirmed closure.
func (l *Ledger) Remove(exchange, symbol string) (model.Position, bool) {
	key := model.Key(exchange, symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[key]
	if !ok {
		return model.Position{}, false
	}
	delete(l.positions, key)
	return *p, true
}

// Active returns copies of every position in the ledger, ordered by key.
func (l *Ledger) Active() []model.Position {
	l.mu.RLock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ByExchange returns the positions held on one exchange.
func (l *Ledger) ByExchange(exchange string) []model.Position {
	all := l.Active()
	out := all[:0]
	for _, p := range all {
		if strings.EqualFold(strings.TrimSpace(p.Exchange), strings.TrimSpace(exchange)) {
			out = append(out, p)
		}
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Load replaces the ledger content with the persisted non-closed positions and seeds
// the protected set from their stop-loss order ids. Returns the number loaded.
func (l *Ledger) Load(positions []model.Position, protected *ProtectedOrders) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]*model.Position, len(positions))
	n := 0
	for i := range positions {
		p := positions[i]
		if !p.IsLive() {
			continue
		}
		l.positions[p.Key()] = &p
		if protected != nil && p.HasProtection() {
			protected.Add(p.StopLossOrderID, p.Key())
		}
		n++
	}
	return n
}
