package ledger

import (
	"context"
	"sync"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// SymbolLocks serializes work on one exchange/symbol slot. Unrelated symbols never
// contend. Each lock is a one-slot channel so waiting can honour ctx.
type SymbolLocks struct {
	locks sync.Map // key -> chan struct{}
}

func NewSymbolLocks() *SymbolLocks {
	return &SymbolLocks{}
}

func (s *SymbolLocks) slot(key string) chan struct{} {
	if v, ok := s.locks.Load(key); ok {
		return v.(chan struct{})
	}
	v, _ := s.locks.LoadOrStore(key, make(chan struct{}, 1))
	return v.(chan struct{})
}

// Lock blocks until the slot is free or ctx is done. The returned unlock is safe to
// call more than once.
func (s *SymbolLocks) Lock(ctx context.Context, exchange, symbol string) (func(), error) {
	ch := s.slot(model.Key(exchange, symbol))
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

// TryLock acquires the slot only if it is free right now.
func (s *SymbolLocks) TryLock(exchange, symbol string) (func(), bool) {
	ch := s.slot(model.Key(exchange, symbol))
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, true
	default:
		return nil, false
	}
}
