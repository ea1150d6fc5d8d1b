// Package monitor watches live positions that have been open longer than expected.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

type Warner interface {
	Warning(ctx context.Context, key, title string, fields map[string]interface{})
}

type EventLogger interface {
	LogEvent(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Aged describes one position past MaxAge.
type Aged struct {
	Exchange   string
	Symbol     string
	PositionID uint
	OpenedAt   time.Time
	Age        time.Duration
}

type tracked struct {
	exchange   string
	symbol     string
	positionID uint
	openedAt   time.Time
	lastWarned time.Time
}

// AgedTracker keeps the open time of every live position. Every close path,
// including orphan cleanup, must Untrack.
type AgedTracker struct {
	cfg     Config
	warner  Warner
	events  EventLogger
	mu      sync.Mutex
	entries map[string]*tracked
	now     func() time.Time
	log     *logger.Entry
}

func NewAgedTracker(cfg Config, warner Warner, events EventLogger) *AgedTracker {
	return &AgedTracker{
		cfg:     cfg,
		warner:  warner,
		events:  events,
		entries: make(map[string]*tracked),
		now:     time.Now,
		log:     logger.WithField("component", "aged_monitor"),
	}
}

// Track starts watching p. Tracking an already tracked slot keeps the original
// open time.
func (a *AgedTracker) Track(p model.Position) {
	openedAt := p.OpenedAt
	if openedAt.IsZero() {
		openedAt = a.now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[p.Key()]; ok {
		return
	}
	a.entries[p.Key()] = &tracked{
		exchange:   p.Exchange,
		symbol:     p.Symbol,
		positionID: p.ID,
		openedAt:   openedAt,
	}
}

func (a *AgedTracker) Untrack(exchange, symbol string) {
	a.mu.Lock()
	delete(a.entries, model.Key(exchange, symbol))
	a.mu.Unlock()
}

func (a *AgedTracker) IsTracked(exchange, symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[model.Key(exchange, symbol)]
	return ok
}

func (a *AgedTracker) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Check returns every position older than MaxAge and warns about each at most
// once per WarnEvery.
func (a *AgedTracker) Check(ctx context.Context) []Aged {
	now := a.now()
	var aged, warn []Aged

	a.mu.Lock()
	for _, t := range a.entries {
		age := now.Sub(t.openedAt)
		if a.cfg.MaxAge <= 0 || age < a.cfg.MaxAge {
			continue
		}
		item := Aged{Exchange: t.exchange, Symbol: t.symbol, PositionID: t.positionID, OpenedAt: t.openedAt, Age: age}
		aged = append(aged, item)
		if t.lastWarned.IsZero() || now.Sub(t.lastWarned) >= a.cfg.WarnEvery {
			t.lastWarned = now
			warn = append(warn, item)
		}
	}
	a.mu.Unlock()

	for _, item := range warn {
		fields := map[string]interface{}{
			"exchange":    item.Exchange,
			"symbol":      item.Symbol,
			"position_id": item.PositionID,
			"age":         item.Age.Round(time.Second).String(),
		}
		if a.warner != nil {
			a.warner.Warning(ctx, model.Key(item.Exchange, item.Symbol), "Position open longer than expected", fields)
		} else {
			a.log.WithFields(fields).Warn("Position open longer than expected")
		}
		if a.events != nil {
			if err := a.events.LogEvent(ctx, model.EventAgedPosition, fields); err != nil {
				a.log.WithError(err).Warn("Failed to log aged position event")
			}
		}
	}

	sort.Slice(aged, func(i, j int) bool { return aged[i].OpenedAt.Before(aged[j].OpenedAt) })
	return aged
}

// Run checks on CheckInterval until ctx is done.
func (a *AgedTracker) Run(ctx context.Context) error {
	interval := a.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.log.Info("aged position monitor stopped")
			return nil
		case <-ticker.C:
			a.Check(ctx)
		}
	}
}
