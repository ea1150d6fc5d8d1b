// Package alert escalates conditions a human must act on: a position left open
// after a failed rollback, or a live position without a stop.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	LevelWarning  = "WARNING"
	LevelCritical = "CRITICAL"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Alerter fans alerts out to its senders. The local log line is always written;
// remote delivery is deduplicated per key and rate limited.
type Alerter struct {
	senders []Sender
	window  time.Duration
	limiter *rate.Limiter

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
	log  *logger.Entry
}

func New(cfg Config, senders ...Sender) *Alerter {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Alerter{
		senders: senders,
		window:  cfg.DedupWindow,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		seen:    make(map[string]time.Time),
		now:     time.Now,
		log:     logger.WithField("component", "alert"),
	}
}

// Critical reports a condition that can lose money if nobody acts. key groups
// repeats of the same condition, e.g. "binance:BTCUSDT".
func (a *Alerter) Critical(ctx context.Context, key, title string, fields map[string]interface{}) {
	a.raise(ctx, LevelCritical, key, title, fields)
}

func (a *Alerter) Warning(ctx context.Context, key, title string, fields map[string]interface{}) {
	a.raise(ctx, LevelWarning, key, title, fields)
}

func (a *Alerter) raise(ctx context.Context, level, key, title string, fields map[string]interface{}) {
	entry := a.log.WithFields(fields).WithField("alert_key", key)
	if level == LevelCritical {
		entry.Error(level + ": " + title)
	} else {
		entry.Warn(level + ": " + title)
	}

	if len(a.senders) == 0 || !a.admit(level+"|"+key+"|"+title) {
		return
	}
	if !a.limiter.Allow() {
		entry.Warn("Alert delivery rate limited")
		return
	}

	message := format(fields)
	for _, s := range a.senders {
		if err := s.Send(ctx, fmt.Sprintf("[%s] %s", level, title), message); err != nil {
			entry.WithError(err).WithField("sender", s.Name()).Error("Alert delivery failed")
		}
	}
}

// admit reports whether dedupKey has not been delivered within the window.
func (a *Alerter) admit(dedupKey string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if last, ok := a.seen[dedupKey]; ok && a.window > 0 && now.Sub(last) < a.window {
		return false
	}
	a.seen[dedupKey] = now
	for k, t := range a.seen {
		if a.window > 0 && now.Sub(t) >= a.window {
			delete(a.seen, k)
		}
	}
	return true
}

func format(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, fields[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
