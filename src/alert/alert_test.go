package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (r *recordingSender) Name() string { return "recording" }

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return nil
}

func TestCriticalIsDeduplicatedWithinWindow(t *testing.T) {
	rec := &recordingSender{}
	a := New(Config{DedupWindow: time.Minute, RatePerMinute: 100}, rec)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	a.Critical(ctx, "binance:BTCUSDT", "Rollback failed", map[string]interface{}{"qty": "1"})
	a.Critical(ctx, "binance:BTCUSDT", "Rollback failed", map[string]interface{}{"qty": "1"})
	a.Critical(ctx, "bybit:BTCUSDT", "Rollback failed", nil)
	require.Len(t, rec.titles, 2)
	assert.Equal(t, "[CRITICAL] Rollback failed", rec.titles[0])
	assert.Equal(t, "qty: 1", rec.bodies[0])

	now = now.Add(2 * time.Minute)
	a.Critical(ctx, "binance:BTCUSDT", "Rollback failed", nil)
	assert.Len(t, rec.titles, 3)
}

func TestDeliveryIsRateLimited(t *testing.T) {
	rec := &recordingSender{}
	a := New(Config{RatePerMinute: 2}, rec)
	for _, k := range []string{"a", "b", "c", "d"} {
		a.Warning(context.Background(), k, "Position aged", nil)
	}
	assert.Len(t, rec.titles, 2)
}

func TestWebhookSender(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewWebhookSender(server.URL, time.Second)
	require.NoError(t, s.Send(context.Background(), "[CRITICAL] Missing stop", "symbol: BTCUSDT"))
	assert.Equal(t, "[CRITICAL] Missing stop", got["title"])
	assert.Contains(t, got["text"], "symbol: BTCUSDT")
	assert.NotEmpty(t, got["id"])
}

func TestWebhookSenderReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewWebhookSender(server.URL, time.Second).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
