package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

type fakeListenKeys struct{}

func (fakeListenKeys) CreateListenKey(context.Context) (string, error) { return "lk-1", nil }
func (fakeListenKeys) KeepAliveListenKey(context.Context) error        { return nil }

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestBinanceUserStreamDeliversAccountUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lk-1", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"ORDER_TRADE_UPDATE","E":1}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"e":"ACCOUNT_UPDATE","E":1700000000000,"a":{"m":"ORDER","P":[{"s":"BTCUSDT","pa":"-0.5","ep":"40000","ps":"BOTH"}]}}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream := NewBinanceUserStream(fakeListenKeys{}, wsURL(server))
	updates, err := stream.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case u := <-updates:
		assert.Equal(t, "binance", u.Exchange)
		assert.Equal(t, "BTCUSDT", u.Symbol)
		assert.Equal(t, model.SideShort, u.Side)
		assert.Equal(t, "0.5", u.Quantity.String())
	case <-ctx.Done():
		t.Fatal("no update received")
	}

	cancel()
	for range updates {
	}
}

func TestBybitPositionStreamAuthenticatesAndDecodes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ops := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			ops <- frame["op"].(string)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"auth","success":true}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"topic":"position","creationTime":1700000000000,"data":[{"symbol":"ETHUSDT","side":"Buy","size":"2","entryPrice":"2000","markPrice":"2010"}]}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream := NewBybitPositionStream(Config{APIKey: "k", APISecret: "s", StreamURL: wsURL(server)})
	updates, err := stream.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case u := <-updates:
		assert.Equal(t, "bybit", u.Exchange)
		assert.Equal(t, model.SideLong, u.Side)
		assert.Equal(t, "2", u.Quantity.String())
	case <-ctx.Done():
		t.Fatal("no update received")
	}
	assert.Equal(t, "auth", <-ops)
	assert.Equal(t, "subscribe", <-ops)

	cancel()
	for range updates {
	}
}

func TestBybitStreamRejectsFailedAuth(t *testing.T) {
	s := NewBybitPositionStream(Config{})
	_, err := s.decode([]byte(`{"op":"auth","success":false,"ret_msg":"invalid key"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")

	updates, err := s.decode([]byte(`{"op":"pong"}`))
	require.NoError(t, err)
	assert.Empty(t, updates)
}
