package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/externalmodel"
	"github.com/JacobJanuary/TradingBot-sub006/src/mapper"
	"github.com/JacobJanuary/TradingBot-sub006/src/utils"
)

const (
	defaultBinanceStreamURL = "wss://fstream.binance.com/ws"
	defaultBybitStreamURL   = "wss://stream.bybit.com/v5/private"
	listenKeyKeepAlive      = 30 * time.Minute
	bybitPingInterval       = 20 * time.Second
	streamBufferSize        = 64
)

var streamReconnect = utils.Backoff{Initial: time.Second, Multiplier: 2, Max: time.Minute}

// streamSession dials once and forwards updates until the connection fails.
type streamSession func(ctx context.Context, out chan<- exchange.PositionUpdate) error

// runStream keeps a session alive with reconnect backoff until ctx is done.
func runStream(ctx context.Context, log *logger.Entry, session streamSession) <-chan exchange.PositionUpdate {
	out := make(chan exchange.PositionUpdate, streamBufferSize)
	go func() {
		defer close(out)
		attempt := 0
		for {
			started := time.Now()
			err := session(ctx, out)
			if ctx.Err() != nil {
				log.Info("position stream stopped")
				return
			}
			if time.Since(started) > time.Minute {
				attempt = 0
			}
			delay := streamReconnect.Delay(attempt)
			attempt++
			log.WithError(err).WithField("retry_in", delay.String()).Warn("position stream disconnected, reconnecting")
			if utils.Sleep(ctx, delay) != nil {
				return
			}
		}
	}()
	return out
}

// closeOnDone closes conn when ctx is done so a blocked ReadMessage returns.
func closeOnDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()
	return func() { close(done) }
}

func forward(ctx context.Context, out chan<- exchange.PositionUpdate, updates []exchange.PositionUpdate) {
	for _, u := range updates {
		select {
		case out <- u:
		case <-ctx.Done():
			return
		}
	}
}

type listenKeyClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context) error
}

// BinanceUserStream reads ACCOUNT_UPDATE events from the futures user-data stream.
type BinanceUserStream struct {
	client  listenKeyClient
	baseURL string
	dialer  *websocket.Dialer
	log     *logger.Entry
}

var _ exchange.PositionStream = (*BinanceUserStream)(nil)

func NewBinanceUserStream(client listenKeyClient, streamURL string) *BinanceUserStream {
	if streamURL == "" {
		streamURL = defaultBinanceStreamURL
	}
	return &BinanceUserStream{
		client:  client,
		baseURL: strings.TrimSuffix(streamURL, "/"),
		dialer:  websocket.DefaultDialer,
		log:     logger.WithFields(logger.Fields{"component": "stream", "exchange": exchange.NameBinance}),
	}
}

func (s *BinanceUserStream) Subscribe(ctx context.Context) (<-chan exchange.PositionUpdate, error) {
	if s.client == nil {
		return nil, fmt.Errorf("binance user stream: no REST client")
	}
	return runStream(ctx, s.log, s.session), nil
}

func (s *BinanceUserStream) session(ctx context.Context, out chan<- exchange.PositionUpdate) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenKey, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	conn, _, err := s.dialer.DialContext(ctx, s.baseURL+"/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	stop := closeOnDone(ctx, conn)
	defer stop()
	s.log.Info("position stream connected")

	go func() {
		ticker := time.NewTicker(listenKeyKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.client.KeepAliveListenKey(ctx); err != nil {
					s.log.WithError(err).Warn("listen key keepalive failed")
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		forward(ctx, out, s.decode(msg))
	}
}

func (s *BinanceUserStream) decode(msg []byte) []exchange.PositionUpdate {
	var ev externalmodel.BinanceStreamEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		s.log.WithError(err).Debug("unparseable stream frame")
		return nil
	}
	if ev.EventType != "ACCOUNT_UPDATE" || len(ev.Account) == 0 {
		return nil
	}
	var acct externalmodel.BinanceAccountUpdate
	if err := json.Unmarshal(ev.Account, &acct); err != nil {
		s.log.WithError(err).Warn("unparseable ACCOUNT_UPDATE")
		return nil
	}
	return mapper.MapBinanceAccountUpdate(exchange.NameBinance, ev.EventTime, acct)
}

// BybitPositionStream reads the private "position" topic.
type BybitPositionStream struct {
	apiKey    string
	apiSecret string
	url       string
	dialer    *websocket.Dialer
	now       func() time.Time
	log       *logger.Entry
}

var _ exchange.PositionStream = (*BybitPositionStream)(nil)

func NewBybitPositionStream(cfg Config) *BybitPositionStream {
	u := cfg.StreamURL
	if u == "" {
		u = defaultBybitStreamURL
	}
	return &BybitPositionStream{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		url:       u,
		dialer:    websocket.DefaultDialer,
		now:       time.Now,
		log:       logger.WithFields(logger.Fields{"component": "stream", "exchange": exchange.NameBybit}),
	}
}

func (s *BybitPositionStream) Subscribe(ctx context.Context) (<-chan exchange.PositionUpdate, error) {
	return runStream(ctx, s.log, s.session), nil
}

// authFrame signs "GET/realtime"+expires as required by the private stream.
func (s *BybitPositionStream) authFrame() map[string]interface{} {
	expires := s.now().Add(10 * time.Second).UnixMilli()
	sig := hmacSHA256Hex(s.apiSecret, "GET/realtime"+strconv.FormatInt(expires, 10))
	return map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{s.apiKey, expires, sig},
	}
}

func (s *BybitPositionStream) session(ctx context.Context, out chan<- exchange.PositionUpdate) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	stop := closeOnDone(ctx, conn)
	defer stop()

	if err := conn.WriteJSON(s.authFrame()); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": []string{"position"}}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("position stream connected")

	pingErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(bybitPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					pingErr <- err
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case perr := <-pingErr:
				return fmt.Errorf("ping: %w", perr)
			default:
			}
			return err
		}
		updates, err := s.decode(msg)
		if err != nil {
			return err
		}
		forward(ctx, out, updates)
	}
}

// decode returns an error only for a rejected auth, which needs a fresh session.
func (s *BybitPositionStream) decode(msg []byte) ([]exchange.PositionUpdate, error) {
	var frame externalmodel.BybitStreamMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		s.log.WithError(err).Debug("unparseable stream frame")
		return nil, nil
	}
	if frame.Op == "auth" && frame.Success != nil && !*frame.Success {
		return nil, fmt.Errorf("auth rejected: %s", frame.RetMsg)
	}
	if frame.Topic != "position" || len(frame.Data) == 0 {
		return nil, nil
	}
	var rows []externalmodel.BybitStreamPosition
	if err := json.Unmarshal(frame.Data, &rows); err != nil {
		s.log.WithError(err).Warn("unparseable position frame")
		return nil, nil
	}
	return mapper.MapBybitStreamPositions(exchange.NameBybit, frame.CreationTime, rows), nil
}
