// REST CLIENT FOR BINANCE USDT-M FUTURES
// RESTY ONLY, RETRY ON READS
package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/externalmodel"
	"github.com/JacobJanuary/TradingBot-sub006/src/mapper"
)

const defaultBinanceBaseURL = "https://fapi.binance.com"

// BinanceFuturesClient implements exchange.Adapter over the USDT-M futures REST API.
type BinanceFuturesClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow time.Duration
	http       *resty.Client
	orders     *resty.Client
	now        func() time.Time
}

var _ exchange.Adapter = (*BinanceFuturesClient)(nil)

func NewBinanceFuturesClient(cfg Config) *BinanceFuturesClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBinanceBaseURL
		logger.WithField("base_url", baseURL).Warn("No Binance base URL provided, using default")
	}
	recv := cfg.RecvWindow
	if recv <= 0 {
		recv = 5 * time.Second
	}
	return &BinanceFuturesClient{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    baseURL,
		recvWindow: recv,
		http:       newHTTPClient(baseURL, cfg.Timeout),
		orders:     newOrderHTTPClient(baseURL, cfg.Timeout),
		now:        time.Now,
	}
}

func (c *BinanceFuturesClient) Name() string { return exchange.NameBinance }

// signQuery appends timestamp, recvWindow and the HMAC signature to params.
func (c *BinanceFuturesClient) signQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	query := params.Encode()
	return query + "&signature=" + hmacSHA256Hex(c.apiSecret, query)
}

func (c *BinanceFuturesClient) doRequest(
	ctx context.Context,
	op, method, path string,
	params url.Values,
	signed bool,
	out interface{},
) error {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		query = c.signQuery(params)
	}
	target := path
	if query != "" {
		target += "?" + query
	}

	resp, err := clientFor(method, c.http, c.orders).R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		Execute(method, target)
	if err != nil {
		return transportError(exchange.NameBinance, op, err)
	}

	if resp.StatusCode() != http.StatusOK {
		var be externalmodel.BinanceError
		_ = json.Unmarshal(resp.Body(), &be)
		if be.Msg == "" {
			be.Msg = strings.TrimSpace(string(resp.Body()))
		}
		return classify(exchange.NameBinance, op, resp.StatusCode(), be.Code, be.Msg, BinanceErrorCodes)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("binance %s: decode response: %w", op, err)
	}
	return nil
}

func (c *BinanceFuturesClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", exchange.NormalizeSymbol(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "RESULT")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	switch req.Type {
	case exchange.OrderTypeLimit:
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	case exchange.OrderTypeStopMarket:
		params.Set("stopPrice", req.StopPrice.String())
		params.Set("workingType", "MARK_PRICE")
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	logger.WithFields(map[string]interface{}{
		"exchange":  exchange.NameBinance,
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"qty":       req.Quantity.String(),
		"stop":      req.StopPrice.String(),
		"reduce":    req.ReduceOnly,
		"client_id": req.ClientOrderID,
	}).Info("Placing order")

	var raw externalmodel.BinanceOrder
	if err := c.doRequest(ctx, "PlaceOrder", http.MethodPost, "/fapi/v1/order", params, true, &raw); err != nil {
		return nil, err
	}
	return mapper.MapBinanceAck(&raw), nil
}

func (c *BinanceFuturesClient) CancelOrder(ctx context.Context, orderID, symbol string) error {
	params := url.Values{}
	params.Set("symbol", exchange.NormalizeSymbol(symbol))
	params.Set("orderId", orderID)
	return c.doRequest(ctx, "CancelOrder", http.MethodDelete, "/fapi/v1/order", params, true, nil)
}

// FetchOrder returns (nil, nil) when Binance reports the order does not exist.
func (c *BinanceFuturesClient) FetchOrder(ctx context.Context, orderID, symbol string) (*exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", exchange.NormalizeSymbol(symbol))
	params.Set("orderId", orderID)

	var raw externalmodel.BinanceOrder
	err := c.doRequest(ctx, "FetchOrder", http.MethodGet, "/fapi/v1/order", params, true, &raw)
	if exchange.KindOf(err) == exchange.KindOrderNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return mapper.MapBinanceOrder(&raw), nil
}

// FetchOrderByClientID queries by origClientOrderId; (nil, nil) when unknown.
func (c *BinanceFuturesClient) FetchOrderByClientID(ctx context.Context, clientOrderID, symbol string) (*exchange.Order, error) {
	params := url.Values{}
	params.Set("symbol", exchange.NormalizeSymbol(symbol))
	params.Set("origClientOrderId", clientOrderID)

	var raw externalmodel.BinanceOrder
	err := c.doRequest(ctx, "FetchOrderByClientID", http.MethodGet, "/fapi/v1/order", params, true, &raw)
	if exchange.KindOf(err) == exchange.KindOrderNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return mapper.MapBinanceOrder(&raw), nil
}

func (c *BinanceFuturesClient) FetchPositions(ctx context.Context, symbols ...string) ([]exchange.Position, error) {
	params := url.Values{}
	if len(symbols) == 1 {
		params.Set("symbol", exchange.NormalizeSymbol(symbols[0]))
	}
	var rows []externalmodel.BinancePositionRisk
	if err := c.doRequest(ctx, "FetchPositions", http.MethodGet, "/fapi/v2/positionRisk", params, true, &rows); err != nil {
		return nil, err
	}
	return filterPositions(mapper.MapBinancePositions(rows), symbols), nil
}

func (c *BinanceFuturesClient) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", exchange.NormalizeSymbol(symbol))
	}
	var rows []externalmodel.BinanceOrder
	if err := c.doRequest(ctx, "FetchOpenOrders", http.MethodGet, "/fapi/v1/openOrders", params, true, &rows); err != nil {
		return nil, err
	}
	out := make([]exchange.Order, 0, len(rows))
	for i := range rows {
		out = append(out, *mapper.MapBinanceOrder(&rows[i]))
	}
	return out, nil
}

func (c *BinanceFuturesClient) FetchBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	var rows []externalmodel.BinanceBalance
	if err := c.doRequest(ctx, "FetchBalance", http.MethodGet, "/fapi/v2/balance", nil, true, &rows); err != nil {
		return nil, err
	}
	return mapper.MapBinanceBalances(rows), nil
}

func (c *BinanceFuturesClient) FetchSymbolRules(ctx context.Context, symbol string) (*exchange.SymbolRules, error) {
	symbol = exchange.NormalizeSymbol(symbol)
	var info externalmodel.BinanceExchangeInfo
	if err := c.doRequest(ctx, "FetchSymbolRules", http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return nil, err
	}
	for _, s := range info.Symbols {
		if strings.EqualFold(s.Symbol, symbol) {
			return mapper.MapBinanceSymbolRules(s), nil
		}
	}
	return nil, &exchange.Error{
		Kind:     exchange.KindSymbolNotTradeable,
		Exchange: exchange.NameBinance,
		Op:       "FetchSymbolRules",
		Msg:      "unknown symbol " + symbol,
	}
}

func (c *BinanceFuturesClient) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", exchange.NormalizeSymbol(symbol))
	var tk externalmodel.BinanceTickerPrice
	if err := c.doRequest(ctx, "FetchPrice", http.MethodGet, "/fapi/v1/ticker/price", params, false, &tk); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(tk.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("binance FetchPrice: invalid price %q for %s", tk.Price, symbol)
	}
	return price, nil
}

// CreateListenKey opens a user-data stream session.
func (c *BinanceFuturesClient) CreateListenKey(ctx context.Context) (string, error) {
	var lk externalmodel.BinanceListenKey
	if err := c.doRequest(ctx, "CreateListenKey", http.MethodPost, "/fapi/v1/listenKey", nil, false, &lk); err != nil {
		return "", err
	}
	if lk.ListenKey == "" {
		return "", fmt.Errorf("binance CreateListenKey: empty listen key")
	}
	return lk.ListenKey, nil
}

// KeepAliveListenKey extends the current user-data stream session by 60 minutes.
func (c *BinanceFuturesClient) KeepAliveListenKey(ctx context.Context) error {
	return c.doRequest(ctx, "KeepAliveListenKey", http.MethodPut, "/fapi/v1/listenKey", nil, false, nil)
}

func filterPositions(in []exchange.Position, symbols []string) []exchange.Position {
	if len(symbols) == 0 {
		return in
	}
	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[exchange.NormalizeSymbol(s)] = struct{}{}
	}
	out := in[:0]
	for _, p := range in {
		if _, ok := want[p.Symbol]; ok {
			out = append(out, p)
		}
	}
	return out
}
