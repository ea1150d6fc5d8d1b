// REST CLIENT FOR BYBIT V5 (LINEAR)
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
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

const (
	defaultBybitBaseURL = "https://api.bybit.com"
	bybitCategory       = "linear"
	bybitSettleCoin     = "USDT"
)

// BybitClient implements exchange.Adapter over the v5 unified REST API.
type BybitClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow time.Duration
	http       *resty.Client
	orders     *resty.Client
	now        func() time.Time
}

var _ exchange.Adapter = (*BybitClient)(nil)

func NewBybitClient(cfg Config) *BybitClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBybitBaseURL
		logger.WithField("base_url", baseURL).Warn("No Bybit base URL provided, using default")
	}
	recv := cfg.RecvWindow
	if recv <= 0 {
		recv = 5 * time.Second
	}
	return &BybitClient{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    baseURL,
		recvWindow: recv,
		http:       newHTTPClient(baseURL, cfg.Timeout),
		orders:     newOrderHTTPClient(baseURL, cfg.Timeout),
		now:        time.Now,
	}
}

func (c *BybitClient) Name() string { return exchange.NameBybit }

// bybitSign computes the v5 signature: timestamp + apiKey + recvWindow + payload.
func bybitSign(secret, apiKey string, ts int64, recvWindow int64, payload string) string {
	return hmacSHA256Hex(secret, strconv.FormatInt(ts, 10)+apiKey+strconv.FormatInt(recvWindow, 10)+payload)
}

func (c *BybitClient) doRequest(
	ctx context.Context,
	op, method, path string,
	params url.Values,
	body map[string]interface{},
	out interface{},
) error {
	ts := c.now().UnixMilli()
	recv := c.recvWindow.Milliseconds()

	req := clientFor(method, c.http, c.orders).R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", strconv.FormatInt(ts, 10)).
		SetHeader("X-BAPI-RECV-WINDOW", strconv.FormatInt(recv, 10))

	target := path
	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bybit %s: encode body: %w", op, err)
		}
		payload = string(b)
		req = req.SetBody(b).SetHeader("Content-Type", "application/json")
	} else if params != nil {
		payload = params.Encode()
		if payload != "" {
			target += "?" + payload
		}
	}
	req = req.SetHeader("X-BAPI-SIGN", bybitSign(c.apiSecret, c.apiKey, ts, recv, payload))

	resp, err := req.Execute(method, target)
	if err != nil {
		return transportError(exchange.NameBybit, op, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return classify(exchange.NameBybit, op, resp.StatusCode(), 0, strings.TrimSpace(string(resp.Body())), BybitErrorCodes)
	}

	var env externalmodel.BybitResponse
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("bybit %s: decode envelope: %w", op, err)
	}
	if env.RetCode != 0 {
		return classify(exchange.NameBybit, op, resp.StatusCode(), env.RetCode, env.RetMsg, BybitErrorCodes)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("bybit %s: decode result: %w", op, err)
	}
	return nil
}

func bybitSideLabel(side exchange.OrderSide) string {
	if side == exchange.SideSell {
		return "Sell"
	}
	return "Buy"
}

func (c *BybitClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderAck, error) {
	body := map[string]interface{}{
		"category":    bybitCategory,
		"symbol":      exchange.NormalizeSymbol(req.Symbol),
		"side":        bybitSideLabel(req.Side),
		"orderType":   "Market",
		"qty":         req.Quantity.String(),
		"positionIdx": 0,
	}
	if req.ClientOrderID != "" {
		body["orderLinkId"] = req.ClientOrderID
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	switch req.Type {
	case exchange.OrderTypeLimit:
		body["orderType"] = "Limit"
		body["price"] = req.Price.String()
		body["timeInForce"] = "GTC"
	case exchange.OrderTypeStopMarket:
		body["triggerPrice"] = req.StopPrice.String()
		body["triggerBy"] = "MarkPrice"
		// 1: triggered when price rises to triggerPrice, 2: when it falls.
		if req.PositionSide == model.SideShort {
			body["triggerDirection"] = 1
		} else {
			body["triggerDirection"] = 2
		}
	}

	logger.WithFields(map[string]interface{}{
		"exchange":  exchange.NameBybit,
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"qty":       req.Quantity.String(),
		"stop":      req.StopPrice.String(),
		"reduce":    req.ReduceOnly,
		"client_id": req.ClientOrderID,
	}).Info("Placing order")

	var ack externalmodel.BybitOrderAck
	if err := c.doRequest(ctx, "PlaceOrder", http.MethodPost, "/v5/order/create", nil, body, &ack); err != nil {
		return nil, err
	}
	return mapper.MapBybitAck(&ack), nil
}

func (c *BybitClient) CancelOrder(ctx context.Context, orderID, symbol string) error {
	body := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   exchange.NormalizeSymbol(symbol),
		"orderId":  orderID,
	}
	return c.doRequest(ctx, "CancelOrder", http.MethodPost, "/v5/order/cancel", nil, body, nil)
}

func (c *BybitClient) queryOrders(ctx context.Context, op, path string, params url.Values) ([]exchange.Order, error) {
	var list externalmodel.BybitOrderList
	if err := c.doRequest(ctx, op, http.MethodGet, path, params, nil, &list); err != nil {
		return nil, err
	}
	out := make([]exchange.Order, 0, len(list.List))
	for i := range list.List {
		out = append(out, *mapper.MapBybitOrder(&list.List[i]))
	}
	return out, nil
}

// FetchOrder looks in open orders first, then order history. (nil, nil) when neither
// knows the id.
func (c *BybitClient) FetchOrder(ctx context.Context, orderID, symbol string) (*exchange.Order, error) {
	return c.findOrder(ctx, "FetchOrder", symbol, "orderId", orderID, func(o *exchange.Order) bool {
		return o.ID == orderID
	})
}

// FetchOrderByClientID does the same lookup by orderLinkId.
func (c *BybitClient) FetchOrderByClientID(ctx context.Context, clientOrderID, symbol string) (*exchange.Order, error) {
	return c.findOrder(ctx, "FetchOrderByClientID", symbol, "orderLinkId", clientOrderID, func(o *exchange.Order) bool {
		return o.ClientOrderID == clientOrderID
	})
}

func (c *BybitClient) findOrder(ctx context.Context, op, symbol, key, value string, match func(*exchange.Order) bool) (*exchange.Order, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", exchange.NormalizeSymbol(symbol))
	params.Set(key, value)

	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		orders, err := c.queryOrders(ctx, op, path, params)
		if exchange.KindOf(err) == exchange.KindOrderNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		for i := range orders {
			if match(&orders[i]) {
				return &orders[i], nil
			}
		}
	}
	return nil, nil
}

func (c *BybitClient) FetchPositions(ctx context.Context, symbols ...string) ([]exchange.Position, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	if len(symbols) == 1 {
		params.Set("symbol", exchange.NormalizeSymbol(symbols[0]))
	} else {
		params.Set("settleCoin", bybitSettleCoin)
	}
	var list externalmodel.BybitPositionList
	if err := c.doRequest(ctx, "FetchPositions", http.MethodGet, "/v5/position/list", params, nil, &list); err != nil {
		return nil, err
	}
	return filterPositions(mapper.MapBybitPositions(list.List), symbols), nil
}

func (c *BybitClient) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	if symbol != "" {
		params.Set("symbol", exchange.NormalizeSymbol(symbol))
	} else {
		params.Set("settleCoin", bybitSettleCoin)
	}
	return c.queryOrders(ctx, "FetchOpenOrders", "/v5/order/realtime", params)
}

func (c *BybitClient) FetchBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	var w externalmodel.BybitWalletBalance
	if err := c.doRequest(ctx, "FetchBalance", http.MethodGet, "/v5/account/wallet-balance", params, nil, &w); err != nil {
		return nil, err
	}
	return mapper.MapBybitBalances(&w), nil
}

func (c *BybitClient) FetchSymbolRules(ctx context.Context, symbol string) (*exchange.SymbolRules, error) {
	symbol = exchange.NormalizeSymbol(symbol)
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", symbol)
	var list externalmodel.BybitInstrumentList
	if err := c.doRequest(ctx, "FetchSymbolRules", http.MethodGet, "/v5/market/instruments-info", params, nil, &list); err != nil {
		return nil, err
	}
	for _, i := range list.List {
		if strings.EqualFold(i.Symbol, symbol) {
			return mapper.MapBybitSymbolRules(i), nil
		}
	}
	return nil, &exchange.Error{
		Kind:     exchange.KindSymbolNotTradeable,
		Exchange: exchange.NameBybit,
		Op:       "FetchSymbolRules",
		Msg:      "unknown symbol " + symbol,
	}
}

func (c *BybitClient) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", exchange.NormalizeSymbol(symbol))
	var list externalmodel.BybitTickerList
	if err := c.doRequest(ctx, "FetchPrice", http.MethodGet, "/v5/market/tickers", params, nil, &list); err != nil {
		return decimal.Zero, err
	}
	if len(list.List) == 0 {
		return decimal.Zero, fmt.Errorf("bybit FetchPrice: no ticker for %s", symbol)
	}
	price, err := decimal.NewFromString(list.List[0].LastPrice)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("bybit FetchPrice: invalid price %q for %s", list.List[0].LastPrice, symbol)
	}
	return price, nil
}
