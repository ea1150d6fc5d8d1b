package externalmodel

import "encoding/json"

// BinanceError is the error body returned by the futures REST API.
type BinanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// BinanceOrder is returned by POST/GET /fapi/v1/order and /fapi/v1/openOrders.
type BinanceOrder struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Type          string `json:"type"`
	OrigType      string `json:"origType"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	StopPrice     string `json:"stopPrice"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

// BinancePositionRisk is one row of GET /fapi/v2/positionRisk. PositionAmt is signed.
type BinancePositionRisk struct {
	Symbol       string `json:"symbol"`
	PositionAmt  string `json:"positionAmt"`
	EntryPrice   string `json:"entryPrice"`
	MarkPrice    string `json:"markPrice"`
	PositionSide string `json:"positionSide"`
	UpdateTime   int64  `json:"updateTime"`
}

// BinanceBalance is one row of GET /fapi/v2/balance.
type BinanceBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

type BinanceFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	Notional   string `json:"notional"`
}

type BinanceSymbol struct {
	Symbol  string          `json:"symbol"`
	Status  string          `json:"status"`
	Filters []BinanceFilter `json:"filters"`
}

// BinanceExchangeInfo is the subset of GET /fapi/v1/exchangeInfo the guard needs.
type BinanceExchangeInfo struct {
	Symbols []BinanceSymbol `json:"symbols"`
}

type BinanceTickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type BinanceListenKey struct {
	ListenKey string `json:"listenKey"`
}

// BinanceStreamEvent is the envelope of a user-data stream message.
type BinanceStreamEvent struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Account   json.RawMessage `json:"a"`
}

// BinanceAccountUpdate is the "a" payload of an ACCOUNT_UPDATE event.
type BinanceAccountUpdate struct {
	Reason    string `json:"m"`
	Positions []struct {
		Symbol       string `json:"s"`
		PositionAmt  string `json:"pa"`
		EntryPrice   string `json:"ep"`
		PositionSide string `json:"ps"`
	} `json:"P"`
}
