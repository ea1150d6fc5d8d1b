package externalmodel

import "encoding/json"

// BybitResponse is the v5 REST envelope.
type BybitResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

type BybitOrderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// BybitOrder is one row of /v5/order/realtime and /v5/order/history.
type BybitOrder struct {
	OrderID        string `json:"orderId"`
	OrderLinkID    string `json:"orderLinkId"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	OrderType      string `json:"orderType"`
	StopOrderType  string `json:"stopOrderType"`
	OrderStatus    string `json:"orderStatus"`
	Qty            string `json:"qty"`
	CumExecQty     string `json:"cumExecQty"`
	AvgPrice       string `json:"avgPrice"`
	Price          string `json:"price"`
	TriggerPrice   string `json:"triggerPrice"`
	ReduceOnly     bool   `json:"reduceOnly"`
	CloseOnTrigger bool   `json:"closeOnTrigger"`
	CreatedTime    string `json:"createdTime"`
}

type BybitOrderList struct {
	List []BybitOrder `json:"list"`
}

// BybitPosition is one row of /v5/position/list. Side is "" for a flat slot.
type BybitPosition struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	AvgPrice  string `json:"avgPrice"`
	MarkPrice string `json:"markPrice"`
}

type BybitPositionList struct {
	List []BybitPosition `json:"list"`
}

type BybitCoinBalance struct {
	Coin                string `json:"coin"`
	WalletBalance       string `json:"walletBalance"`
	Locked              string `json:"locked"`
	TotalPositionIM     string `json:"totalPositionIM"`
	TotalOrderIM        string `json:"totalOrderIM"`
	AvailableToWithdraw string `json:"availableToWithdraw"`
}

type BybitWalletBalance struct {
	List []struct {
		AccountType string             `json:"accountType"`
		Coin        []BybitCoinBalance `json:"coin"`
	} `json:"list"`
}

type BybitInstrument struct {
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	LotSizeFilter struct {
		QtyStep          string `json:"qtyStep"`
		MinOrderQty      string `json:"minOrderQty"`
		MinNotionalValue string `json:"minNotionalValue"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

type BybitInstrumentList struct {
	List []BybitInstrument `json:"list"`
}

type BybitTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
}

type BybitTickerList struct {
	List []BybitTicker `json:"list"`
}

// BybitStreamMessage is a private websocket frame. Op frames (auth, pong) carry no topic.
type BybitStreamMessage struct {
	Op           string          `json:"op"`
	Success      *bool           `json:"success"`
	RetMsg       string          `json:"ret_msg"`
	Topic        string          `json:"topic"`
	CreationTime int64           `json:"creationTime"`
	Data         json.RawMessage `json:"data"`
}

type BybitStreamPosition struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	EntryPrice string `json:"entryPrice"`
	MarkPrice  string `json:"markPrice"`
}
