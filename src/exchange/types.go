package exchange

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// OrderSide is the order verb sent to the exchange.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType denotes the normalized order types the core places.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// EntrySide returns the order verb that opens a position of the given side.
func EntrySide(side model.Side) OrderSide {
	if side == model.SideShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide returns the order verb that reduces a position of the given side.
func ExitSide(side model.Side) OrderSide {
	if side == model.SideShort {
		return SideBuy
	}
	return SideSell
}

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // LIMIT only
	StopPrice     decimal.Decimal // STOP_MARKET only
	ReduceOnly    bool
	ClientOrderID string
	// PositionSide is the side the stop protects; adapters that need a trigger
	// direction derive it from here.
	PositionSide model.Side
}

// OrderAck is the synchronous acknowledgment of an accepted order. FilledQuantity is
// informational only: some exchanges always echo zero here.
type OrderAck struct {
	OrderID        string
	ClientOrderID  string
	Status         string // model.OrderStatus*
	FilledQuantity decimal.Decimal
	AvgPrice       decimal.Decimal
}

// Order is an order as reported by the exchange, normalized by the mapper.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	RawType        string // exchange type label, upper-cased as received
	Status         string // model.OrderStatus*
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	AvgPrice       decimal.Decimal
	Price          decimal.Decimal
	StopPrice      decimal.Decimal
	ReduceOnly     bool
	ClosePosition  bool
	CreatedAt      time.Time
}

// Position is an exchange-reported open position.
type Position struct {
	Symbol     string
	Side       model.Side
	Quantity   decimal.Decimal // always positive
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
}

// PositionUpdate is one push event from the exchange position stream.
type PositionUpdate struct {
	Exchange   string
	Symbol     string
	Side       model.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	EventTime  time.Time
}

// Balance mirrors one asset row of the account balance.
type Balance struct {
	Free  decimal.Decimal
	Used  decimal.Decimal
	Total decimal.Decimal
}

// SymbolRules holds the precision and trading constraints of one instrument.
type SymbolRules struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	Tradeable   bool
}

// NormalizeSymbol upper-cases and strips separators, e.g. "btc/usdt" -> "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.TrimSuffix(s, ":USDT")
	return s
}
