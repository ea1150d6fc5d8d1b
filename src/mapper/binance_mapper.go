package mapper

import (
	"strconv"
	"strings"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/externalmodel"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

const binanceMapper = "binance"

// BinanceOrderStatus maps a futures order status onto model.OrderStatus*.
func BinanceOrderStatus(raw string) string {
	switch strings.ToUpper(raw) {
	case "PARTIALLY_FILLED":
		return model.OrderStatusPartiallyFilled
	case "FILLED":
		return model.OrderStatusFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return model.OrderStatusCanceled
	case "REJECTED":
		return model.OrderStatusRejected
	default:
		return model.OrderStatusNew
	}
}

func MapBinanceOrder(o *externalmodel.BinanceOrder) *exchange.Order {
	if o == nil {
		return nil
	}
	rawType := o.Type
	if rawType == "" {
		rawType = o.OrigType
	}
	return &exchange.Order{
		ID:             strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:  o.ClientOrderID,
		Symbol:         exchange.NormalizeSymbol(o.Symbol),
		Side:           exchange.OrderSide(strings.ToUpper(o.Side)),
		RawType:        strings.ToUpper(rawType),
		Status:         BinanceOrderStatus(o.Status),
		Quantity:       parseDecimalSafe(binanceMapper, "origQty", o.OrigQty),
		FilledQuantity: parseDecimalSafe(binanceMapper, "executedQty", o.ExecutedQty),
		AvgPrice:       parseDecimalSafe(binanceMapper, "avgPrice", o.AvgPrice),
		Price:          parseDecimalSafe(binanceMapper, "price", o.Price),
		StopPrice:      parseDecimalSafe(binanceMapper, "stopPrice", o.StopPrice),
		ReduceOnly:     o.ReduceOnly,
		ClosePosition:  o.ClosePosition,
		CreatedAt:      millis(o.Time),
	}
}

func MapBinanceAck(o *externalmodel.BinanceOrder) *exchange.OrderAck {
	if o == nil {
		return nil
	}
	return &exchange.OrderAck{
		OrderID:        strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:  o.ClientOrderID,
		Status:         BinanceOrderStatus(o.Status),
		FilledQuantity: parseDecimalSafe(binanceMapper, "executedQty", o.ExecutedQty),
		AvgPrice:       parseDecimalSafe(binanceMapper, "avgPrice", o.AvgPrice),
	}
}

// binancePositionSide resolves the side from hedge-mode positionSide, or from the sign
// of the amount in one-way mode.
func binancePositionSide(positionSide string, amt float64) model.Side {
	switch strings.ToUpper(positionSide) {
	case "LONG":
		return model.SideLong
	case "SHORT":
		return model.SideShort
	}
	if amt > 0 {
		return model.SideLong
	}
	if amt < 0 {
		return model.SideShort
	}
	return ""
}

// MapBinancePositions drops flat rows and returns absolute quantities.
func MapBinancePositions(rows []externalmodel.BinancePositionRisk) []exchange.Position {
	out := make([]exchange.Position, 0, len(rows))
	for _, r := range rows {
		amt := parseDecimalSafe(binanceMapper, "positionAmt", r.PositionAmt)
		if amt.IsZero() {
			continue
		}
		out = append(out, exchange.Position{
			Symbol:     exchange.NormalizeSymbol(r.Symbol),
			Side:       binancePositionSide(r.PositionSide, amt.InexactFloat64()),
			Quantity:   amt.Abs(),
			EntryPrice: parseDecimalSafe(binanceMapper, "entryPrice", r.EntryPrice),
			MarkPrice:  parseDecimalSafe(binanceMapper, "markPrice", r.MarkPrice),
		})
	}
	return out
}

func MapBinanceBalances(rows []externalmodel.BinanceBalance) map[string]exchange.Balance {
	out := make(map[string]exchange.Balance, len(rows))
	for _, r := range rows {
		total := parseDecimalSafe(binanceMapper, "balance", r.Balance)
		free := parseDecimalSafe(binanceMapper, "availableBalance", r.AvailableBalance)
		out[strings.ToUpper(r.Asset)] = exchange.Balance{
			Free:  free,
			Used:  total.Sub(free),
			Total: total,
		}
	}
	return out
}

func MapBinanceSymbolRules(s externalmodel.BinanceSymbol) *exchange.SymbolRules {
	rules := &exchange.SymbolRules{
		Symbol:    exchange.NormalizeSymbol(s.Symbol),
		Tradeable: strings.EqualFold(s.Status, "TRADING"),
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			rules.TickSize = parseDecimalSafe(binanceMapper, "tickSize", f.TickSize)
		case "LOT_SIZE":
			rules.StepSize = parseDecimalSafe(binanceMapper, "stepSize", f.StepSize)
			rules.MinQty = parseDecimalSafe(binanceMapper, "minQty", f.MinQty)
		case "MIN_NOTIONAL":
			rules.MinNotional = parseDecimalSafe(binanceMapper, "notional", f.Notional)
		}
	}
	return rules
}

// MapBinanceAccountUpdate converts the positions of an ACCOUNT_UPDATE event. Flat rows
// are kept: a zero quantity tells the cache the position closed.
func MapBinanceAccountUpdate(exchangeName string, eventTime int64, u externalmodel.BinanceAccountUpdate) []exchange.PositionUpdate {
	out := make([]exchange.PositionUpdate, 0, len(u.Positions))
	for _, p := range u.Positions {
		amt := parseDecimalSafe(binanceMapper, "pa", p.PositionAmt)
		out = append(out, exchange.PositionUpdate{
			Exchange:   exchangeName,
			Symbol:     exchange.NormalizeSymbol(p.Symbol),
			Side:       binancePositionSide(p.PositionSide, amt.InexactFloat64()),
			Quantity:   amt.Abs(),
			EntryPrice: parseDecimalSafe(binanceMapper, "ep", p.EntryPrice),
			EventTime:  millis(eventTime),
		})
	}
	return out
}
