package mapper

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/externalmodel"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

const bybitMapper = "bybit"

// BybitOrderStatus maps a v5 orderStatus onto model.OrderStatus*. Conditional orders
// waiting for their trigger count as new.
func BybitOrderStatus(raw string) string {
	switch strings.ToLower(raw) {
	case "partiallyfilled":
		return model.OrderStatusPartiallyFilled
	case "filled":
		return model.OrderStatusFilled
	case "cancelled", "deactivated", "partiallyfilledcanceled":
		return model.OrderStatusCanceled
	case "rejected":
		return model.OrderStatusRejected
	default:
		return model.OrderStatusNew
	}
}

func bybitSide(raw string) model.Side {
	return model.NormalizeSide(raw)
}

func MapBybitOrder(o *externalmodel.BybitOrder) *exchange.Order {
	if o == nil {
		return nil
	}
	rawType := o.OrderType
	if o.StopOrderType != "" {
		rawType = o.StopOrderType
	}
	return &exchange.Order{
		ID:             o.OrderID,
		ClientOrderID:  o.OrderLinkID,
		Symbol:         exchange.NormalizeSymbol(o.Symbol),
		Side:           exchange.OrderSide(strings.ToUpper(o.Side)),
		RawType:        strings.ToUpper(rawType),
		Status:         BybitOrderStatus(o.OrderStatus),
		Quantity:       parseDecimalSafe(bybitMapper, "qty", o.Qty),
		FilledQuantity: parseDecimalSafe(bybitMapper, "cumExecQty", o.CumExecQty),
		AvgPrice:       parseDecimalSafe(bybitMapper, "avgPrice", o.AvgPrice),
		Price:          parseDecimalSafe(bybitMapper, "price", o.Price),
		StopPrice:      parseDecimalSafe(bybitMapper, "triggerPrice", o.TriggerPrice),
		ReduceOnly:     o.ReduceOnly,
		ClosePosition:  o.CloseOnTrigger,
		CreatedAt:      parseMillisSafe(o.CreatedTime),
	}
}

// MapBybitAck builds the ack of /v5/order/create. Bybit never echoes fill data there.
func MapBybitAck(a *externalmodel.BybitOrderAck) *exchange.OrderAck {
	if a == nil {
		return nil
	}
	return &exchange.OrderAck{
		OrderID:       a.OrderID,
		ClientOrderID: a.OrderLinkID,
		Status:        model.OrderStatusNew,
	}
}

func MapBybitPositions(rows []externalmodel.BybitPosition) []exchange.Position {
	out := make([]exchange.Position, 0, len(rows))
	for _, r := range rows {
		size := parseDecimalSafe(bybitMapper, "size", r.Size)
		side := bybitSide(r.Side)
		if size.IsZero() || side == "" {
			continue
		}
		out = append(out, exchange.Position{
			Symbol:     exchange.NormalizeSymbol(r.Symbol),
			Side:       side,
			Quantity:   size.Abs(),
			EntryPrice: parseDecimalSafe(bybitMapper, "avgPrice", r.AvgPrice),
			MarkPrice:  parseDecimalSafe(bybitMapper, "markPrice", r.MarkPrice),
		})
	}
	return out
}

func MapBybitBalances(w *externalmodel.BybitWalletBalance) map[string]exchange.Balance {
	out := make(map[string]exchange.Balance)
	if w == nil {
		return out
	}
	for _, acct := range w.List {
		for _, c := range acct.Coin {
			total := parseDecimalSafe(bybitMapper, "walletBalance", c.WalletBalance)
			used := parseDecimalSafe(bybitMapper, "totalPositionIM", c.TotalPositionIM).
				Add(parseDecimalSafe(bybitMapper, "totalOrderIM", c.TotalOrderIM)).
				Add(parseDecimalSafe(bybitMapper, "locked", c.Locked))
			free := total.Sub(used)
			if c.AvailableToWithdraw != "" {
				free = parseDecimalSafe(bybitMapper, "availableToWithdraw", c.AvailableToWithdraw)
			}
			if free.IsNegative() {
				free = decimal.Zero
			}
			out[strings.ToUpper(c.Coin)] = exchange.Balance{Free: free, Used: used, Total: total}
		}
	}
	return out
}

func MapBybitSymbolRules(i externalmodel.BybitInstrument) *exchange.SymbolRules {
	return &exchange.SymbolRules{
		Symbol:      exchange.NormalizeSymbol(i.Symbol),
		TickSize:    parseDecimalSafe(bybitMapper, "tickSize", i.PriceFilter.TickSize),
		StepSize:    parseDecimalSafe(bybitMapper, "qtyStep", i.LotSizeFilter.QtyStep),
		MinQty:      parseDecimalSafe(bybitMapper, "minOrderQty", i.LotSizeFilter.MinOrderQty),
		MinNotional: parseDecimalSafe(bybitMapper, "minNotionalValue", i.LotSizeFilter.MinNotionalValue),
		Tradeable:   strings.EqualFold(i.Status, "Trading"),
	}
}

// MapBybitStreamPositions converts a "position" topic frame. Flat rows are kept with
// zero quantity.
func MapBybitStreamPositions(exchangeName string, creationTime int64, rows []externalmodel.BybitStreamPosition) []exchange.PositionUpdate {
	out := make([]exchange.PositionUpdate, 0, len(rows))
	for _, r := range rows {
		out = append(out, exchange.PositionUpdate{
			Exchange:   exchangeName,
			Symbol:     exchange.NormalizeSymbol(r.Symbol),
			Side:       bybitSide(r.Side),
			Quantity:   parseDecimalSafe(bybitMapper, "size", r.Size).Abs(),
			EntryPrice: parseDecimalSafe(bybitMapper, "entryPrice", r.EntryPrice),
			MarkPrice:  parseDecimalSafe(bybitMapper, "markPrice", r.MarkPrice),
			EventTime:  millis(creationTime),
		})
	}
	return out
}
