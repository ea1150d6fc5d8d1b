// Package exchange defines the capability surface the position core consumes from an
// exchange, and the normalized types every adapter maps its raw payloads into.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

const (
	NameBinance = "binance"
	NameBybit   = "bybit"
)

// Adapter is the uniform order/position surface over one exchange account.
type Adapter interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	// FetchOrder returns (nil, nil) when the exchange does not know the order.
	FetchOrder(ctx context.Context, orderID, symbol string) (*Order, error)
	// FetchOrderByClientID finds an order by the client id it was placed with,
	// (nil, nil) when the exchange never saw it.
	FetchOrderByClientID(ctx context.Context, clientOrderID, symbol string) (*Order, error)
	// FetchPositions returns open positions, optionally filtered by symbol.
	FetchPositions(ctx context.Context, symbols ...string) ([]Position, error)
	// FetchOpenOrders returns open orders; an empty symbol means all symbols.
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	FetchBalance(ctx context.Context) (map[string]Balance, error)

	FetchSymbolRules(ctx context.Context, symbol string) (*SymbolRules, error)
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PositionStream is the push feed of position changes.
type PositionStream interface {
	// Subscribe streams updates until ctx is done. The channel is closed on return.
	Subscribe(ctx context.Context) (<-chan PositionUpdate, error)
}

// Registry resolves adapters by exchange name.
type Registry map[string]Adapter

func (r Registry) Get(name string) (Adapter, bool) {
	a, ok := r[name]
	return a, ok
}
