package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderTypeEntry      = "entry"
	OrderTypeStopLoss   = "stop_loss"
	OrderTypeTakeProfit = "take_profit"
	OrderTypeClose      = "close"
)

const (
	OrderStatusNew             = "new"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCanceled        = "canceled"
	OrderStatusRejected        = "rejected"
)

// Order represents an order that the bot sent to an exchange.
type Order struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	ExchangeOrderID   string          `gorm:"size:100;index" json:"exchange_order_id"`
	ClientOrderID     string          `gorm:"size:100;index" json:"client_order_id"`
	PositionID        *uint           `gorm:"index" json:"position_id,omitempty"`
	Exchange          string          `gorm:"size:30;not null" json:"exchange"`
	Symbol            string          `gorm:"size:50;not null" json:"symbol"`
	Type              string          `gorm:"size:20;not null" json:"type"`
	Side              string          `gorm:"size:10;not null" json:"side"` // buy / sell
	RequestedQuantity decimal.Decimal `gorm:"type:numeric(30,12);not null" json:"requested_quantity"`
	FilledQuantity    decimal.Decimal `gorm:"type:numeric(30,12)" json:"filled_quantity"`
	Price             decimal.Decimal `gorm:"type:numeric(30,12)" json:"price"`
	StopPrice         decimal.Decimal `gorm:"type:numeric(30,12)" json:"stop_price"`
	Status            string          `gorm:"size:20;not null;default:new" json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// Validate enforces filled_quantity <= requested_quantity.
func (o Order) Validate() error {
	if o.FilledQuantity.GreaterThan(o.RequestedQuantity) {
		return fmt.Errorf("order %s: filled %s exceeds requested %s",
			o.ExchangeOrderID, o.FilledQuantity, o.RequestedQuantity)
	}
	return nil
}

// IsTerminalOrderStatus reports whether no further fills can happen.
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}
