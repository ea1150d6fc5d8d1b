package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/JacobJanuary/TradingBot-sub006/src/database"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// OrderRepository records every order the bot sends.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main database.
func NewOrderRepository() *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Info("Creating new OrderRepository with MainDB")

	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order. Orders that report more filled than requested are
// refused.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.Order,
) error {

	log := logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"symbol":   order.Symbol,
		"type":     order.Type,
		"order_id": order.ExchangeOrderID,
	})

	if err := order.Validate(); err != nil {
		log.WithError(err).Error("Refusing invalid order")
		return err
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		log.WithError(err).Error("Failed to create order")
		return err
	}

	log.Debug("Order created")
	return nil
}

// UpdateStatus sets status and filled quantity for the order with the given
// exchange id.
func (r *OrderRepository) UpdateStatus(
	ctx context.Context,
	exchangeOrderID string,
	status string,
	filled decimal.Decimal,
) error {

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("exchange_order_id = ?", exchangeOrderID).
		Updates(map[string]interface{}{
			"status":          status,
			"filled_quantity": filled,
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRepository",
			"op":       "UpdateStatus",
			"order_id": exchangeOrderID,
		}).WithError(err).Error("Failed to update order status")
	}
	return err
}

// FindByExchangeOrderID returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByExchangeOrderID(
	ctx context.Context,
	exchangeOrderID string,
) (*model.Order, error) {

	var order model.Order
	err := r.db.WithContext(ctx).
		Where("exchange_order_id = ?", exchangeOrderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}
