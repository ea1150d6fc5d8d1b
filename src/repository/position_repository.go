package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JacobJanuary/TradingBot-sub006/src/database"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// PositionRepository mirrors the in-memory ledger into the positions table.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main database.
func NewPositionRepository() *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Info("Creating new PositionRepository with MainDB")

	return &PositionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create inserts the position and assigns its ID. When the ID is already assigned
// the insert is a no-op on conflict, so a retried create never duplicates a row.
func (r *PositionRepository) Create(
	ctx context.Context,
	p *model.Position,
) error {

	log := logger.WithFields(map[string]interface{}{
		"repo":     "PositionRepository",
		"op":       "Create",
		"exchange": p.Exchange,
		"symbol":   p.Symbol,
		"side":     p.Side,
	})

	tx := r.db.WithContext(ctx)
	if p.ID != 0 {
		tx = tx.Clauses(clause.OnConflict{DoNothing: true})
	}
	if err := tx.Create(p).Error; err != nil {
		log.WithError(err).Error("Failed to create position")
		return err
	}

	log.WithField("position_id", p.ID).Info("Position created")
	return nil
}

// Update applies a partial update to the position with the given id.
func (r *PositionRepository) Update(
	ctx context.Context,
	id uint,
	fields map[string]interface{},
) error {

	if len(fields) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ?", id).
		Updates(fields).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Update",
			"position_id": id,
		}).WithError(err).Error("Failed to update position")
		return err
	}
	return nil
}

// GetOpenPosition returns the newest non-closed position for symbol on exchange.
// Returns (nil, nil) if there is none.
func (r *PositionRepository) GetOpenPosition(
	ctx context.Context,
	symbol string,
	exchange string,
) (*model.Position, error) {

	var p model.Position
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND exchange = ? AND status <> ?", symbol, exchange, model.PositionStatusClosed).
		Order("id DESC").
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":     "PositionRepository",
			"op":       "GetOpenPosition",
			"symbol":   symbol,
			"exchange": exchange,
		}).WithError(err).Error("Failed to fetch open position")
		return nil, err
	}
	return &p, nil
}

// ListOpen returns every non-closed position. Used once at start to rebuild the
// ledger.
func (r *PositionRepository) ListOpen(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := r.db.WithContext(ctx).
		Where("status <> ?", model.PositionStatusClosed).
		Order("id ASC").
		Find(&positions).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PositionRepository",
			"op":   "ListOpen",
		}).WithError(err).Error("Failed to list open positions")
		return nil, err
	}
	return positions, nil
}
