package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/JacobJanuary/TradingBot-sub006/src/database"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// ReconciliationRepository is append-only: records are never updated.
type ReconciliationRepository struct {
	db *gorm.DB
}

func NewReconciliationRepository() *ReconciliationRepository {
	return &ReconciliationRepository{
		db: database.MainDB,
	}
}

func (r *ReconciliationRepository) WithDB(db *gorm.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) Create(
	ctx context.Context,
	rec *model.ReconciliationRecord,
) error {

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "ReconciliationRepository",
			"op":          "Create",
			"exchange":    rec.Exchange,
			"symbol":      rec.Symbol,
			"discrepancy": rec.DiscrepancyType,
		}).WithError(err).Error("Failed to store reconciliation record")
		return err
	}
	return nil
}

// ListRecent returns the newest records first, optionally for one exchange.
func (r *ReconciliationRepository) ListRecent(ctx context.Context, exchange string, limit int) ([]model.ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Order("checked_at DESC, id DESC").Limit(limit)
	if exchange != "" {
		q = q.Where("exchange = ?", exchange)
	}
	var records []model.ReconciliationRecord
	err := q.Find(&records).Error
	return records, err
}
