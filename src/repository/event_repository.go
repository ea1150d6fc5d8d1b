package repository

import (
	"context"
	"encoding/json"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/JacobJanuary/TradingBot-sub006/src/database"
	"github.com/JacobJanuary/TradingBot-sub006/src/model"
)

// EventRepository appends to the event_logs audit table.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository() *EventRepository {
	return &EventRepository{
		db: database.MainDB,
	}
}

func (r *EventRepository) WithDB(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// LogEvent stores payload as JSON. The exchange, symbol and position_id keys, when
// present, are also copied into their own columns.
func (r *EventRepository) LogEvent(
	ctx context.Context,
	eventType string,
	payload map[string]interface{},
) error {

	e := &model.EventLog{Type: eventType}
	if payload != nil {
		if v, ok := payload["exchange"].(string); ok {
			e.Exchange = v
		}
		if v, ok := payload["symbol"].(string); ok {
			e.Symbol = v
		}
		if v, ok := payload["position_id"].(uint); ok && v != 0 {
			id := v
			e.PositionID = &id
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("event %s: encode payload: %w", eventType, err)
		}
		e.Payload = string(b)
	}

	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "EventRepository",
			"op":    "LogEvent",
			"event": eventType,
		}).WithError(err).Error("Failed to log event")
		return err
	}
	return nil
}

// ListRecent returns the newest events first.
func (r *EventRepository) ListRecent(ctx context.Context, limit int) ([]model.EventLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.EventLog
	err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}
