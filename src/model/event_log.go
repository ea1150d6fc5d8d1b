package model

import "time"

// Event types written to event_logs.
const (
	EventPositionCreated     = "position_created"
	EventPositionActivated   = "position_activated"
	EventStopLossAttached    = "stop_loss_attached"
	EventStopLossMoved       = "stop_loss_moved"
	EventTrailingActivated   = "trailing_activated"
	EventRollback            = "rollback"
	EventRollbackFailed      = "rollback_failed"
	EventPositionClosed      = "position_closed"
	EventPhantomInserted     = "phantom_inserted"
	EventQuantityCorrected   = "quantity_corrected"
	EventOrphanCleaned       = "orphan_cleaned"
	EventMissingProtection   = "missing_protection"
	EventZombieOrderCanceled = "zombie_order_canceled"
	EventAgedPosition        = "aged_position"
)

// EventLog stores a durable record of every significant position transition.
type EventLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Type       string    `gorm:"size:50;index;not null" json:"type"`
	Exchange   string    `gorm:"size:30;index" json:"exchange"`
	Symbol     string    `gorm:"size:50;index" json:"symbol"`
	PositionID *uint     `gorm:"index" json:"position_id,omitempty"`
	Payload    string    `gorm:"type:text" json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

func (EventLog) TableName() string {
	return "event_logs"
}
