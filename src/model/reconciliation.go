package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscrepancyPhantom           = "phantom"
	DiscrepancyQuantityMismatch  = "quantity_mismatch"
	DiscrepancyOrphaned          = "orphaned"
	DiscrepancyMissingProtection = "missing_protection"
)

// ReconciliationRecord is an append-only audit row written for every discrepancy a
// reconciliation sweep finds.
type ReconciliationRecord struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	Exchange         string          `gorm:"size:30;index;not null" json:"exchange"`
	Symbol           string          `gorm:"size:50;index" json:"symbol"`
	PositionID       *uint           `gorm:"index" json:"position_id,omitempty"`
	CheckedAt        time.Time       `gorm:"index;not null" json:"checked_at"`
	DiscrepancyType  string          `gorm:"size:30;not null" json:"discrepancy_type"`
	Resolution       string          `gorm:"size:255" json:"resolution"`
	LocalQuantity    decimal.Decimal `gorm:"type:numeric(30,12)" json:"local_quantity"`
	ExchangeQuantity decimal.Decimal `gorm:"type:numeric(30,12)" json:"exchange_quantity"`
}

func (ReconciliationRecord) TableName() string {
	return "reconciliation_records"
}
