package model

import "time"

const (
	ExceptionLevelError    = "error"
	ExceptionLevelCritical = "critical"
)

// Exception represents a failure that must be persisted for auditing. CRITICAL rows
// mean a human has to look at a live exchange position.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "position_guard"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "opener"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "rollback"

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // error | critical

	// Extra context stored as JSON (optional)
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
