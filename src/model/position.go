package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

const (
	PositionStatusPending = "pending"
	PositionStatusActive  = "active"
	PositionStatusClosing = "closing"
	PositionStatusClosed  = "closed"
)

const (
	ExitReasonRollback     = "rollback"
	ExitReasonUnconfirmed  = "unconfirmed"
	ExitReasonOrphaned     = "orphaned"
	ExitReasonStopLoss     = "stop_loss"
	ExitReasonManual       = "manual"
	ExitReasonRollbackFail = "rollback_failed"
)

var statusRank = map[string]int{
	PositionStatusPending: 0,
	PositionStatusActive:  1,
	PositionStatusClosing: 2,
	PositionStatusClosed:  3,
}

// TrailingStop is the per-position trailing state, persisted with a trailing_ prefix.
type TrailingStop struct {
	Activated      bool            `json:"activated"`
	Initialized    bool            `json:"initialized"`
	ExtremePrice   decimal.Decimal `gorm:"type:numeric(30,12)" json:"extreme_price"`
	LastUpdateTime *time.Time      `json:"last_update_time,omitempty"`
}

// Position is the bot's record of an open exposure in one symbol on one exchange.
type Position struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Symbol          string          `gorm:"size:50;not null;index:idx_positions_symbol_exchange,priority:1" json:"symbol"`
	Exchange        string          `gorm:"size:30;not null;index:idx_positions_symbol_exchange,priority:2" json:"exchange"`
	Side            Side            `gorm:"size:10;not null" json:"side"`
	Quantity        decimal.Decimal `gorm:"type:numeric(30,12);not null" json:"quantity"`
	EntryPrice      decimal.Decimal `gorm:"type:numeric(30,12)" json:"entry_price"`
	CurrentPrice    decimal.Decimal `gorm:"type:numeric(30,12)" json:"current_price"`
	StopLossPrice   decimal.Decimal `gorm:"type:numeric(30,12)" json:"stop_loss_price"`
	StopLossOrderID string          `gorm:"size:100" json:"stop_loss_order_id"`
	TrailingStop    TrailingStop    `gorm:"embedded;embeddedPrefix:trailing_" json:"trailing_stop"`
	Status          string          `gorm:"size:20;not null;default:pending;index" json:"status"`
	OpenedAt        time.Time       `json:"opened_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	ExitReason      string          `gorm:"size:50" json:"exit_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}

// IsLive reports whether the position still represents exposure the bot must guard.
func (p Position) IsLive() bool {
	return p.Status != PositionStatusClosed
}

// HasProtection reports whether a stop-loss order is attached.
func (p Position) HasProtection() bool {
	return strings.TrimSpace(p.StopLossOrderID) != ""
}

// CanTransition reports whether status may move from -> to. Status only moves forward;
// staying in the same status is allowed.
func CanTransition(from, to string) bool {
	f, ok := statusRank[from]
	if !ok {
		return false
	}
	t, ok := statusRank[to]
	if !ok {
		return false
	}
	return t >= f
}

// NormalizeSide maps position sides and order verbs onto {long, short}.
// buy -> long, sell -> short. Returns "" for anything else.
func NormalizeSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy", "bid":
		return SideLong
	case "short", "sell", "ask":
		return SideShort
	default:
		return ""
	}
}

// Opposite returns the other position side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Key identifies a position slot in the ledger.
func Key(exchange, symbol string) string {
	return strings.ToLower(strings.TrimSpace(exchange)) + ":" + strings.ToUpper(strings.TrimSpace(symbol))
}

func (p Position) Key() string {
	return Key(p.Exchange, p.Symbol)
}

// StopFields returns the columns the trailing-stop engine owns, keyed for a gorm
// Updates call.
func (p Position) StopFields() map[string]interface{} {
	return map[string]interface{}{
		"current_price":             p.CurrentPrice,
		"stop_loss_price":           p.StopLossPrice,
		"stop_loss_order_id":        p.StopLossOrderID,
		"trailing_activated":        p.TrailingStop.Activated,
		"trailing_initialized":      p.TrailingStop.Initialized,
		"trailing_extreme_price":    p.TrailingStop.ExtremePrice,
		"trailing_last_update_time": p.TrailingStop.LastUpdateTime,
	}
}
