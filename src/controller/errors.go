package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/JacobJanuary/TradingBot-sub006/src/exchange"
	"github.com/JacobJanuary/TradingBot-sub006/src/ledger"
	"github.com/JacobJanuary/TradingBot-sub006/src/verifier"
)

var (
	// ErrUnconfirmed means the entry was accepted but never showed up as a position;
	// it has been rolled back.
	ErrUnconfirmed = verifier.ErrUnconfirmed
	// ErrStopLossAttach means the position opened but no stop could be attached; it
	// has been rolled back.
	ErrStopLossAttach = errors.New("stop-loss attach failed")
	// ErrRollbackFailed means a position may be open on the exchange without
	// protection. Always escalated as CRITICAL.
	ErrRollbackFailed = errors.New("rollback failed")
)

// DeclinedError is returned when an open is refused before any order exists.
type DeclinedError struct {
	Exchange string
	Symbol   string
	Reason   string
	Err      error
}

func (e *DeclinedError) Error() string {
	msg := fmt.Sprintf("open %s %s declined: %s", e.Exchange, e.Symbol, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeclinedError) Unwrap() error { return e.Err }

type Category string

const (
	CategoryTransient      Category = "transient"
	CategoryValidation     Category = "validation"
	CategoryPartialFailure Category = "partial_failure"
	CategoryConsistency    Category = "consistency"
)

// Classify maps any error from the open/close paths onto the four handling
// categories. Unknown errors are treated as transient.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var declined *DeclinedError
	switch {
	case errors.Is(err, ErrRollbackFailed),
		errors.Is(err, ledger.ErrEntryPriceImmutable),
		errors.Is(err, ledger.ErrStatusRegression):
		return CategoryConsistency
	case errors.Is(err, ErrStopLossAttach), errors.Is(err, ErrUnconfirmed):
		return CategoryPartialFailure
	case errors.As(err, &declined), exchange.IsValidation(err), errors.Is(err, ledger.ErrSlotTaken):
		return CategoryValidation
	case exchange.IsTransient(err), errors.Is(err, context.Canceled):
		return CategoryTransient
	}
	switch exchange.KindOf(err) {
	case exchange.KindRejected, exchange.KindAuth:
		return CategoryValidation
	}
	return CategoryTransient
}
