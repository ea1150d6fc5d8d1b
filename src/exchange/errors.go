package exchange

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure raised by an adapter.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindRateLimited
	KindInsufficientBalance
	KindPrecision
	KindSymbolNotTradeable
	KindOrderNotFound
	KindRejected
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindPrecision:
		return "precision"
	case KindSymbolNotTradeable:
		return "symbol_not_tradeable"
	case KindOrderNotFound:
		return "order_not_found"
	case KindRejected:
		return "rejected"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var (
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrPrecision           = &Error{Kind: KindPrecision}
	ErrSymbolNotTradeable  = &Error{Kind: KindSymbolNotTradeable}
	ErrOrderNotFound       = &Error{Kind: KindOrderNotFound}
)

// Error is the typed failure every adapter returns.
type Error struct {
	Kind     Kind
	Exchange string
	Op       string
	Code     int
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s %s: %s", e.Exchange, e.Op, e.Kind)
	if e.Code != 0 {
		s += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can use errors.Is(err, exchange.ErrPrecision).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind from err, KindUnknown when err is not typed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying: timeouts, rate limits, 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}

// IsValidation reports whether err was a pre-trade rejection.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindInsufficientBalance, KindPrecision, KindSymbolNotTradeable:
		return true
	default:
		return false
	}
}
