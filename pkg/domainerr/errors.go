// Package domainerr defines the stable error taxonomy shared by every use
// case and domain service. Codes are part of the contract: callers match on
// Code, not on message text.
package domainerr

import "fmt"

// Code is a stable identifier for a class of failure. Names match the
// taxonomy the engine's decisions are reported under on the audit trail and
// the Explainability timeline.
type Code string

const (
	ConfigurationMissing       Code = "configuration_missing"
	PositionNotFound           Code = "position_not_found"
	OrderNotFound              Code = "order_not_found"
	PortfolioNotFound          Code = "portfolio_not_found"
	IdempotencySignatureMismatch Code = "idempotency_signature_mismatch"
	DailyOrderCapExceeded      Code = "daily_order_cap_exceeded"
	MinNotional                Code = "min_notional"
	BelowMinQty                Code = "below_min_qty"
	InsufficientCash           Code = "insufficient_cash"
	InsufficientQty            Code = "insufficient_qty"
	AllocBelowMin              Code = "alloc_below_min"
	AllocAboveMax              Code = "alloc_above_max"
	PriceUnavailable           Code = "price_unavailable"
	PriceStale                 Code = "price_stale"
	BrokerUnreachable          Code = "broker_unreachable"
	BrokerRejected             Code = "broker_rejected"
	AnomalyDetected            Code = "anomaly_detected"
	InvalidArgument            Code = "invalid_argument"
	OrderNotCancellable        Code = "order_not_cancellable"
	ClosedMarket               Code = "closed_market"
)

// Error is the concrete type every use case returns for a taxonomy failure.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, New(Code, "")) match on Code alone, ignoring Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error with the given code, message, and an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Of reports whether err carries the given code, unwrapping as needed.
func Of(err error, code Code) bool {
	var de *Error
	if as(err, &de) {
		return de.Code == code
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if de, ok := err.(*Error); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
