package domain

import (
	"errors"
	"fmt"
)

// TransientGatewayError marks a broker failure worth retrying: timeouts, 5xx,
// rate limits. The central retry policy keys off this type.
type TransientGatewayError struct {
	Op  string
	Err error
}

func (e *TransientGatewayError) Error() string {
	return fmt.Sprintf("transient gateway error in %s: %v", e.Op, e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

// RejectedOrderError marks a definitive broker rejection: insufficient funds,
// invalid symbol, market closed. Never retried.
type RejectedOrderError struct {
	Op     string
	Reason string
}

func (e *RejectedOrderError) Error() string {
	return fmt.Sprintf("order rejected in %s: %s", e.Op, e.Reason)
}

// InvalidFillError indicates a ledger/broker desync, e.g. a SELL fill exceeding
// the held quantity. The affected symbol must be re-synced from the broker
// before any further order.
type InvalidFillError struct {
	Symbol string
	Reason string
}

func (e *InvalidFillError) Error() string {
	return fmt.Sprintf("invalid fill for %s: %s", e.Symbol, e.Reason)
}

// ConfigurationError is fatal at startup only.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Reason)
}

// IsTransient reports whether err should go through the retry policy.
func IsTransient(err error) bool {
	var t *TransientGatewayError
	return errors.As(err, &t)
}

// IsRejected reports whether err is a definitive order rejection.
func IsRejected(err error) bool {
	var r *RejectedOrderError
	return errors.As(err, &r)
}

// IsInvalidFill reports whether err indicates a ledger/broker desync.
func IsInvalidFill(err error) bool {
	var f *InvalidFillError
	return errors.As(err, &f)
}
