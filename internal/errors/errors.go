// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrSessionExpired    = errors.New("session expired")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderFinal        = errors.New("order already in a final state")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrStreamClosed      = errors.New("market-data stream closed")
	ErrTimeout           = errors.New("operation timed out")
	ErrConfigInvalid     = errors.New("invalid configuration")
)

// AuthError represents a login or session failure against the broker.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error: %s", e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new AuthError.
func NewAuthError(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

// RiskRule identifies the pre-trade check a request failed.
type RiskRule string

const (
	RuleInvalidField     RiskRule = "INVALID_FIELD"
	RuleQuantityExceeded RiskRule = "QUANTITY_EXCEEDED"
	RuleNotionalExceeded RiskRule = "NOTIONAL_EXCEEDED"
)

// RiskViolation represents a pre-trade validation failure. It is resolved
// locally and never reaches the broker.
type RiskViolation struct {
	Rule    RiskRule
	Field   string
	Value   interface{}
	Message string
}

func (e *RiskViolation) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("risk violation [%s] %s=%v: %s", e.Rule, e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("risk violation [%s]: %s", e.Rule, e.Message)
}

// NewRiskViolation creates a new RiskViolation.
func NewRiskViolation(rule RiskRule, field string, value interface{}, message string) *RiskViolation {
	return &RiskViolation{Rule: rule, Field: field, Value: value, Message: message}
}

// OrderError represents a failure of an order operation.
type OrderError struct {
	LocalID string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s: %s: %v", e.LocalID, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s: %s", e.LocalID, e.Action, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(localID, action, reason string, err error) *OrderError {
	return &OrderError{LocalID: localID, Action: action, Reason: reason, Err: err}
}

// SubscriptionError represents a market-data subscription failure.
type SubscriptionError struct {
	Instrument string
	Reason     string
	Err        error
}

func (e *SubscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("subscription error [%s]: %s: %v", e.Instrument, e.Reason, e.Err)
	}
	return fmt.Sprintf("subscription error [%s]: %s", e.Instrument, e.Reason)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// NewSubscriptionError creates a new SubscriptionError.
func NewSubscriptionError(instrument, reason string, err error) *SubscriptionError {
	return &SubscriptionError{Instrument: instrument, Reason: reason, Err: err}
}

// UpstreamError represents a transport, timeout, or broker-side failure not
// otherwise classified.
type UpstreamError struct {
	Op     string
	Reason string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error [%s]: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("upstream error [%s]: %s", e.Op, e.Reason)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(op, reason string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Reason: reason, Err: err}
}

// IsAuthRejection reports whether err is an authentication rejection from
// the broker, which must expire the local session.
func IsAuthRejection(err error) bool {
	if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrSessionExpired) {
		return true
	}
	var ae *AuthError
	return errors.As(err, &ae)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
