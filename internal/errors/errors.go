package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol error. The set is closed: every failure a
// public operation can return maps to exactly one Kind.
type Kind string

const (
	KindValidation             Kind = "VALIDATION"
	KindAuthorization          Kind = "AUTHORIZATION"
	KindOracleStale            Kind = "ORACLE_STALE"
	KindOracleDeviation        Kind = "ORACLE_DEVIATION"
	KindCircuitBreakerTripped  Kind = "CIRCUIT_BREAKER_TRIPPED"
	KindRateLimitExceeded      Kind = "RATE_LIMIT_EXCEEDED"
	KindConcurrencyConflict    Kind = "CONCURRENCY_CONFLICT"
	KindProposalExpired        Kind = "PROPOSAL_EXPIRED"
	KindInsufficientSignatures Kind = "INSUFFICIENT_SIGNATURES"
	KindArithmeticOverflow     Kind = "ARITHMETIC_OVERFLOW"
	KindNotFound               Kind = "NOT_FOUND"
	KindFeedUnavailable        Kind = "FEED_UNAVAILABLE"
)

// ProtocolError carries the error kind plus the component and operation it
// surfaced from, and for validation failures the first violated field.
type ProtocolError struct {
	Kind       Kind
	Component  string
	Op         string
	Field      string
	Message    string
	Underlying error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" && e.Underlying != nil {
		msg = e.Underlying.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] %s: field %q: %s", e.Kind, e.Component, e.Op, e.Field, msg)
	}
	if e.Underlying != nil && e.Message != "" {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Kind, e.Component, e.Op, msg, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Component, e.Op, msg)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProtocolError) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether the caller is expected to retry automatically.
// Only version conflicts qualify; everything else needs operator input.
func (e *ProtocolError) IsRetryable() bool {
	return e.Kind == KindConcurrencyConflict
}

// WithField attaches the first violated field to the error.
func (e *ProtocolError) WithField(field string) *ProtocolError {
	e.Field = field
	return e
}

// New creates a categorized protocol error.
func New(kind Kind, component, op, message string) *ProtocolError {
	return &ProtocolError{
		Kind:      kind,
		Component: component,
		Op:        op,
		Message:   message,
	}
}

// Newf creates a categorized protocol error with a formatted message.
func Newf(kind Kind, component, op, format string, args ...interface{}) *ProtocolError {
	return New(kind, component, op, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with protocol error context.
func Wrap(err error, kind Kind, component, op string) *ProtocolError {
	if err == nil {
		return nil
	}
	// Keep the original kind if the error is already categorized.
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProtocolError{
		Kind:       kind,
		Component:  component,
		Op:         op,
		Underlying: err,
	}
}

// Validation creates a validation error naming the first violated field.
func Validation(component, op, field, message string) *ProtocolError {
	return New(KindValidation, component, op, message).WithField(field)
}

// Validationf is Validation with a formatted message.
func Validationf(component, op, field, format string, args ...interface{}) *ProtocolError {
	return Validation(component, op, field, fmt.Sprintf(format, args...))
}

// NotFound creates a not-found error for an entity key.
func NotFound(component, op, key string) *ProtocolError {
	return Newf(KindNotFound, component, op, "entity %q not found", key)
}

// Conflict creates a compare-and-set version conflict error.
func Conflict(component, op, key string) *ProtocolError {
	return Newf(KindConcurrencyConflict, component, op, "version conflict on %q", key)
}

// Unauthorized creates an authorization error.
func Unauthorized(component, op, message string) *ProtocolError {
	return New(KindAuthorization, component, op, message)
}

// Overflow creates an arithmetic overflow error.
func Overflow(op, message string) *ProtocolError {
	return New(KindArithmeticOverflow, "math", op, message)
}

// KindOf extracts the Kind from an error chain, or "" if uncategorized.
func KindOf(err error) Kind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error chain is a retryable conflict.
func IsRetryable(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return false
}
