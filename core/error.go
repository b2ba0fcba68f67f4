package core

import (
	"context"
	"errors"
	"fmt"
)

// Error is the base error type for flow execution failures. It carries a
// StatusName so transports can derive their wire codes, plus an optional
// details bag that is safe to surface to callers.
type Error struct {
	Status  StatusName     `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// NewError creates an Error with the given status and formatted message.
// If the format arguments contain an error under %w-style wrapping via
// Errorf, prefer Errorf instead.
func NewError(status StatusName, format string, args ...any) *Error {
	return &Error{
		Status:  status,
		Message: fmt.Sprintf(format, args...),
	}
}

// Errorf creates an Error wrapping cause, preserving it for errors.Is/As.
func Errorf(status StatusName, cause error, format string, args ...any) *Error {
	return &Error{
		Status:  status,
		Message: fmt.Sprintf(format, args...),
		wrapped: cause,
	}
}

// WithDetails attaches a details map and returns the error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// StatusOf extracts the StatusName from an error chain. Plain context
// cancellation and deadline errors are normalized to their statuses;
// anything unrecognized is UNKNOWN.
func StatusOf(err error) StatusName {
	if err == nil {
		return OK
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	if errors.Is(err, context.Canceled) {
		return CANCELLED
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DEADLINE_EXCEEDED
	}
	return UNKNOWN
}

// IsTransient reports whether an error is worth retrying: provider I/O
// failures, rate limits and other conditions that may clear on their own.
// Cancellations, deadline expiry and caller mistakes are never transient.
func IsTransient(err error) bool {
	switch StatusOf(err) {
	case UNAVAILABLE, RESOURCE_EXHAUSTED, ABORTED, UNKNOWN, DATA_LOSS:
		return true
	default:
		return false
	}
}

// IsCancellation reports whether an error means the invocation was
// cancelled or timed out. After a cancellation no cleanup runs.
func IsCancellation(err error) bool {
	switch StatusOf(err) {
	case CANCELLED, DEADLINE_EXCEEDED:
		return true
	default:
		return false
	}
}

// FromContextErr converts a context error into a typed Error.
func FromContextErr(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Errorf(DEADLINE_EXCEEDED, err, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return Errorf(CANCELLED, err, "cancelled")
	case err == nil:
		return nil
	default:
		return Errorf(UNKNOWN, err, "%v", err)
	}
}
