package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry, circuit breaking and reporting.
type ErrorKind string

const (
	// KindValidation marks malformed input to a step. Not retryable.
	KindValidation ErrorKind = "validation"
	// KindAuthorization marks a caller without rights. Not retryable.
	KindAuthorization ErrorKind = "authorization"
	// KindNotFound marks an absent referenced entity. Not retryable.
	KindNotFound ErrorKind = "not_found"
	// KindTransient marks rate limits, throttling, timeouts and temporary unavailability.
	KindTransient ErrorKind = "transient_dependency"
	// KindCircuitOpen marks a call rejected by an open circuit breaker.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindUpstreamFailure marks a step skipped because a step it depends on failed.
	KindUpstreamFailure ErrorKind = "upstream_failure"
	// KindCancelled marks work that never ran because the run was cancelled.
	KindCancelled ErrorKind = "cancelled"
	// KindBudgetExceeded marks work that never ran because the run budget was exhausted.
	KindBudgetExceeded ErrorKind = "budget_exceeded"
	// KindInternal marks an unclassified failure.
	KindInternal ErrorKind = "internal"
)

// Retryable reports whether failures of this kind are worth another attempt.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient
}

// CallerFault reports whether the kind describes a problem with the request rather than
// with the dependency that served it.
func (k ErrorKind) CallerFault() bool {
	switch k {
	case KindValidation, KindAuthorization, KindNotFound:
		return true
	default:
		return false
	}
}

// Error represents a structured error with kind, message, and metadata.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	Dependency string    `json:"dependency,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given kind and message.
// Retryable defaults to the kind's classification.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kind.Retryable()}
}

// Errorf creates a new Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDependency records the external dependency that produced the error.
func (e *Error) WithDependency(name string) *Error {
	e.Dependency = name
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Context errors map to cancelled / budget_exceeded,
// anything else unclassified maps to internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindBudgetExceeded
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// FromContext converts a finished context into the matching Error, or nil while ctx is live.
func FromContext(ctx context.Context) *Error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindBudgetExceeded, "run budget exhausted").WithCause(err)
	default:
		return NewError(KindCancelled, "run cancelled").WithCause(err)
	}
}

// Common constructors.

// NewValidationError creates a validation error.
func NewValidationError(message string) *Error {
	return NewError(KindValidation, message)
}

// NewNotFoundError creates a not_found error.
func NewNotFoundError(message string) *Error {
	return NewError(KindNotFound, message)
}

// NewTransientError creates a retryable dependency error.
func NewTransientError(dependency, message string) *Error {
	return NewError(KindTransient, message).WithDependency(dependency)
}
