// Package errors provides the structured error type used across docrank,
// plus retry helpers with exponential backoff.
//
// Components recover locally what they can (cache misses, dead pool handles,
// model-load failures); everything else bubbles to the orchestrating task as
// an *Error, and the task decides retry vs. terminal status from the Kind.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for docrank.
type Error struct {
	// Kind classifies the failure for retry/status decisions.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is against kind sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping cause. Returns nil when cause is nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation creates a validation error (terminal, never retried).
func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

// ResourceExhausted creates a pool/timeout exhaustion error (retryable).
func ResourceExhausted(message string, cause error) *Error {
	return &Error{Kind: KindResourceExhausted, Message: message, Cause: cause}
}

// Transient creates a transient transport error (retryable).
func Transient(message string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, Cause: cause}
}

// Corruption creates a corruption error (recovered locally).
func Corruption(message string, cause error) *Error {
	return &Error{Kind: KindCorruption, Message: message, Cause: cause}
}

// ModelUnavailable creates a degradation error for auxiliary models.
func ModelUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindModelUnavailable, Message: message, Cause: cause}
}

// Fatal creates a terminal task error.
func Fatal(message string, cause error) *Error {
	return &Error{Kind: KindFatal, Message: message, Cause: cause}
}

// KindOf extracts the kind from an error chain.
// Foreign errors classify as KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the task layer may retry after err.
// Unknown errors are treated as retryable so that unclassified transport
// failures still get the backoff policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind.retryable()
	}
	return true
}

// As is a re-export of the standard errors.As for callers that already
// import this package.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is a re-export of the standard errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
