package apperr

import (
	"errors"
	"fmt"
)

// Kind discriminates the failure classes the workflow core can report.
type Kind string

const (
	// KindNotAuthorized: wrong actor for the current queue position, or a
	// non-administrator attempting an administrative operation.
	KindNotAuthorized Kind = "NOT_AUTHORIZED"
	// KindInvalidTransition: action attempted on a non-pending request, or
	// required fields missing (signature, send-back comments).
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	// KindStaleState: optimistic-concurrency token mismatch; the caller
	// must reload and retry.
	KindStaleState Kind = "STALE_STATE"
	// KindNotFound: unknown request or user id.
	KindNotFound Kind = "NOT_FOUND"
	// KindUnavailable: persistence or downstream failure.
	KindUnavailable Kind = "UNAVAILABLE"
)

// Error carries a kind alongside the message so callers can branch without
// string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a typed error with a formatted message
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotAuthorized constructs a KindNotAuthorized error
func NotAuthorized(format string, args ...interface{}) error {
	return New(KindNotAuthorized, format, args...)
}

// InvalidTransition constructs a KindInvalidTransition error
func InvalidTransition(format string, args ...interface{}) error {
	return New(KindInvalidTransition, format, args...)
}

// StaleState constructs a KindStaleState error
func StaleState(format string, args ...interface{}) error {
	return New(KindStaleState, format, args...)
}

// NotFound constructs a KindNotFound error
func NotFound(format string, args ...interface{}) error {
	return New(KindNotFound, format, args...)
}

// Unavailable wraps a persistence/downstream failure
func Unavailable(err error, format string, args ...interface{}) error {
	return Wrap(KindUnavailable, err, format, args...)
}

// KindOf extracts the kind from err, unwrapping as needed. Unknown errors
// report KindUnavailable so the edge maps them to a retryable status.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
