// Package syncerr defines the typed failures raised by the marketplace
// sync pipeline. Callers branch on Kind rather than on concrete messages.
package syncerr

import (
	"errors"
	"time"
)

// Kind is the machine-readable failure class.
type Kind string

const (
	KindTransient     Kind = "TRANSIENT"
	KindAuth          Kind = "AUTH"
	KindQuotaExceeded Kind = "QUOTA_EXCEEDED"
	KindNotFound      Kind = "NOT_FOUND"
	KindInvalidRecord Kind = "INVALID_RECORD"
	KindStorage       Kind = "STORAGE"
	KindTaskFailed    Kind = "TASK_FAILED"
	KindTaskTimeout   Kind = "TASK_TIMEOUT"
)

// Error is the pipeline error type.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	RetryAfter time.Duration // hint from the remote side, zero when unknown
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrTransient     = &Error{Kind: KindTransient, Message: "transient failure"}
	ErrAuth          = &Error{Kind: KindAuth, Message: "authorization failed"}
	ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded, Message: "daily quota exceeded"}
	ErrNotFound      = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidRecord = &Error{Kind: KindInvalidRecord, Message: "invalid record"}
	ErrStorage       = &Error{Kind: KindStorage, Message: "storage failure"}
	ErrTaskFailed    = &Error{Kind: KindTaskFailed, Message: "export task failed"}
	ErrTaskTimeout   = &Error{Kind: KindTaskTimeout, Message: "export task timed out"}
)

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RetryAfterOf returns the remote retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTaskFailed, KindTaskTimeout:
		return true
	}
	return false
}
