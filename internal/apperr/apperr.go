// Package apperr defines the error taxonomy shared by every storage component.
//
// Domain packages declare their sentinel errors with New and callers match them
// with errors.Is. The Kind of an error decides how the transport layer reports
// it; the Code is the stable, client-visible identifier.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and reporting.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindQuotaExceeded
	KindPermissionDenied
	KindInvalidState
	KindInvalidArgument
	KindTransient
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTransient:
		return "transient"
	case KindUnauthenticated:
		return "unauthenticated"
	default:
		return "internal"
	}
}

// Error is a classified error with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

// New builds a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors sharing the same code so wrapped copies of a sentinel
// still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Kind == t.Kind
}

// ErrTransient marks failures of an external dependency that a caller may retry.
var ErrTransient = New(KindTransient, "unavailable", "storage temporarily unavailable")

// Transient wraps err as a retryable dependency failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Code: ErrTransient.Code, Message: ErrTransient.Message, cause: err}
}

// KindOf reports the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether err is a retryable dependency failure.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
