package rebac

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an authorization error.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindForbidden
	KindValidation
	KindNotFound
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindValidation:
		return "INVALID_INPUT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindStorage:
		return "STORAGE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus is the status a route handler should answer with for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error returned by the permission engine.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rebac: %s (cause: %v)", e.Message, e.Cause)
	}
	return "rebac: " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrForbidden) works
// for every forbidden error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrForbidden    = &Error{Kind: KindForbidden, Message: "permission denied"}
	ErrValidation   = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrStorage      = &Error{Kind: KindStorage, Message: "storage failure"}
)

// Unauthorized reports that no authenticated subject was supplied.
func Unauthorized() error {
	return &Error{Kind: KindUnauthorized, Message: "authentication required"}
}

// Forbiddenf reports an authenticated subject lacking a relation.
func Forbiddenf(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Validationf reports malformed input.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing resource.
func NotFound(what, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", what, id)}
}

// StorageError wraps an infrastructure failure from the backing store.
// A nil cause returns nil. Errors that are already typed pass through.
func StorageError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return cause
	}
	return &Error{Kind: KindStorage, Message: op + " failed", Cause: cause}
}

// KindOf returns the Kind of err, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps err onto an HTTP status. Untyped errors are 500.
func HTTPStatus(err error) int {
	return KindOf(err).HTTPStatus()
}

// PublicMessage returns the message that is safe to show a client.
// Storage and unknown errors never leak internal detail.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "An unexpected error occurred."
	}
	switch e.Kind {
	case KindStorage, KindUnknown:
		return "An unexpected error occurred."
	default:
		return e.Message
	}
}
