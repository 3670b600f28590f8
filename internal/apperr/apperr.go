// Package apperr classifies domain failures so HTTP handlers can map them
// to response codes without inspecting package-specific sentinel errors.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind partitions failures by how the caller should react.
type Kind int

const (
	// KindValidation rejects malformed input before any write.
	KindValidation Kind = iota
	// KindNotFound signals a referenced entity is absent; nothing was mutated.
	KindNotFound
	// KindConflict signals the entity is not in a state that permits the
	// operation; the current state is surfaced so the caller can retry correctly.
	KindConflict
	// KindExternalAuth signals an external callback failed authenticity checks.
	KindExternalAuth
)

// Error carries a kind alongside a human-readable message and optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, reporting ok=false for unclassified errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// HTTPStatus maps a classified error to a response code. Unclassified
// errors map to 500.
func HTTPStatus(err error) int {
	switch k, ok := KindOf(err); {
	case !ok:
		return http.StatusInternalServerError
	case k == KindValidation:
		return http.StatusBadRequest
	case k == KindNotFound:
		return http.StatusNotFound
	case k == KindConflict:
		return http.StatusConflict
	case k == KindExternalAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
