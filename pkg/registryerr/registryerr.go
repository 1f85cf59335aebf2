// Package registryerr defines the error taxonomy shared across the
// registry core and the HTTP status each kind maps to.
package registryerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure, independent of the message text.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindAuthRequired     Kind = "AUTH_REQUIRED"
	KindAuthInvalid      Kind = "AUTH_INVALID"
	KindIdentityMismatch Kind = "IDENTITY_MISMATCH"
	KindNotFound         Kind = "NOT_FOUND"
	KindRateLimited      Kind = "RATE_LIMITED"
	KindBlockedSpam      Kind = "BLOCKED_SPAM"
	KindForbidden        Kind = "FORBIDDEN"
	KindTimeout          Kind = "TIMEOUT"
	KindInternal         Kind = "INTERNAL"
)

// statusByKind maps each error kind to the status it surfaces as.
var statusByKind = map[Kind]int{
	KindValidation:       http.StatusBadRequest,
	KindAuthRequired:     http.StatusUnauthorized,
	KindAuthInvalid:      http.StatusForbidden,
	KindIdentityMismatch: http.StatusForbidden,
	KindNotFound:         http.StatusNotFound,
	KindRateLimited:      http.StatusTooManyRequests,
	KindBlockedSpam:      http.StatusBadRequest,
	KindForbidden:        http.StatusForbidden,
	KindTimeout:          http.StatusGatewayTimeout,
	KindInternal:         http.StatusInternalServerError,
}

// Error is a typed registry failure carrying its HTTP disposition.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string // populated fields for validation errors, e.g. "intents: required"
	Err     error    // wrapped cause, not exposed to clients
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for this error's kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs a registry error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a registry error that carries an underlying cause,
// which is logged by the caller but never echoed to the client.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation constructs a VALIDATION_ERROR carrying the offending fields.
func Validation(fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// Internal wraps an infrastructural failure (database, crypto) as INTERNAL,
// matching the propagation policy: infra failures are logged with context
// and surfaced generically, never detailed to the client.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: cause}
}

// As extracts a *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for any error, defaulting to 500 for
// errors that are not a *Error.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
