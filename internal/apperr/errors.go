// Package apperr defines the error taxonomy shared by all services.
//
// Four kinds are visible to callers (validation, authentication,
// authorization, not_found); everything else is an internal defect. Handlers
// map codes to HTTP statuses, so callers distinguish kinds by code, never by
// message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error kind.
type Code string

const (
	ErrCodeValidation     Code = "validation"
	ErrCodeAuthentication Code = "authentication"
	ErrCodeAuthorization  Code = "authorization"
	ErrCodeNotFound       Code = "not_found"
	ErrCodeInternal       Code = "internal"
)

// Error is a coded error. It wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports that a referenced entity is absent.
func NotFound(resource, id string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s '%s' not found", resource, id)}
}

// InvalidInput reports a malformed input field.
func InvalidInput(field, reason string) error {
	return &Error{Code: ErrCodeValidation, Message: fmt.Sprintf("%s: %s", field, reason)}
}

// Unauthenticated reports a missing, unknown or expired session.
func Unauthenticated(reason string) error {
	return &Error{Code: ErrCodeAuthentication, Message: reason}
}

// Unauthorized reports a role mismatch or ownership violation.
func Unauthorized(reason string) error {
	return &Error{Code: ErrCodeAuthorization, Message: reason}
}

// CodeOf extracts the code from err, or ErrCodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MessageOf extracts the caller-facing message from err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error to its stable HTTP status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeAuthorization:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
