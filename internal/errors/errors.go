// Package errors provides structured error types with codes for the gatekeeper.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for categorizing errors.
const (
	CodeInternal              = "internal_error"
	CodeInvalidRequest        = "invalid_request"
	CodeInvalidOrExpiredState = "invalid_or_expired_state"
	CodeTokenExchangeFailed   = "token_exchange_failed"
	CodeRefreshFailed         = "refresh_failed"
	CodeUnauthenticated       = "unauthenticated"
	CodeRateLimited           = "rate_limited"
)

// Unauthenticated reasons, surfaced to clients so they can decide between
// re-authenticating and hard-failing.
const (
	ReasonMissingHeader    = "missing_header"
	ReasonMalformedToken   = "malformed_token"
	ReasonExpiredToken     = "expired_token"
	ReasonInvalidSignature = "invalid_signature"
)

// Error represents a structured error with a code and message.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of a structured error, or CodeInternal for
// anything else.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// InvalidRequest creates an invalid request error.
func InvalidRequest(message string) *Error {
	return &Error{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// InvalidOrExpiredState creates the CSRF state error. Callers must not be
// able to tell "never existed" from "expired" or "already consumed".
func InvalidOrExpiredState() *Error {
	return &Error{
		Code:    CodeInvalidOrExpiredState,
		Message: "authorization state is invalid or has expired",
	}
}

// Unauthenticated creates an unauthenticated error carrying a
// machine-readable reason.
func Unauthenticated(reason string) *Error {
	return &Error{
		Code:    CodeUnauthenticated,
		Message: reason,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}
