package credential

import (
	"errors"
	"fmt"
	"time"
)

// Error codes returned by the verify endpoint and raised by this package.
const (
	// ErrCodeNotFound indicates the credential ID is unknown to the server.
	ErrCodeNotFound = "CREDENTIAL_NOT_FOUND"

	// ErrCodeExpired indicates current time >= valid_until.
	ErrCodeExpired = "CREDENTIAL_EXPIRED"

	// ErrCodeRevoked indicates the credential was explicitly invalidated.
	ErrCodeRevoked = "CREDENTIAL_REVOKED"

	// ErrCodeInvalid indicates a generic validation failure; the message is
	// server-supplied.
	ErrCodeInvalid = "CREDENTIAL_INVALID"

	// ErrCodeAuth indicates a bad or missing API key.
	ErrCodeAuth = "AUTH_INVALID"

	// ErrCodeRateLimited indicates server backpressure. The error carries
	// the Retry-After hint when the server supplied one.
	ErrCodeRateLimited = "RATE_LIMITED"

	// ErrCodeNetwork indicates a transport-level failure reaching the API.
	ErrCodeNetwork = "NETWORK_ERROR"

	// ErrCodeSignature indicates a local signature mismatch or stale
	// timestamp.
	ErrCodeSignature = "SIGNATURE_INVALID"
)

// Error is a credential error with a stable code. Callers branch on the code
// via errors.Is against the sentinel values, never on message text.
type Error struct {
	// Code is one of the error codes above.
	Code string

	// Message is a human-readable description.
	Message string

	// RetryAfter is the server's backoff hint for RATE_LIMITED errors,
	// zero otherwise.
	RetryAfter time.Duration

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a new Error that wraps an underlying error.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Predefined sentinel errors for errors.Is checks.
var (
	// ErrNotFound is returned when the credential ID is unknown.
	ErrNotFound = NewError(ErrCodeNotFound, "credential not found")

	// ErrExpired is returned when the credential is past valid_until.
	ErrExpired = NewError(ErrCodeExpired, "credential has expired")

	// ErrRevoked is returned when the credential has been revoked.
	ErrRevoked = NewError(ErrCodeRevoked, "credential has been revoked")

	// ErrInvalid is returned for generic validation failures.
	ErrInvalid = NewError(ErrCodeInvalid, "credential is invalid")

	// ErrAuth is returned for bad or missing API keys.
	ErrAuth = NewError(ErrCodeAuth, "invalid or missing API key")

	// ErrRateLimited is returned on server backpressure.
	ErrRateLimited = NewError(ErrCodeRateLimited, "rate limited by server")

	// ErrNetwork is returned for transport-level failures.
	ErrNetwork = NewError(ErrCodeNetwork, "network error")

	// ErrSignature is returned for local signature verification failures.
	ErrSignature = NewError(ErrCodeSignature, "signature verification failed")
)

// AsError checks if err is an Error and returns it if so.
func AsError(err error) (*Error, bool) {
	var credErr *Error
	if errors.As(err, &credErr) {
		return credErr, true
	}
	return nil, false
}

// GetErrorCode extracts the code from an Error, or returns the empty string.
func GetErrorCode(err error) string {
	if credErr, ok := AsError(err); ok {
		return credErr.Code
	}
	return ""
}
