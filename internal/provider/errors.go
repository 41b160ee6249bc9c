package provider

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of provider failure.
type ErrorCode string

const (
	// CodeRateLimited means the provider throttled us; retry next tick.
	CodeRateLimited ErrorCode = "RATE_LIMITED"
	// CodeUnavailable covers timeouts and provider-side outages.
	CodeUnavailable ErrorCode = "UNAVAILABLE"
	// CodeCredentialRevoked means the user must re-link the account.
	CodeCredentialRevoked ErrorCode = "CREDENTIAL_REVOKED"
	// CodeCredentialExpired means the credential aged out and must be
	// refreshed through re-linking.
	CodeCredentialExpired ErrorCode = "CREDENTIAL_EXPIRED"
	// CodeInvalidRequest means we sent something the provider rejected,
	// e.g. a cursor it no longer recognizes.
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// Error is a typed provider failure. Transient errors are retried on the next
// scheduled tick; permanent ones mark the account terminal until the user
// re-links it.
type Error struct {
	Code      ErrorCode
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s: %s", e.Code, e.Message)
}

// NewTransient builds a retryable provider error.
func NewTransient(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Transient: true}
}

// NewPermanent builds a terminal provider error.
func NewPermanent(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Transient: false}
}

// IsPermanent reports whether err is a provider error that will not succeed
// on retry. Unknown errors are assumed transient so that a flaky network
// never locks an account out.
func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return !pe.Transient
	}
	return false
}
