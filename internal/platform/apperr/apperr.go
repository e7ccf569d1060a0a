// Package apperr defines the error taxonomy shared by every domain service
// and the echo error handler that renders it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindInvalidCredentials
	KindAccountLocked
	KindInvalidOTP
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAccountLocked:
		return "account_locked"
	case KindInvalidOTP:
		return "invalid_otp"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindInvalidCredentials, KindInvalidOTP:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindAccountLocked, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a business-rule failure with a client-safe message. Meta is
// merged into the JSON body next to the message.
type Error struct {
	Kind    Kind
	Message string
	Meta    map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Validation(msg string) *Error { return newErr(KindValidation, msg) }

func Validationf(format string, args ...interface{}) *Error {
	return newErr(KindValidation, fmt.Sprintf(format, args...))
}

// InvalidCredentials never says which field was wrong. A negative remaining
// count omits the attempts metadata.
func InvalidCredentials(remaining int) *Error {
	if remaining < 0 {
		return newErr(KindInvalidCredentials, "Invalid credentials")
	}
	e := newErr(KindInvalidCredentials,
		fmt.Sprintf("Invalid credentials. %d attempt(s) left before lock.", remaining))
	e.Meta = map[string]interface{}{"remainingAttempts": remaining}
	return e
}

func AccountLocked(minutes int) *Error {
	e := newErr(KindAccountLocked, fmt.Sprintf("Account locked. Try again in %d minute(s).", minutes))
	e.Meta = map[string]interface{}{"minutesRemaining": minutes}
	return e
}

// InvalidOTP does not distinguish a wrong code from an expired one.
func InvalidOTP() *Error { return newErr(KindInvalidOTP, "Invalid or expired OTP") }

func Unauthorized(msg string) *Error { return newErr(KindUnauthorized, msg) }
func Forbidden(msg string) *Error    { return newErr(KindForbidden, msg) }
func NotFound(msg string) *Error     { return newErr(KindNotFound, msg) }
func Conflict(msg string) *Error     { return newErr(KindConflict, msg) }

func Conflictf(format string, args ...interface{}) *Error {
	return newErr(KindConflict, fmt.Sprintf(format, args...))
}

// Internal wraps an unexpected failure. The cause is logged by the error
// handler and never rendered.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
