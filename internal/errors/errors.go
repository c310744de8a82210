// Package errors defines the coded error type shared by the session services,
// the identity adapters and the dev backend. Codes map onto HTTP statuses at the
// edges and onto metric tags in between.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is the category carried by an AppError.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "not_found"
	ErrCodeConflict     ErrorCode = "conflict"   // e.g. email already registered
	ErrCodeValidation   ErrorCode = "validation" // rejected before any backend call
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeUnavailable  ErrorCode = "unavailable"
	ErrCodeInternal     ErrorCode = "internal"
	ErrCodeTimeout      ErrorCode = "timeout"
	ErrCodeCanceled     ErrorCode = "canceled"
)

// AppError is a coded error with an optional cause and, for validation
// failures, the offending input field.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Field   string
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *AppError) Unwrap() error { return e.Cause }

func newError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Constructors, one per code.

func NotFound(message string) *AppError     { return newError(ErrCodeNotFound, message) }
func Conflict(message string) *AppError     { return newError(ErrCodeConflict, message) }
func Validation(message string) *AppError   { return newError(ErrCodeValidation, message) }
func Unauthorized(message string) *AppError { return newError(ErrCodeUnauthorized, message) }
func Unavailable(message string) *AppError  { return newError(ErrCodeUnavailable, message) }
func Internal(message string) *AppError     { return newError(ErrCodeInternal, message) }

// Internalf is Internal with a format string.
func Internalf(format string, args ...any) *AppError {
	return newError(ErrCodeInternal, fmt.Sprintf(format, args...))
}

// ValidationField reports a problem with one named input, such as "email".
func ValidationField(field, message string) *AppError {
	e := newError(ErrCodeValidation, message)
	e.Field = field
	return e
}

// Wrap attaches code and message to err. A nil err stays nil.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	e := newError(code, message)
	e.Cause = err
	return e
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// HasCode reports whether any AppError in err's chain carries code, so a login
// failure wrapped as internal still reads as unauthorized underneath.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	for errors.As(err, &appErr) {
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// Predicates over the whole chain.

func IsNotFound(err error) bool     { return HasCode(err, ErrCodeNotFound) }
func IsConflict(err error) bool     { return HasCode(err, ErrCodeConflict) }
func IsValidation(err error) bool   { return HasCode(err, ErrCodeValidation) }
func IsUnauthorized(err error) bool { return HasCode(err, ErrCodeUnauthorized) }
func IsUnavailable(err error) bool  { return HasCode(err, ErrCodeUnavailable) }
func IsInternal(err error) bool     { return HasCode(err, ErrCodeInternal) }
func IsTimeout(err error) bool      { return HasCode(err, ErrCodeTimeout) }
func IsCanceled(err error) bool     { return HasCode(err, ErrCodeCanceled) }

// GetCode returns the outermost code in err's chain, or "".
func GetCode(err error) ErrorCode {
	if appErr, ok := asAppError(err); ok {
		return appErr.Code
	}
	return ""
}

// GetField returns the outermost field in err's chain, or "".
func GetField(err error) string {
	if appErr, ok := asAppError(err); ok {
		return appErr.Field
	}
	return ""
}

func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}
