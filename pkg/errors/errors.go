package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeInternal        Code = "INTERNAL"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeConflict         Code = "CONFLICT"
	CodeForbidden        Code = "FORBIDDEN"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeDeadlineExceeded Code = "DEADLINE_EXCEEDED"
)

// AppError is the standard error type produced by the adapter packages.
// It carries a Code for programmatic handling, a human-readable Message,
// and an optional wrapped cause.
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New builds an AppError with the given code, message and optional cause.
func New(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Newf is like New but formats the message.
func Newf(code Code, cause error, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Wrap attaches message context to err, preserving its Code if err is
// already an *AppError, otherwise classifying it as CodeInternal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{Code: appErr.Code, Message: message, Cause: appErr}
	}
	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

// Wrapf is like Wrap but formats the message.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Convenience constructors for the most common codes.

func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

func Forbidden(message string, cause error) *AppError {
	return New(CodeForbidden, message, cause)
}

func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, message, cause)
}

// Is reports whether err's Code matches code, looking through wrapped causes.
func Is(err error, code Code) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// IsNotFound reports whether err (or a wrapped cause) is a CodeNotFound error.
func IsNotFound(err error) bool {
	return Is(err, CodeNotFound)
}

// IsAlreadyExists reports whether err (or a wrapped cause) is CodeAlreadyExists.
func IsAlreadyExists(err error) bool {
	return Is(err, CodeAlreadyExists)
}

// Cause returns the deepest wrapped error, or err itself if it wraps nothing.
func Cause(err error) error {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
}

// HTTPStatus maps a Code to the closest matching HTTP status code.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeDeadlineExceeded:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// As is re-exported so callers only need to import this package.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join is re-exported from the standard library for multi-error aggregation.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
