package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies application errors for signaling acks and the admin API.
type Code string

const (
	CodeBadRequest       Code = "BAD_REQUEST"
	CodeForbidden        Code = "FORBIDDEN"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeAlreadyRequested Code = "ALREADY_REQUESTED"
	CodeIncompatible     Code = "INCOMPATIBLE"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeFatal            Code = "FATAL"
	CodeInternal         Code = "INTERNAL"
)

// AppError carries a code, a caller-facing message and an optional cause.
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

func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus maps the code onto an HTTP status for the admin API.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeBadRequest, CodeIncompatible:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeAlreadyRequested:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError with no cause.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a cause to a new AppError.
func Wrap(err error, code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

func BadRequest(message string) *AppError  { return New(CodeBadRequest, message) }
func Forbidden(message string) *AppError   { return New(CodeForbidden, message) }
func NotFound(resource string) *AppError   { return New(CodeNotFound, resource+" not found") }
func Conflict(message string) *AppError    { return New(CodeAlreadyExists, message) }
func Unavailable(message string) *AppError { return New(CodeUnavailable, message) }
func Fatal(message string) *AppError       { return New(CodeFatal, message) }

// From extracts an AppError from err's chain, or wraps err as INTERNAL.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternal, "internal error")
}

// CodeOf returns the classification of err, CodeInternal for plain errors.
func CodeOf(err error) Code {
	if appErr := From(err); appErr != nil {
		return appErr.Code
	}
	return CodeInternal
}
