// Package apperr provides the typed error kinds shared across perryd's
// components and the RPC error-mapping layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of an AppError, independent of HTTP status.
type Kind string

const (
	NotFound          Kind = "NOT_FOUND"
	AlreadyExists     Kind = "ALREADY_EXISTS"
	InvalidArgument   Kind = "INVALID_ARGUMENT"
	PreconditionFail  Kind = "PRECONDITION_FAILED"
	Conflict          Kind = "CONFLICT"
	Timeout           Kind = "TIMEOUT"
	ConnectionFailed  Kind = "CONNECTION_FAILED"
	ContainerError    Kind = "CONTAINER_ERROR"
	AgentError        Kind = "AGENT_ERROR"
	Internal          Kind = "INTERNAL"
)

// httpStatus is the default RPC status mapping per kind.
var httpStatus = map[Kind]int{
	NotFound:         http.StatusNotFound,
	AlreadyExists:    http.StatusConflict,
	InvalidArgument:  http.StatusBadRequest,
	PreconditionFail: http.StatusPreconditionFailed,
	Conflict:         http.StatusConflict,
	Timeout:          http.StatusGatewayTimeout,
	ConnectionFailed: http.StatusBadGateway,
	ContainerError:   http.StatusInternalServerError,
	AgentError:       http.StatusInternalServerError,
	Internal:         http.StatusInternalServerError,
}

// AppError is the single error type carried across component boundaries.
// Stdout/stderr are only populated for CONTAINER_ERROR.
type AppError struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code,omitempty"`
	Stdout   string `json:"-"`
	Stderr   string `json:"-"`
	Err      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus returns the RPC status code for this error's kind.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func NotFoundf(resource, id string) *AppError {
	return New(NotFound, fmt.Sprintf("%s %q not found", resource, id))
}

func AlreadyExistsf(resource, id string) *AppError {
	return New(AlreadyExists, fmt.Sprintf("%s %q already exists", resource, id))
}

func InvalidArgumentf(format string, args ...any) *AppError {
	return New(InvalidArgument, fmt.Sprintf(format, args...))
}

func PreconditionFailedf(format string, args ...any) *AppError {
	return New(PreconditionFail, fmt.Sprintf(format, args...))
}

// ContainerErrorf wraps a non-zero container CLI exit.
func ContainerErrorf(exitCode int, stdout, stderr string, argv []string) *AppError {
	return &AppError{
		Kind:     ContainerError,
		Message:  fmt.Sprintf("command %v exited with status %d", argv, exitCode),
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}
}

// As reports whether err is (or wraps) an *AppError and, if so, returns it.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or Internal if err is not an *AppError.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return Internal
}

// HTTPStatusOf maps any error to an RPC status code.
func HTTPStatusOf(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }
