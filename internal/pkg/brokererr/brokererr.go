// Package brokererr provides the standardized broker error types surfaced to
// the platform.
package brokererr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a broker API error with its OSB wire shape.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"description"`
	StatusCode  int    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Description
}

// WithDescription returns a copy of the error with a custom description.
func (e *Error) WithDescription(description string) *Error {
	return &Error{
		Code:        e.Code,
		Description: description,
		StatusCode:  e.StatusCode,
	}
}

// Standard error definitions
var (
	// ErrAsyncRequired is returned when a mutating call does not allow an
	// asynchronous response.
	ErrAsyncRequired = &Error{
		Code:        "AsyncRequired",
		Description: "This service plan requires client support for asynchronous service operations.",
		StatusCode:  http.StatusUnprocessableEntity,
	}

	// ErrInstanceDoesNotExist is returned when the referenced service
	// instance is unknown.
	ErrInstanceDoesNotExist = &Error{
		Code:        "InstanceDoesNotExist",
		Description: "Service instance does not exist",
		StatusCode:  http.StatusGone,
	}

	// ErrInstanceAlreadyExists is returned when a provision reuses an
	// instance id.
	ErrInstanceAlreadyExists = &Error{
		Code:        "Conflict",
		Description: "Service instance already exists",
		StatusCode:  http.StatusConflict,
	}

	// ErrNotImplemented is returned for unknown plans.
	ErrNotImplemented = &Error{
		Code:        "NotImplemented",
		Description: "Not implemented",
		StatusCode:  http.StatusNotImplemented,
	}
)

// BadRequest creates a bad-request error with the given message.
func BadRequest(format string, args ...any) *Error {
	return &Error{
		Code:        "BadRequest",
		Description: fmt.Sprintf(format, args...),
		StatusCode:  http.StatusBadRequest,
	}
}

// As extracts an *Error from err, mapping anything else to an internal
// server error.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Code:        "InternalServerError",
		Description: "An internal error occurred",
		StatusCode:  http.StatusInternalServerError,
	}
}
