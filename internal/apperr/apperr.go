// Package apperr defines the tagged errors that cross component boundaries
// and map one-to-one onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorises an error.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindTooManyRequests
)

// Status returns the HTTP status code of the kind.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// String returns the category name shown to clients.
func (k Kind) String() string {
	return http.StatusText(k.Status())
}

// Error is a user-facing failure. Message is safe to show; Err holds the raw cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ServerMessage returns the raw cause, if any.
func (e *Error) ServerMessage() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func BadRequest(message string) *Error {
	return New(KindBadRequest, message, nil)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message, nil)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message, nil)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

func TooManyRequests(message string) *Error {
	return New(KindTooManyRequests, message, nil)
}

// Internal wraps a storage or upstream failure.
func Internal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// From converts any error into a tagged one. Untagged errors become Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("Unexpected server error.", err)
}

// KindOf returns the kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	return From(err).Kind
}
