// Package apperrors defines the error taxonomy shared by the registration and payment core.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers deciding whether to retry, report, or pick another action.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindConflict           Kind = "CONFLICT"
	KindNotFound           Kind = "NOT_FOUND"
	KindExhausted          Kind = "EXHAUSTED"
	KindIneligible         Kind = "INELIGIBLE"
	KindExternalDependency Kind = "EXTERNAL_DEPENDENCY"
	KindForbidden          Kind = "FORBIDDEN"
	KindInternal           Kind = "INTERNAL"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind lets errors.As find the kind of any error implementing it.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Is matches another *Error by code, so sentinels declared with New work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation reports bad input shape.
func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION_FAILED", message)
}

// Conflict reports a state clash the caller can resolve by choosing a different action.
func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// NotFound reports a missing resource.
func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

// Forbidden reports a principal lacking the required role.
func Forbidden(message string) *Error {
	return New(KindForbidden, "FORBIDDEN", message)
}

// External wraps a storage or provider failure. Callers retry these with backoff.
func External(err error, message string) *Error {
	return Wrap(err, KindExternalDependency, "EXTERNAL_DEPENDENCY", message)
}

type kinded interface {
	ErrorKind() Kind
}

// KindOf returns the kind of the first classified error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the client-facing message: the Message of the first *Error in the chain,
// or err.Error() for other error types.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps a kind to the HTTP status returned to API clients.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict, KindExhausted:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindIneligible:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	case KindExternalDependency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
