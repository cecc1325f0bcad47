// Package domainerrors carries the error kinds services return to transport
// layers. The kind decides the response status; HTTPStatus is the only place
// that mapping lives.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable error kind tag. It is logged verbatim but never written
// to a response body.
type Code string

const (
	CodeValidation              Code = "validation_error"
	CodeNotFound                Code = "not_found"
	CodeUnauthorized            Code = "unauthorized"
	CodeVerificationUnavailable Code = "verification_unavailable"
	CodeExternalTransient       Code = "external_transient"
	CodeExternalTerminal        Code = "external_terminal"
	CodeRetriesExhausted        Code = "retries_exhausted"
	CodePersistence             Code = "persistence_error"
	CodeInternal                Code = "internal_error"
)

// Error is a domain failure with a kind and a caller-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error without an underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a kind and caller-safe message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the kind of the first domain error in the chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given kind.
func HasCode(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

// HTTPStatus maps an error kind to its response status class.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound, CodeUnauthorized, CodeVerificationUnavailable:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// StatusClass is the public name of the status an error kind maps to.
func StatusClass(code Code) string {
	switch HTTPStatus(code) {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	default:
		return "server_error"
	}
}
