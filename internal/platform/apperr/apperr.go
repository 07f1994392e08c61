// Package apperr is the error taxonomy shared by every service. Services
// return *Error values; handlers turn them into HTTP responses with ToHTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindForbidden
	KindValidation
	KindNotFound
	KindInvalidReference
	KindConflict
	KindSignatureInvalid
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidReference:
		return "invalid_reference"
	case KindConflict:
		return "conflict"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Status is the HTTP status for a kind. An invalid reference (a service or
// location id that does not resolve) is a 400, not a 404.
func (k Kind) Status() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation, KindInvalidReference, KindSignatureInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

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

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, msg) }
func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func InvalidReference(msg string, err error) *Error {
	return Wrap(KindInvalidReference, msg, err)
}

func SignatureInvalid() *Error {
	return New(KindSignatureInvalid, "payment signature verification failed")
}

// Internal wraps a store or gateway failure. The message shown to clients
// is always generic.
func Internal(op string, err error) *Error {
	return Wrap(KindInternal, op, err)
}

func Unavailable(op string, err error) *Error {
	return Wrap(KindUnavailable, op, err)
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

const genericInternal = "something went wrong, please try again"

// ToHTTP converts err into an echo.HTTPError. Internal and unavailable
// errors get a generic message and carry the detail only as the internal
// error, which the request logger records.
func ToHTTP(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	kind := KindOf(err)
	msg := genericInternal
	if kind != KindInternal && kind != KindUnavailable {
		var e *Error
		errors.As(err, &e)
		msg = e.Message
	}
	return echo.NewHTTPError(kind.Status(), msg).SetInternal(err)
}
