// Package apperror defines the error kinds returned at the HTTP boundary.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindForbidden
	KindPriceMismatch
	KindTotalMismatch
	KindUnauthorized
	KindNotFound
	KindUnavailable
)

// Error is a classified failure with a machine readable code
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code is the value of the "error" field in responses
func (e *Error) Code() string {
	switch e.Kind {
	case KindBadRequest:
		return "bad_request"
	case KindForbidden:
		return "invalid_session"
	case KindPriceMismatch, KindTotalMismatch:
		return "cart_stale"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "temporary_failure"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps the kind onto a response status
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindPriceMismatch, KindTotalMismatch:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the client should simply resubmit
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable
}

func BadRequest(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func Unauthorized(message string, err error) *Error {
	return &Error{Kind: KindUnauthorized, Message: message, Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Unavailable(message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

func PriceMismatch(productID, title, clientPrice, serverPrice string) *Error {
	return &Error{
		Kind:    KindPriceMismatch,
		Message: fmt.Sprintf("price mismatch for %s: submitted %s, current %s", title, clientPrice, serverPrice),
		Details: map[string]interface{}{
			"productId":   productID,
			"title":       title,
			"clientPrice": clientPrice,
			"serverPrice": serverPrice,
		},
	}
}

func TotalMismatch(clientTotal, serverTotal string) *Error {
	return &Error{
		Kind:    KindTotalMismatch,
		Message: fmt.Sprintf("total mismatch: submitted %s, current %s", clientTotal, serverTotal),
		Details: map[string]interface{}{
			"clientTotal": clientTotal,
			"serverTotal": serverTotal,
		},
	}
}

// As extracts an *Error, classifying anything else as internal
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", err)
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
