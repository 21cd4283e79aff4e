// Package apperr defines the error taxonomy shared by the Node and Relay HTTP
// surfaces. Handlers return an *Error (or a wrapped one) and the transport
// layer maps Kind to an HTTP status without needing to inspect message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the error categories from the federation error taxonomy.
type Kind string

const (
	BadInput        Kind = "bad_input"
	Unauthenticated Kind = "unauthenticated"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	RateLimited     Kind = "rate_limited"
	QuotaExceeded   Kind = "quota_exceeded"
	PayloadTooLarge Kind = "payload_too_large"
	UpstreamFailure Kind = "upstream_failure"
	Timeout         Kind = "timeout"
	Internal        Kind = "internal"
)

// Error is the taxonomy error type. Message is safe to return to callers;
// Detail is for logs/audit only and is never serialized to HTTP responses.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind carrying a lower-level cause as
// Detail (never exposed over HTTP).
func Wrap(kind Kind, message string, cause error) *Error {
	e := &Error{Kind: kind, Message: message, cause: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to Internal when err is not an
// *Error (or is nil, which returns "").
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

// Status maps a Kind to the HTTP status code callers should return for it.
func Status(k Kind) int {
	switch k {
	case BadInput:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case RateLimited, QuotaExceeded:
		return http.StatusTooManyRequests
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case UpstreamFailure:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
