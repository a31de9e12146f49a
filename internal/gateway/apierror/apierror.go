// Package apierror defines the failure kinds a gateway call can end with and
// their HTTP status mapping.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway failure
type Kind string

const (
	Unauthenticated   Kind = "unauthenticated"
	Forbidden         Kind = "forbidden"
	InvalidRequest    Kind = "invalid_request"
	ServiceNotFound   Kind = "service_not_found"
	ServiceDisabled   Kind = "service_disabled"
	RateLimited       Kind = "rate_limited"
	CredentialMissing Kind = "credential_missing"
	Timeout           Kind = "timeout"
	NetworkError      Kind = "network_error"
	UpstreamError     Kind = "upstream_error"
	Internal          Kind = "internal"
)

// Error is a gateway failure with a message that is safe to return to callers
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int // upstream status, UpstreamError only
	Err        error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel comparisons like
// errors.Is(err, &Error{Kind: RateLimited}) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an Error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that keeps err as its cause. The cause is never part
// of the caller-facing message.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Upstream creates an UpstreamError for a non-2xx provider response
func Upstream(service string, statusCode int) *Error {
	return &Error{
		Kind:       UpstreamError,
		Message:    fmt.Sprintf("%s API error: status %d", service, statusCode),
		StatusCode: statusCode,
	}
}

// KindOf returns the kind of err, or Internal for foreign errors
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return Internal
}

// HTTPStatus maps a kind to the status returned to the caller
func HTTPStatus(kind Kind) int {
	switch kind {
	case RateLimited:
		return http.StatusTooManyRequests
	case ServiceNotFound:
		return http.StatusNotFound
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case InvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsUpstreamFault reports whether the kind describes a provider failure that
// belongs in the error log.
func IsUpstreamFault(kind Kind) bool {
	return kind == Timeout || kind == NetworkError || kind == UpstreamError
}
