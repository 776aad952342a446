// Package apperr defines the error kinds surfaced by the checkout gateway and
// their HTTP status codes.
package apperr

import (
	"net/http"

	"github.com/go-faster/errors"
)

// Kind classifies an error for the transport layer.
type Kind uint8

const (
	// Internal is an unexpected failure with no more specific kind.
	Internal Kind = iota
	// InvalidInput is a field that failed validation.
	InvalidInput
	// MalformedPayload is a request body that is not a usable JSON object.
	MalformedPayload
	// Unauthorized is a request that failed authentication.
	Unauthorized
	// NotFound is a missing resource.
	NotFound
	// MethodNotAllowed is a request made with an unsupported HTTP method.
	MethodNotAllowed
	// RateLimited is a client that exceeded its request budget.
	RateLimited
	// UpstreamFailure is any failure of an external system call.
	UpstreamFailure
	// UnresolvedReference is a webhook reference that maps to no order.
	UnresolvedReference
)

var kindNames = [...]string{
	Internal:            "internal",
	InvalidInput:        "invalid_input",
	MalformedPayload:    "malformed_payload",
	Unauthorized:        "unauthorized",
	NotFound:            "not_found",
	MethodNotAllowed:    "method_not_allowed",
	RateLimited:         "rate_limited",
	UpstreamFailure:     "upstream_failure",
	UnresolvedReference: "unresolved_reference",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// HTTPStatus returns the status code a response carrying this kind uses.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput, MalformedPayload, UnresolvedReference:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Message is safe to show to API clients; the
// wrapped Err is for logs only.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so callers can
// match with errors.Is(err, &apperr.Error{Kind: apperr.NotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap classifies err under kind with a client-safe message.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Invalid reports a validation failure on field.
func Invalid(field, msg string) *Error {
	return &Error{Kind: InvalidInput, Field: field, Message: msg}
}

// Upstream reports a failed external call.
func Upstream(err error, msg string) *Error {
	return &Error{Kind: UpstreamFailure, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the client-safe message of err. Unclassified errors get a
// generic message so internals never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
