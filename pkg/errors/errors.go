// Package errors carries the API's typed failures. Services return *Error
// values; the response writer maps their Code to a status and envelope.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// ReasonKey is the details key holding a machine-readable rejection reason,
// e.g. "device_already_registered".
const ReasonKey = "reason"

// Metadata describes how a Code is rendered. PublicMessage replaces the
// error's own message for server faults.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// ClientFault is true for 4xx codes, which keep their own message and log
// at warn.
func (m Metadata) ClientFault() bool {
	return m.HTTPStatus >= 400 && m.HTTPStatus < 500
}

var registry = map[Code]Metadata{
	CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeUnauthorized:  {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeForbidden:     {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeConflict:      {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", DetailsAllowed: true},
	CodeStateConflict: {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true},
	CodeIdempotency:   {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
	CodeRateLimit:     {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded"},
	CodeInternal:      {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:    {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	meta, ok := registry[code]
	if !ok {
		return registry[CodeInternal]
	}
	return meta
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Rejected is a CONFLICT tagged with reason.
func Rejected(reason, message string) *Error {
	return New(CodeConflict, message).WithReason(reason)
}

// Code is CodeInternal on a nil receiver so As(err).Code() is always usable.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string { return e.message }

func (e *Error) Details() any { return e.details }

func (e *Error) WithDetails(details any) *Error {
	e.details = details
	return e
}

// WithReason sets the reason, keeping any other string details.
func (e *Error) WithReason(reason string) *Error {
	merged := map[string]string{}
	if existing, ok := e.details.(map[string]string); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	merged[ReasonKey] = reason
	e.details = merged
	return e
}

// Reason is "" when no reason was attached or e is nil. Details decoded
// from JSON arrive as map[string]any and are read too.
func (e *Error) Reason() string {
	if e == nil {
		return ""
	}
	switch d := e.details.(type) {
	case map[string]string:
		return d[ReasonKey]
	case map[string]any:
		s, _ := d[ReasonKey].(string)
		return s
	}
	return ""
}

func (e *Error) Error() string {
	msg := string(e.code) + ": " + e.message
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// As returns the first *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

func ReasonOf(err error) string {
	return As(err).Reason()
}
