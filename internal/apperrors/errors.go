// Package apperrors defines the error taxonomy shared by the ingestion
// pipeline, the storage layer and the HTTP surface.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how callers must react to it.
type Kind string

const (
	KindMalformedRequest   Kind = "malformed_request"
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindInvariantViolation Kind = "invariant_violation"
	KindRateLimited        Kind = "rate_limited"
	KindInternal           Kind = "internal"
)

// Machine-readable codes surfaced in API error envelopes.
const (
	CodeMalformedRequest   = "malformed_request"
	CodeUnknownDevice      = "unknown_device"
	CodeUnknownSensor      = "unknown_sensor"
	CodeInvalidSensorType  = "invalid_sensor_type"
	CodeInvalidValue       = "invalid_value"
	CodeInvalidUnit        = "invalid_unit"
	CodeInvalidTimestamp   = "invalid_timestamp"
	CodeInvalidComparator  = "invalid_comparator"
	CodeInvalidSeverity    = "invalid_severity"
	CodeLocationNotFound   = "location_not_found"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeStorageUnavailable = "storage_unavailable"
	CodeInvariant          = "invariant_violation"
	CodeInternal           = "internal_error"
	CodeRateLimited        = "rate_limited"
)

// Error is the concrete error type carried through the service layer.
type Error struct {
	Kind    Kind
	Code    string
	Op      string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation with backoff.
func (e *Error) Retryable() bool {
	return e.Kind == KindStorageUnavailable
}

// MalformedRequest rejects a body that could not be decoded at all. Field
// names the offending JSON field when one is known.
func MalformedRequest(field, message string) *Error {
	return &Error{Kind: KindMalformedRequest, Code: CodeMalformedRequest, Field: field, Message: message}
}

// Validation builds a ValidationError for a single field.
func Validation(code, field, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: message}
}

// NotFound builds a NotFoundError.
func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// Conflict builds a ConflictError.
func Conflict(op, message string) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Op: op, Message: message}
}

// StorageUnavailable wraps a transient storage failure.
func StorageUnavailable(op string, err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Code: CodeStorageUnavailable, Op: op, Message: "storage unavailable", Err: err}
}

// RateLimited rejects a request that exceeded its per-key budget.
func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Code: CodeRateLimited, Message: message}
}

// Invariant builds an InternalInvariantViolation.
func Invariant(op, message string) *Error {
	return &Error{Kind: KindInvariantViolation, Code: CodeInvariant, Op: op, Message: message}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// CodeOf returns the machine-readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMalformedRequest:
		return http.StatusBadRequest
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
