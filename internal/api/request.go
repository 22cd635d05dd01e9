package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/safestrip/safestrip/internal/apperrors"
)

// MaxBodySize caps request bodies. A reading with its raw device payload is
// the largest body the API accepts.
const MaxBodySize = 64 << 10

// DecodeJSON decodes a single JSON object into dst, rejecting unknown fields.
// Failures are apperrors.MalformedRequest, naming the field when known.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apperrors.MalformedRequest("", "request body is empty")
	}

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return apperrors.MalformedRequest("", "request body must hold a single JSON object")
	}
	return nil
}

func decodeError(err error) error {
	var (
		syntaxErr   *json.SyntaxError
		typeErr     *json.UnmarshalTypeError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return apperrors.MalformedRequest("", "request body is empty")
	case errors.Is(err, io.ErrUnexpectedEOF):
		return apperrors.MalformedRequest("", "malformed JSON: body ends early")
	case errors.As(err, &syntaxErr):
		return apperrors.MalformedRequest("", fmt.Sprintf("malformed JSON at position %d", syntaxErr.Offset))
	case errors.As(err, &typeErr):
		return apperrors.MalformedRequest(typeErr.Field, fmt.Sprintf("%s must be %s", typeErr.Field, jsonKind(typeErr.Type)))
	case errors.As(err, &maxBytesErr):
		return apperrors.MalformedRequest("", fmt.Sprintf("request body exceeds %d bytes", MaxBodySize))
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return apperrors.MalformedRequest(field, fmt.Sprintf("unknown field %q", field))
	}
	return apperrors.MalformedRequest("", "invalid JSON in request body")
}

// jsonKind names the JSON type a Go type decodes from.
func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return "a boolean"
	case reflect.String:
		return "a string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	default:
		return "an object"
	}
}
