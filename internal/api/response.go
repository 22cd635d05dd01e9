package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/apperrors"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			zap.L().Warn("Failed to encode JSON response", zap.Error(err))
		}
	}
}

// RespondError writes a standard error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// RespondErrorWithCode writes an error response with a machine-readable code.
func RespondErrorWithCode(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondValidationError writes field-level validation errors as a 422 response.
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:   "Validation failed",
		Code:    "validation_error",
		Details: fieldErrors,
	})
}

// RespondNoContent writes a 204 No Content response with no body.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// RespondAppError maps an error from the service layer onto the standard
// envelope. Internal failures are logged and answered without their cause.
func RespondAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperrors.KindInternal {
		zap.L().Error("Request failed", zap.Error(err))
		RespondErrorWithCode(w, status, apperrors.CodeInternal, "internal server error")
		return
	}

	resp := ErrorResponse{Error: appErr.Error(), Code: appErr.Code}
	if appErr.Message != "" {
		resp.Error = appErr.Message
	}
	if appErr.Field != "" {
		resp.Details = map[string]string{appErr.Field: resp.Error}
	}
	if appErr.Kind == apperrors.KindStorageUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	RespondJSON(w, status, resp)
}
