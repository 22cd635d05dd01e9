package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/middleware"
)

// handleCreateReading handles POST /sensor-readings. A stored reading is
// always answered with 201; evaluation failures are reported in the body.
func (h *APIHandler) handleCreateReading(w http.ResponseWriter, r *http.Request) {
	var req api.SensorReadingRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	raw, err := req.ToRaw()
	if err != nil {
		api.RespondAppError(w, err)
		return
	}

	outcome, err := h.pipeline.Submit(r.Context(), raw)
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	if outcome.EvaluationError != nil {
		middleware.Logger(r.Context()).Warn("Reading stored but evaluation failed",
			zap.String("reading_id", outcome.Stored.Reading.ID),
			zap.Error(outcome.EvaluationError))
	}

	status := http.StatusCreated
	if outcome.Queued {
		status = http.StatusAccepted
	}
	api.RespondJSON(w, status, api.IngestOutcomeToResponse(outcome))
}

// handleListReadings handles GET /sensor-readings
func (h *APIHandler) handleListReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.ReadingFilter{DeviceID: q.Get("device_id")}
	if v := q.Get("sensor_type"); v != "" {
		st, ok := database.ParseSensorType(v)
		if !ok {
			api.RespondAppError(w, apperrors.Validation(apperrors.CodeInvalidSensorType, "sensor_type", "unsupported sensor_type"))
			return
		}
		f.SensorType = st
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			api.RespondAppError(w, apperrors.Validation(apperrors.CodeInvalidTimestamp, "since", "since must be RFC 3339"))
			return
		}
		f.Since = &since
	}

	params := api.ParsePagination(r)
	readings, total, err := h.registry.ListReadings(r.Context(), f, params.DBPage())
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.Paginate(params, total, readings))
}

// handleLatestReading handles GET /sensor-readings/latest. It answers null
// when the device has no reading of that type yet.
func (h *APIHandler) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		api.RespondValidationError(w, map[string]string{"device_id": "is required"})
		return
	}
	sensorType := r.URL.Query().Get("sensor_type")
	if sensorType == "" {
		sensorType = string(database.SensorTypeWater)
	}

	reading, err := h.registry.LatestReading(r.Context(), deviceID, sensorType)
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, reading)
}

// handleEvaluateReading handles POST /sensor-readings/{id}/evaluate
func (h *APIHandler) handleEvaluateReading(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	outcome, err := h.pipeline.Replay(r.Context(), id)
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	if outcome.EvaluationError != nil {
		api.RespondAppError(w, outcome.EvaluationError)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.EvaluateResponse{
		ReadingID:   outcome.Stored.Reading.ID,
		Decisions:   outcome.Decisions,
		Transitions: api.TransitionsToResponse(outcome.Transitions),
	})
}
