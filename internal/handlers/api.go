package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/services"
)

// APIHandler serves ingestion, registry, alert and safety-check endpoints
type APIHandler struct {
	registry *services.RegistryService
	pipeline *services.Pipeline
	safety   *services.SafetyCheckService
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(registry *services.RegistryService, pipeline *services.Pipeline, safety *services.SafetyCheckService) *APIHandler {
	return &APIHandler{
		registry: registry,
		pipeline: pipeline,
		safety:   safety,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(r *mux.Router) {
	// Readings
	r.HandleFunc("/sensor-readings", h.handleCreateReading).Methods(http.MethodPost)
	r.HandleFunc("/sensor-readings", h.handleListReadings).Methods(http.MethodGet)
	r.HandleFunc("/sensor-readings/latest", h.handleLatestReading).Methods(http.MethodGet)
	r.HandleFunc("/sensor-readings/{id}/evaluate", h.handleEvaluateReading).Methods(http.MethodPost)

	a := r.PathPrefix("/api").Subrouter()

	// Workspaces
	a.HandleFunc("/workspaces", h.handleListWorkspaces).Methods(http.MethodGet)
	a.HandleFunc("/workspaces", h.handleCreateWorkspace).Methods(http.MethodPost)
	a.HandleFunc("/workspaces/{id}", h.handleGetWorkspace).Methods(http.MethodGet)
	a.HandleFunc("/workspaces/{id}/devices", h.handleListWorkspaceDevices).Methods(http.MethodGet)

	// Devices, outlets and sensors
	a.HandleFunc("/devices", h.handleListDevices).Methods(http.MethodGet)
	a.HandleFunc("/devices", h.handleCreateDevice).Methods(http.MethodPost)
	a.HandleFunc("/devices/{id}", h.handleGetDevice).Methods(http.MethodGet)
	a.HandleFunc("/devices/{id}", h.handleDeleteDevice).Methods(http.MethodDelete)
	a.HandleFunc("/devices/{id}/outlets", h.handleListOutlets).Methods(http.MethodGet)
	a.HandleFunc("/devices/{id}/outlets", h.handleCreateOutlet).Methods(http.MethodPost)
	a.HandleFunc("/devices/{id}/sensors", h.handleListSensors).Methods(http.MethodGet)
	a.HandleFunc("/outlets/{id}", h.handleUpdateOutlet).Methods(http.MethodPatch)
	a.HandleFunc("/outlets/{id}/sensors", h.handleCreateSensor).Methods(http.MethodPost)

	// Alert rules
	a.HandleFunc("/alert-rules", h.handleListRules).Methods(http.MethodGet)
	a.HandleFunc("/alert-rules", h.handleCreateRule).Methods(http.MethodPost)
	a.HandleFunc("/alert-rules/{id}", h.handleGetRule).Methods(http.MethodGet)
	a.HandleFunc("/alert-rules/{id}", h.handleUpdateRule).Methods(http.MethodPatch)
	a.HandleFunc("/alert-rules/{id}", h.handleDeleteRule).Methods(http.MethodDelete)

	// Alerts
	a.HandleFunc("/alerts", h.handleListAlerts).Methods(http.MethodGet)

	// Safety checks
	a.HandleFunc("/workspaces/{id}/safety-checks", h.handleRunSafetyCheck).Methods(http.MethodPost)
	a.HandleFunc("/workspaces/{id}/safety-checks", h.handleListSafetyChecks).Methods(http.MethodGet)
	a.HandleFunc("/safety-checks/{id}", h.handleGetSafetyCheck).Methods(http.MethodGet)
	a.HandleFunc("/safety-checks/{id}/export", h.handleExportSafetyCheck).Methods(http.MethodGet)
}

// decodeRequest decodes and validates a JSON body. It writes the error
// response and returns false when the body is unusable.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := api.DecodeJSON(r, dst); err != nil {
		api.RespondAppError(w, err)
		return false
	}
	if errs := api.Validate(dst); errs != nil {
		api.RespondValidationError(w, errs)
		return false
	}
	return true
}

// boolOr dereferences b, falling back to def when it is nil.
func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
