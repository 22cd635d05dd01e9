package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/middleware"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPHandler serves health and device log endpoints
type HTTPHandler struct {
	db Pinger
}

// NewHTTPHandler creates a new HTTP handler. db may be nil.
func NewHTTPHandler(db Pinger) *HTTPHandler {
	return &HTTPHandler{db: db}
}

// SetupRoutes configures all HTTP routes
func (h *HTTPHandler) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth)
	r.HandleFunc("/sensor-data/log", h.handleSensorDataLog).Methods(http.MethodPost)
}

// handleHealth reports ok, or 503 when the database does not answer
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := api.HealthResponse{Status: "ok", Time: time.Now().UTC()}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			middleware.Logger(r.Context()).Warn("Health check failed", zap.Error(err))
			resp.Status = "degraded"
			api.RespondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

// handleSensorDataLog accepts any JSON body and only logs it
func (h *HTTPHandler) handleSensorDataLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, api.MaxBodySize))
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		api.RespondError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	middleware.Logger(r.Context()).Info("Data received", zap.Any("data", data))
	api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Data logged"})
}
