package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/services"
)

// handleListRules handles GET /api/alert-rules?sensor_type=&enabled=true
func (h *APIHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	enabledOnly, _ := strconv.ParseBool(r.URL.Query().Get("enabled"))
	rules, err := h.registry.ListRules(r.Context(), r.URL.Query().Get("sensor_type"), enabledOnly)
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, rules)
}

// handleCreateRule handles POST /api/alert-rules
func (h *APIHandler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRuleRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	rule, err := h.registry.CreateRule(r.Context(), services.RuleInput{
		Name:            req.Name,
		SensorID:        req.SensorID,
		SensorType:      req.SensorType,
		WorkspaceID:     req.WorkspaceID,
		DeviceID:        req.DeviceID,
		Comparator:      req.Comparator,
		ThresholdValue:  *req.ThresholdValue,
		DurationSeconds: req.DurationSeconds,
		Severity:        req.Severity,
		Enabled:         boolOr(req.Enabled, true),
	})
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, rule)
}

// handleGetRule handles GET /api/alert-rules/{id}
func (h *APIHandler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.registry.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, rule)
}

// handleUpdateRule handles PATCH /api/alert-rules/{id}
func (h *APIHandler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateRuleRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	rule, err := h.registry.UpdateRule(r.Context(), mux.Vars(r)["id"], services.RulePatch{
		Name:            req.Name,
		Comparator:      req.Comparator,
		ThresholdValue:  req.ThresholdValue,
		DurationSeconds: req.DurationSeconds,
		Severity:        req.Severity,
		Enabled:         req.Enabled,
	})
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, rule)
}

// handleDeleteRule handles DELETE /api/alert-rules/{id}
func (h *APIHandler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondNoContent(w)
}
