package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/export"
	"github.com/safestrip/safestrip/internal/middleware"
)

// handleListAlerts handles GET /api/alerts?status=&outlet_id=&rule_id=&workspace_id=
func (h *APIHandler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.AlertFilter{
		Status:      database.AlertStatus(strings.ToUpper(q.Get("status"))),
		OutletID:    q.Get("outlet_id"),
		RuleID:      q.Get("rule_id"),
		WorkspaceID: q.Get("workspace_id"),
	}

	params := api.ParsePagination(r)
	alerts, total, err := h.registry.ListAlerts(r.Context(), f, params.DBPage())
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.Paginate(params, total, alerts))
}

// ========== Safety checks ==========

// handleRunSafetyCheck handles POST /api/workspaces/{id}/safety-checks
func (h *APIHandler) handleRunSafetyCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.safety.RunCheck(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, api.SafetyCheckToResponse(report))
}

// handleListSafetyChecks handles GET /api/workspaces/{id}/safety-checks
func (h *APIHandler) handleListSafetyChecks(w http.ResponseWriter, r *http.Request) {
	params := api.ParsePagination(r)
	checks, total, err := h.safety.ListChecks(r.Context(), mux.Vars(r)["id"], params.DBPage())
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.Paginate(params, total, checks))
}

// handleGetSafetyCheck handles GET /api/safety-checks/{id}
func (h *APIHandler) handleGetSafetyCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.safety.GetCheck(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SafetyCheckToResponse(report))
}

// handleExportSafetyCheck handles GET /api/safety-checks/{id}/export
func (h *APIHandler) handleExportSafetyCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.safety.GetCheck(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	data, err := export.SafetyCheckXLSX(report.Check, report.Items)
	if err != nil {
		api.RespondAppError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(report.Check)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		middleware.Logger(r.Context()).Warn("Failed to write export", zap.Error(err))
	}
}
