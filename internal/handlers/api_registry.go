package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/services"
)

// ========== Workspaces ==========

// handleListWorkspaces handles GET /api/workspaces
func (h *APIHandler) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := h.registry.ListWorkspaces(r.Context(), r.URL.Query().Get("created_by"))
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, workspaces)
}

// handleCreateWorkspace handles POST /api/workspaces
func (h *APIHandler) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req api.CreateWorkspaceRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ws, err := h.registry.CreateWorkspace(r.Context(), req.Name, req.CreatedBy)
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, ws)
}

// handleGetWorkspace handles GET /api/workspaces/{id}
func (h *APIHandler) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.registry.GetWorkspace(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, ws)
}

// ========== Devices ==========

// handleListDevices handles GET /api/devices?workspace_id=
func (h *APIHandler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.ListDevices(r.Context(), r.URL.Query().Get("workspace_id"))
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, devices)
}

// handleListWorkspaceDevices handles GET /api/workspaces/{id}/devices
func (h *APIHandler) handleListWorkspaceDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.ListDevices(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, devices)
}

// handleCreateDevice handles POST /api/devices
func (h *APIHandler) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req api.CreateDeviceRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	device, err := h.registry.CreateDevice(r.Context(), services.DeviceInput{
		WorkspaceID:  req.WorkspaceID,
		DeviceName:   req.DeviceName,
		DeviceLabel:  req.DeviceLabel,
		SerialNumber: req.SerialNumber,
	})
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, device)
}

// handleGetDevice handles GET /api/devices/{id}
func (h *APIHandler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := h.registry.GetDevice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, device)
}

// handleDeleteDevice handles DELETE /api/devices/{id}
func (h *APIHandler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteDevice(r.Context(), mux.Vars(r)["id"]); err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondNoContent(w)
}

// ========== Outlets and sensors ==========

// handleListOutlets handles GET /api/devices/{id}/outlets
func (h *APIHandler) handleListOutlets(w http.ResponseWriter, r *http.Request) {
	outlets, err := h.registry.ListOutlets(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, outlets)
}

// handleCreateOutlet handles POST /api/devices/{id}/outlets. Outlets are
// enabled unless the body says otherwise.
func (h *APIHandler) handleCreateOutlet(w http.ResponseWriter, r *http.Request) {
	var req api.CreateOutletRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	outlet, err := h.registry.CreateOutlet(r.Context(), mux.Vars(r)["id"], *req.OutletIndex, req.Label, boolOr(req.Enabled, true))
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, outlet)
}

// handleUpdateOutlet handles PATCH /api/outlets/{id}
func (h *APIHandler) handleUpdateOutlet(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateOutletRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	outlet, err := h.registry.SetOutletEnabled(r.Context(), mux.Vars(r)["id"], *req.Enabled)
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, outlet)
}

// handleListSensors handles GET /api/devices/{id}/sensors
func (h *APIHandler) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := h.registry.ListSensors(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, sensors)
}

// handleCreateSensor handles POST /api/outlets/{id}/sensors
func (h *APIHandler) handleCreateSensor(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSensorRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sensor, err := h.registry.CreateSensor(r.Context(), mux.Vars(r)["id"], req.SensorType, boolOr(req.IsActive, true))
	if err != nil {
		api.RespondAppError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusCreated, sensor)
}
