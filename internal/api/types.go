package api

import (
	"time"

	"github.com/safestrip/safestrip/internal/database"
)

// ========== Ingestion Types ==========

// SensorReadingRequest is the inbound reading body shared by the HTTP and
// MQTT surfaces. Timestamp is RFC 3339; server time is used when it is empty.
type SensorReadingRequest struct {
	DeviceID    string                 `json:"device_id" validate:"required"`
	SensorType  string                 `json:"sensor_type" validate:"required"`
	Value       *float64               `json:"value" validate:"required"`
	Unit        string                 `json:"unit,omitempty"`
	Timestamp   string                 `json:"timestamp,omitempty"`
	SensorID    string                 `json:"sensor_id,omitempty"`
	OutletIndex *int                   `json:"outlet_index,omitempty" validate:"omitempty,gte=0"`
	Raw         map[string]interface{} `json:"raw,omitempty"`
}

// IngestResponse acknowledges a stored reading. EvaluationError is set when
// the reading was stored but evaluating it failed.
type IngestResponse struct {
	Reading         database.SensorReading `json:"reading"`
	Queued          bool                   `json:"queued"`
	Decisions       int                    `json:"decisions"`
	Transitions     []TransitionResponse   `json:"transitions"`
	EvaluationError string                 `json:"evaluation_error,omitempty"`
}

// TransitionResponse describes one alert state change caused by a reading.
type TransitionResponse struct {
	AlertID  string `json:"alert_id"`
	OutletID string `json:"outlet_id"`
	RuleID   string `json:"rule_id"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
}

// EvaluateResponse is the result of replaying evaluation for a stored reading.
type EvaluateResponse struct {
	ReadingID   string               `json:"reading_id"`
	Decisions   int                  `json:"decisions"`
	Transitions []TransitionResponse `json:"transitions"`
}

// ========== Registry Types ==========

// CreateWorkspaceRequest is the body of POST /api/workspaces.
type CreateWorkspaceRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	CreatedBy string `json:"created_by,omitempty" validate:"omitempty,uuid"`
}

// CreateDeviceRequest is the body of POST /api/devices.
type CreateDeviceRequest struct {
	WorkspaceID  string `json:"workspace_id" validate:"required,uuid"`
	DeviceName   string `json:"device_name" validate:"required,max=160"`
	DeviceLabel  string `json:"device_label,omitempty" validate:"max=160"`
	SerialNumber string `json:"serial_number,omitempty" validate:"max=120"`
}

// CreateOutletRequest is the body of POST /api/devices/{id}/outlets.
type CreateOutletRequest struct {
	OutletIndex *int   `json:"outlet_index" validate:"required,gte=0"`
	Label       string `json:"label,omitempty" validate:"max=120"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// UpdateOutletRequest is the body of PATCH /api/outlets/{id}.
type UpdateOutletRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// CreateSensorRequest is the body of POST /api/outlets/{id}/sensors.
type CreateSensorRequest struct {
	SensorType string `json:"sensor_type" validate:"required"`
	IsActive   *bool  `json:"is_active,omitempty"`
}

// CreateRuleRequest is the body of POST /api/alert-rules.
type CreateRuleRequest struct {
	Name            string   `json:"name" validate:"required,max=120"`
	SensorID        string   `json:"sensor_id,omitempty" validate:"omitempty,uuid"`
	SensorType      string   `json:"sensor_type,omitempty"`
	WorkspaceID     string   `json:"workspace_id,omitempty" validate:"omitempty,uuid"`
	DeviceID        string   `json:"device_id,omitempty" validate:"omitempty,uuid"`
	Comparator      string   `json:"comparator" validate:"required"`
	ThresholdValue  *float64 `json:"threshold_value" validate:"required"`
	DurationSeconds *int     `json:"duration_seconds,omitempty" validate:"omitempty,gte=0"`
	Severity        string   `json:"severity" validate:"required"`
	Enabled         *bool    `json:"enabled,omitempty"`
}

// UpdateRuleRequest is the body of PATCH /api/alert-rules/{id}. Omitted
// fields are left unchanged.
type UpdateRuleRequest struct {
	Name            *string  `json:"name,omitempty" validate:"omitempty,max=120"`
	Comparator      *string  `json:"comparator,omitempty"`
	ThresholdValue  *float64 `json:"threshold_value,omitempty"`
	DurationSeconds *int     `json:"duration_seconds,omitempty" validate:"omitempty,gte=0"`
	Severity        *string  `json:"severity,omitempty"`
	Enabled         *bool    `json:"enabled,omitempty"`
}

// ========== Safety Check Types ==========

// SafetyCheckResponse is a check with its per-outlet items.
type SafetyCheckResponse struct {
	database.SafetyCheck
	Counts map[string]int             `json:"counts"`
	Items  []database.SafetyCheckItem `json:"items"`
}

// ========== Health ==========

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}
