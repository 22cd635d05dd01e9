package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/database"
)

// Field bounds of the registry entities.
const (
	MaxWorkspaceNameLength = 120
	MaxDeviceNameLength    = 160
	MaxDeviceLabelLength   = 160
	MaxRuleNameLength      = 120
)

// RegistryService manages workspaces, devices, outlets, sensors and alert rules.
type RegistryService struct {
	store        *database.Store
	onRuleChange func()
	lifecycle    *LifecycleManager
	breaches     BreachTracker
	now          func() time.Time
	log          *zap.Logger
}

// NewRegistryService creates a new RegistryService
func NewRegistryService(store *database.Store, log *zap.Logger) *RegistryService {
	return &RegistryService{
		store: store,
		now:   time.Now,
		log:   log.Named("registry"),
	}
}

// WithRuleState lets rule writes reset evaluation state: OPEN alerts of a
// disabled, deleted or redefined rule are resolved and its breach timers dropped.
func (s *RegistryService) WithRuleState(lifecycle *LifecycleManager, breaches BreachTracker) *RegistryService {
	s.lifecycle = lifecycle
	s.breaches = breaches
	return s
}

// OnRuleChange registers a callback run after every rule write, used to
// invalidate the rule cache.
func (s *RegistryService) OnRuleChange(fn func()) *RegistryService {
	s.onRuleChange = fn
	return s
}

func (s *RegistryService) rulesChanged() {
	if s.onRuleChange != nil {
		s.onRuleChange()
	}
}

func notFound(kind, id string) error {
	return apperrors.NotFound(apperrors.CodeNotFound, fmt.Sprintf("%s %q not found", kind, id))
}

// parseID rejects malformed identifiers as NotFound without a query.
func parseID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFound(kind, id)
	}
	return nil
}

// lookup runs get and rewrites a store NotFound into one naming the entity.
func lookup[T any](kind, id string, get func() (*T, error)) (*T, error) {
	if err := parseID(kind, id); err != nil {
		return nil, err
	}
	v, err := get()
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, notFound(kind, id)
		}
		return nil, err
	}
	return v, nil
}

func checkText(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min {
		return apperrors.Validation("invalid_"+field, field, fmt.Sprintf("%s is required", field))
	}
	if n > max {
		return apperrors.Validation("invalid_"+field, field, fmt.Sprintf("%s must be at most %d characters", field, max))
	}
	return nil
}

// ========== Workspaces ==========

// CreateWorkspace creates a workspace. createdBy may be empty.
func (s *RegistryService) CreateWorkspace(ctx context.Context, name, createdBy string) (*database.Workspace, error) {
	name = strings.TrimSpace(name)
	if err := checkText("name", name, 1, MaxWorkspaceNameLength); err != nil {
		return nil, err
	}
	w := &database.Workspace{Name: name}
	if createdBy != "" {
		if _, err := uuid.Parse(createdBy); err != nil {
			return nil, apperrors.Validation("invalid_created_by", "created_by", "created_by must be a UUID")
		}
		w.CreatedBy = &createdBy
	}
	if err := s.store.CreateWorkspace(ctx, w); err != nil {
		return nil, err
	}
	s.log.Info("Workspace created", zap.String("workspace_id", w.ID))
	return w, nil
}

// GetWorkspace retrieves a workspace by ID
func (s *RegistryService) GetWorkspace(ctx context.Context, id string) (*database.Workspace, error) {
	return lookup("workspace", id, func() (*database.Workspace, error) { return s.store.GetWorkspace(ctx, id) })
}

// ListWorkspaces returns workspaces, optionally filtered by creator
func (s *RegistryService) ListWorkspaces(ctx context.Context, createdBy string) ([]database.Workspace, error) {
	return s.store.ListWorkspaces(ctx, createdBy)
}

// ========== Devices ==========

// DeviceInput carries the writable fields of a device.
type DeviceInput struct {
	WorkspaceID  string
	DeviceName   string
	DeviceLabel  string
	SerialNumber string
}

// CreateDevice registers a device in an existing workspace
func (s *RegistryService) CreateDevice(ctx context.Context, in DeviceInput) (*database.Device, error) {
	name := strings.TrimSpace(in.DeviceName)
	if err := checkText("device_name", name, 1, MaxDeviceNameLength); err != nil {
		return nil, err
	}
	if err := checkText("device_label", in.DeviceLabel, 0, MaxDeviceLabelLength); err != nil {
		return nil, err
	}
	if _, err := s.GetWorkspace(ctx, in.WorkspaceID); err != nil {
		return nil, err
	}

	d := &database.Device{
		WorkspaceID: in.WorkspaceID,
		DeviceName:  name,
		DeviceLabel: in.DeviceLabel,
	}
	if serial := strings.TrimSpace(in.SerialNumber); serial != "" {
		d.SerialNumber = &serial
	}
	if err := s.store.CreateDevice(ctx, d); err != nil {
		return nil, err
	}
	s.log.Info("Device created", zap.String("device_id", d.ID), zap.String("workspace_id", d.WorkspaceID))
	return d, nil
}

// GetDevice retrieves a non-deleted device by ID
func (s *RegistryService) GetDevice(ctx context.Context, id string) (*database.Device, error) {
	return lookup("device", id, func() (*database.Device, error) { return s.store.GetDevice(ctx, id) })
}

// ListDevices returns devices, optionally for one workspace
func (s *RegistryService) ListDevices(ctx context.Context, workspaceID string) ([]database.Device, error) {
	if workspaceID != "" {
		if _, err := s.GetWorkspace(ctx, workspaceID); err != nil {
			return nil, err
		}
	}
	return s.store.ListDevices(ctx, workspaceID)
}

// DeleteDevice soft-deletes a device
func (s *RegistryService) DeleteDevice(ctx context.Context, id string) error {
	if err := parseID("device", id); err != nil {
		return err
	}
	deleted, err := s.store.DeleteDevice(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("device", id)
	}
	s.log.Info("Device deleted", zap.String("device_id", id))
	return nil
}

// ========== Outlets ==========

// CreateOutlet adds an outlet to a device. A duplicate index is a Conflict.
func (s *RegistryService) CreateOutlet(ctx context.Context, deviceID string, index int, label string, enabled bool) (*database.Outlet, error) {
	if index < 0 {
		return nil, apperrors.Validation("invalid_outlet_index", "outlet_index", "outlet_index must not be negative")
	}
	if err := checkText("label", label, 0, 120); err != nil {
		return nil, err
	}
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	o := &database.Outlet{DeviceID: deviceID, OutletIndex: index, Label: label, Enabled: enabled}
	if err := s.store.CreateOutlet(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOutlets returns a device's outlets ordered by index
func (s *RegistryService) ListOutlets(ctx context.Context, deviceID string) ([]database.Outlet, error) {
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.ListOutlets(ctx, deviceID)
}

// SetOutletEnabled turns alerting for an outlet on or off. Open alerts are
// left alone; a disabled outlet can still clear.
func (s *RegistryService) SetOutletEnabled(ctx context.Context, id string, enabled bool) (*database.Outlet, error) {
	if err := parseID("outlet", id); err != nil {
		return nil, err
	}
	o, err := s.store.SetOutletEnabled(ctx, id, enabled)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, notFound("outlet", id)
		}
		return nil, err
	}
	s.log.Info("Outlet updated", zap.String("outlet_id", id), zap.Bool("enabled", enabled))
	return o, nil
}

// ========== Sensors ==========

// CreateSensor attaches a sensor to an outlet
func (s *RegistryService) CreateSensor(ctx context.Context, outletID, sensorType string, active bool) (*database.Sensor, error) {
	st, ok := database.ParseSensorType(sensorType)
	if !ok {
		return nil, apperrors.Validation(apperrors.CodeInvalidSensorType, "sensor_type",
			fmt.Sprintf("unsupported sensor_type %q", sensorType))
	}
	outlet, err := lookup("outlet", outletID, func() (*database.Outlet, error) { return s.store.GetOutlet(ctx, outletID) })
	if err != nil {
		return nil, err
	}
	if _, err := s.GetDevice(ctx, outlet.DeviceID); err != nil {
		return nil, err
	}

	sensor := &database.Sensor{
		DeviceID:   outlet.DeviceID,
		OutletID:   outlet.ID,
		SensorType: st,
		IsActive:   active,
	}
	if err := s.store.CreateSensor(ctx, sensor); err != nil {
		return nil, err
	}
	return sensor, nil
}

// ListSensors returns a device's sensors
func (s *RegistryService) ListSensors(ctx context.Context, deviceID string) ([]database.Sensor, error) {
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.ListSensors(ctx, deviceID)
}

// ========== Alert rules ==========

// RuleInput carries the fields of a new rule. Optional scopes are empty strings.
type RuleInput struct {
	Name            string
	SensorID        string
	SensorType      string
	WorkspaceID     string
	DeviceID        string
	Comparator      string
	ThresholdValue  float64
	DurationSeconds *int
	Severity        string
	Enabled         bool
}

// RulePatch carries the updatable fields of a rule; nil fields are kept.
type RulePatch struct {
	Name            *string
	Comparator      *string
	ThresholdValue  *float64
	DurationSeconds *int
	Severity        *string
	Enabled         *bool
}

func parseComparator(s string) (database.Comparator, error) {
	c, ok := database.ParseComparator(s)
	if !ok {
		return "", apperrors.Validation(apperrors.CodeInvalidComparator, "comparator",
			fmt.Sprintf("comparator must be one of gt, gte, lt, lte, eq; got %q", s))
	}
	return c, nil
}

func parseSeverity(s string) (database.Severity, error) {
	sev, ok := database.ParseSeverity(s)
	if !ok {
		return "", apperrors.Validation(apperrors.CodeInvalidSeverity, "severity",
			fmt.Sprintf("severity must be one of info, warning, critical; got %q", s))
	}
	return sev, nil
}

func checkDuration(d *int) error {
	if d != nil && *d < 0 {
		return apperrors.Validation("invalid_duration", "duration_seconds", "duration_seconds must not be negative")
	}
	return nil
}

// CreateRule validates and stores a rule. A sensor-bound rule takes its
// sensor_type from the sensor when none is given.
func (s *RegistryService) CreateRule(ctx context.Context, in RuleInput) (*database.AlertRule, error) {
	name := strings.TrimSpace(in.Name)
	if err := checkText("name", name, 1, MaxRuleNameLength); err != nil {
		return nil, err
	}
	comparator, err := parseComparator(in.Comparator)
	if err != nil {
		return nil, err
	}
	severity, err := parseSeverity(in.Severity)
	if err != nil {
		return nil, err
	}
	if err := checkDuration(in.DurationSeconds); err != nil {
		return nil, err
	}

	rule := &database.AlertRule{
		Name:            name,
		Comparator:      comparator,
		ThresholdValue:  in.ThresholdValue,
		DurationSeconds: in.DurationSeconds,
		Severity:        severity,
		Enabled:         in.Enabled,
	}

	if in.SensorType != "" {
		st, ok := database.ParseSensorType(in.SensorType)
		if !ok {
			return nil, apperrors.Validation(apperrors.CodeInvalidSensorType, "sensor_type",
				fmt.Sprintf("unsupported sensor_type %q", in.SensorType))
		}
		rule.SensorType = st
	}

	if in.SensorID != "" {
		sensor, err := lookup("sensor", in.SensorID, func() (*database.Sensor, error) { return s.store.GetSensor(ctx, in.SensorID) })
		if err != nil {
			return nil, err
		}
		if rule.SensorType == "" {
			rule.SensorType = sensor.SensorType
		} else if rule.SensorType != sensor.SensorType {
			return nil, apperrors.Validation(apperrors.CodeInvalidSensorType, "sensor_type",
				fmt.Sprintf("sensor %s is a %s sensor", sensor.ID, sensor.SensorType))
		}
		rule.SensorID = &sensor.ID
	}
	if rule.SensorType == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidSensorType, "sensor_type", "sensor_type or sensor_id is required")
	}

	if in.WorkspaceID != "" {
		if _, err := s.GetWorkspace(ctx, in.WorkspaceID); err != nil {
			return nil, err
		}
		rule.WorkspaceID = &in.WorkspaceID
	}
	if in.DeviceID != "" {
		if _, err := s.GetDevice(ctx, in.DeviceID); err != nil {
			return nil, err
		}
		rule.DeviceID = &in.DeviceID
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.rulesChanged()
	s.log.Info("Alert rule created", zap.String("rule_id", rule.ID), zap.String("sensor_type", string(rule.SensorType)))
	return rule, nil
}

// GetRule retrieves a rule by ID
func (s *RegistryService) GetRule(ctx context.Context, id string) (*database.AlertRule, error) {
	return lookup("alert rule", id, func() (*database.AlertRule, error) { return s.store.GetRule(ctx, id) })
}

// ListRules returns rules, optionally narrowed by sensor type
func (s *RegistryService) ListRules(ctx context.Context, sensorType string, enabledOnly bool) ([]database.AlertRule, error) {
	f := database.RuleFilter{EnabledOnly: enabledOnly}
	if sensorType != "" {
		st, ok := database.ParseSensorType(sensorType)
		if !ok {
			return nil, apperrors.Validation(apperrors.CodeInvalidSensorType, "sensor_type",
				fmt.Sprintf("unsupported sensor_type %q", sensorType))
		}
		f.SensorType = st
	}
	return s.store.ListRules(ctx, f)
}

// UpdateRule applies a patch. A rule's target (sensor, type, scope) is fixed
// at creation so existing breach timers stay meaningful.
func (s *RegistryService) UpdateRule(ctx context.Context, id string, p RulePatch) (*database.AlertRule, error) {
	prev, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if err := checkText("name", name, 1, MaxRuleNameLength); err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if p.Comparator != nil {
		c, err := parseComparator(*p.Comparator)
		if err != nil {
			return nil, err
		}
		updates["comparator"] = c
	}
	if p.ThresholdValue != nil {
		updates["threshold_value"] = *p.ThresholdValue
	}
	if p.DurationSeconds != nil {
		if err := checkDuration(p.DurationSeconds); err != nil {
			return nil, err
		}
		updates["duration_seconds"] = *p.DurationSeconds
	}
	if p.Severity != nil {
		sev, err := parseSeverity(*p.Severity)
		if err != nil {
			return nil, err
		}
		updates["severity"] = sev
	}
	if p.Enabled != nil {
		updates["enabled"] = *p.Enabled
	}

	rule, err := s.store.UpdateRule(ctx, id, updates)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, notFound("alert rule", id)
		}
		return nil, err
	}
	s.rulesChanged()

	// A disabled rule is retired on every update so a retried PATCH finishes
	// a retirement that failed half way.
	retire := !rule.Enabled ||
		prev.Comparator != rule.Comparator ||
		prev.ThresholdValue != rule.ThresholdValue
	reset := retire || prev.Enabled != rule.Enabled || prev.Duration() != rule.Duration()
	if err := s.resetRuleState(ctx, rule.ID, retire, reset); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule. The rule is disabled and retired first, so a
// concurrent reading cannot open an alert that nothing could resolve.
func (s *RegistryService) DeleteRule(ctx context.Context, id string) error {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if rule.Enabled {
		if _, err := s.store.UpdateRule(ctx, id, map[string]interface{}{"enabled": false}); err != nil {
			return err
		}
		s.rulesChanged()
	}
	if err := s.resetRuleState(ctx, id, true, true); err != nil {
		return err
	}

	deleted, err := s.store.DeleteRule(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("alert rule", id)
	}
	s.rulesChanged()
	s.log.Info("Alert rule deleted", zap.String("rule_id", id))
	return nil
}

// resetRuleState resolves the rule's OPEN alerts when retire is set and
// drops its breach timers when reset is set.
func (s *RegistryService) resetRuleState(ctx context.Context, ruleID string, retire, reset bool) error {
	if retire && s.lifecycle != nil {
		if _, err := s.lifecycle.RetireRule(ctx, ruleID, s.now().UTC()); err != nil {
			return err
		}
	}
	if reset && s.breaches != nil {
		if err := s.breaches.ResetRule(ctx, ruleID); err != nil {
			return err
		}
	}
	return nil
}

// ========== Readings and alerts ==========

// LatestReading returns the newest reading of a type for a device, or nil.
func (s *RegistryService) LatestReading(ctx context.Context, deviceID, sensorType string) (*database.SensorReading, error) {
	st, ok := database.ParseSensorType(sensorType)
	if !ok {
		return nil, apperrors.Validation(apperrors.CodeInvalidSensorType, "sensor_type",
			fmt.Sprintf("unsupported sensor_type %q", sensorType))
	}
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.store.LatestReading(ctx, deviceID, st)
}

// ListReadings pages through readings matching f
func (s *RegistryService) ListReadings(ctx context.Context, f database.ReadingFilter, page database.Page) ([]database.SensorReading, int64, error) {
	if f.DeviceID != "" {
		if err := parseID("device", f.DeviceID); err != nil {
			return nil, 0, err
		}
	}
	return s.store.ListReadings(ctx, f, page)
}

// ListAlerts pages through alerts matching f
func (s *RegistryService) ListAlerts(ctx context.Context, f database.AlertFilter, page database.Page) ([]database.Alert, int64, error) {
	if f.Status != "" && f.Status != database.AlertStatusOpen && f.Status != database.AlertStatusResolved {
		return nil, 0, apperrors.Validation("invalid_status", "status", "status must be OPEN or RESOLVED")
	}
	return s.store.ListAlerts(ctx, f, page)
}
