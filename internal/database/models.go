package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// newID fills an empty primary key with a fresh UUID.
func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// SensorType is the closed set of sensors a strip can carry.
type SensorType string

const (
	SensorTypeCurrent  SensorType = "current"
	SensorTypeSmoke    SensorType = "smoke"
	SensorTypeWater    SensorType = "water"
	SensorTypeHumidity SensorType = "humidity"
	SensorTypeTemp     SensorType = "temp"
)

// ValidSensorTypes returns all recognized sensor types.
func ValidSensorTypes() []SensorType {
	return []SensorType{SensorTypeCurrent, SensorTypeSmoke, SensorTypeWater, SensorTypeHumidity, SensorTypeTemp}
}

// ParseSensorType returns the sensor type for s, or false when unrecognized.
func ParseSensorType(s string) (SensorType, bool) {
	switch SensorType(s) {
	case SensorTypeCurrent, SensorTypeSmoke, SensorTypeWater, SensorTypeHumidity, SensorTypeTemp:
		return SensorType(s), true
	}
	return "", false
}

// Comparator is the relation a rule checks between a reading and its threshold.
type Comparator string

const (
	ComparatorGT  Comparator = "gt"
	ComparatorGTE Comparator = "gte"
	ComparatorLT  Comparator = "lt"
	ComparatorLTE Comparator = "lte"
	ComparatorEQ  Comparator = "eq"
)

// ParseComparator returns the comparator for s, or false when unrecognized.
func ParseComparator(s string) (Comparator, bool) {
	switch Comparator(s) {
	case ComparatorGT, ComparatorGTE, ComparatorLT, ComparatorLTE, ComparatorEQ:
		return Comparator(s), true
	}
	return "", false
}

// Severity of an alert rule and the alerts it opens.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity returns the severity for s, or false when unrecognized.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "OPEN"
	AlertStatusResolved AlertStatus = "RESOLVED"
)

// DeviceStatus is the connectivity state maintained by the liveness monitor.
type DeviceStatus string

const (
	DeviceStatusUnknown DeviceStatus = "unknown"
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
)

// CheckStatus is the verdict of a safety check or one of its items.
type CheckStatus string

const (
	CheckStatusPass CheckStatus = "PASS"
	CheckStatusWarn CheckStatus = "WARN"
	CheckStatusFail CheckStatus = "FAIL"
)

// Rank orders statuses from best to worst.
func (s CheckStatus) Rank() int {
	switch s {
	case CheckStatusFail:
		return 2
	case CheckStatusWarn:
		return 1
	default:
		return 0
	}
}

// Workspace groups devices at one location
type Workspace struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"size:120;not null" json:"name"`
	CreatedBy *string   `gorm:"type:varchar(36);index" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	newID(&w.ID)
	return nil
}

// Device is a power strip registered to a workspace
type Device struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	WorkspaceID  string         `gorm:"type:varchar(36);not null;index" json:"workspace_id"`
	DeviceName   string         `gorm:"size:160;not null" json:"device_name"`
	DeviceLabel  string         `gorm:"size:160" json:"device_label"`
	SerialNumber *string        `gorm:"size:120;uniqueIndex" json:"serial_number"`
	Status       DeviceStatus   `gorm:"type:varchar(20);not null;default:'unknown'" json:"status"`
	LastSeenAt   *time.Time     `gorm:"index" json:"last_seen_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	newID(&d.ID)
	if d.Status == "" {
		d.Status = DeviceStatusUnknown
	}
	return nil
}

// Outlet is one socket on a device; Enabled gates alerting
type Outlet struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	DeviceID    string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_outlets_device_index,priority:1" json:"device_id"`
	OutletIndex int       `gorm:"not null;uniqueIndex:ux_outlets_device_index,priority:2" json:"outlet_index"`
	Label       string    `gorm:"size:120" json:"label"`
	Enabled     bool      `gorm:"not null" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (o *Outlet) BeforeCreate(tx *gorm.DB) error {
	newID(&o.ID)
	return nil
}

// Sensor is attached to an outlet and addressed by readings through (device_id, sensor_type)
type Sensor struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	DeviceID   string     `gorm:"type:varchar(36);not null;index:idx_sensors_device_type,priority:1" json:"device_id"`
	OutletID   string     `gorm:"type:varchar(36);not null;index" json:"outlet_id"`
	SensorType SensorType `gorm:"type:varchar(20);not null;index:idx_sensors_device_type,priority:2" json:"sensor_type"`
	IsActive   bool       `gorm:"not null" json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (s *Sensor) BeforeCreate(tx *gorm.DB) error {
	newID(&s.ID)
	return nil
}

// SensorReading is an immutable, append-only measurement.
// CreatedAt is the reading's effective time; ReceivedAt is when the server stored it.
type SensorReading struct {
	ID         string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	DeviceID   string     `gorm:"type:varchar(36);not null;index:idx_readings_device_type_time,priority:1" json:"device_id"`
	SensorID   *string    `gorm:"type:varchar(36);index" json:"sensor_id,omitempty"`
	SensorType SensorType `gorm:"type:varchar(20);not null;index:idx_readings_device_type_time,priority:2" json:"sensor_type"`
	Value      float64    `gorm:"not null" json:"value"`
	Unit       string     `gorm:"size:32" json:"unit,omitempty"`
	Raw        JSONB      `gorm:"type:jsonb" json:"raw,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;index:idx_readings_device_type_time,priority:3" json:"created_at"`
	ReceivedAt time.Time  `gorm:"not null" json:"received_at"`
}

func (r *SensorReading) BeforeCreate(tx *gorm.DB) error {
	newID(&r.ID)
	return nil
}

// AlertRule defines a threshold condition on a sensor or on every sensor of a type.
// WorkspaceID and DeviceID optionally narrow a type-wide rule.
type AlertRule struct {
	ID              string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name            string     `gorm:"size:120;not null" json:"name"`
	SensorID        *string    `gorm:"type:varchar(36);index" json:"sensor_id"`
	SensorType      SensorType `gorm:"type:varchar(20);not null;index" json:"sensor_type"`
	WorkspaceID     *string    `gorm:"type:varchar(36);index" json:"workspace_id"`
	DeviceID        *string    `gorm:"type:varchar(36);index" json:"device_id"`
	Comparator      Comparator `gorm:"type:varchar(8);not null" json:"comparator"`
	ThresholdValue  float64    `gorm:"not null" json:"threshold_value"`
	DurationSeconds *int       `json:"duration_seconds"`
	Severity        Severity   `gorm:"type:varchar(20);not null" json:"severity"`
	Enabled         bool       `gorm:"not null;index" json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (r *AlertRule) BeforeCreate(tx *gorm.DB) error {
	newID(&r.ID)
	return nil
}

// Duration returns the sustained-breach window, zero when the rule fires immediately.
func (r *AlertRule) Duration() time.Duration {
	if r.DurationSeconds == nil || *r.DurationSeconds <= 0 {
		return 0
	}
	return time.Duration(*r.DurationSeconds) * time.Second
}

// Alert is the lifecycle object keyed by (outlet_id, rule_id).
// At most one OPEN alert exists per pair, enforced by ux_alerts_open_pair.
type Alert struct {
	ID              string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	OutletID        string      `gorm:"type:varchar(36);not null;index:idx_alerts_pair,priority:1" json:"outlet_id"`
	RuleID          string      `gorm:"type:varchar(36);not null;index:idx_alerts_pair,priority:2" json:"rule_id"`
	SensorID        string      `gorm:"type:varchar(36)" json:"sensor_id"`
	ReadingID       string      `gorm:"type:varchar(36)" json:"reading_id"`
	Status          AlertStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Severity        Severity    `gorm:"type:varchar(20);not null" json:"severity"`
	Message         string      `gorm:"type:text" json:"message"`
	StartTS         time.Time   `gorm:"column:start_ts;not null" json:"start_ts"`
	EndTS           *time.Time  `gorm:"column:end_ts" json:"end_ts"`
	LastConfirmedAt *time.Time  `json:"last_confirmed_at"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	newID(&a.ID)
	return nil
}

// BreachState tracks the duration-gate timer for one (outlet_id, rule_id) pair.
// Version is bumped on every write and used for compare-and-swap updates.
type BreachState struct {
	ID              string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	OutletID        string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_breach_pair,priority:1" json:"outlet_id"`
	RuleID          string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_breach_pair,priority:2" json:"rule_id"`
	BreachStartedAt *time.Time `json:"breach_started_at"`
	LastObservedAt  time.Time  `gorm:"not null" json:"last_observed_at"`
	Version         int64      `gorm:"not null" json:"version"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (b *BreachState) BeforeCreate(tx *gorm.DB) error {
	newID(&b.ID)
	return nil
}

// SafetyCheck is a point-in-time verdict for a workspace; never mutated after creation
type SafetyCheck struct {
	ID               string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	WorkspaceID      string      `gorm:"type:varchar(36);not null;index" json:"workspace_id"`
	OverallStatus    CheckStatus `gorm:"type:varchar(10);not null" json:"overall_status"`
	StalenessSeconds int         `gorm:"not null" json:"staleness_seconds"`
	CheckedAt        time.Time   `gorm:"not null;index" json:"checked_at"`
	CreatedAt        time.Time   `json:"created_at"`
}

func (c *SafetyCheck) BeforeCreate(tx *gorm.DB) error {
	newID(&c.ID)
	return nil
}

// SafetyCheckItem is the verdict for one outlet within a check
type SafetyCheckItem struct {
	ID             string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	SafetyCheckID  string      `gorm:"type:varchar(36);not null;index" json:"safety_check_id"`
	DeviceID       string      `gorm:"type:varchar(36);not null" json:"device_id"`
	OutletID       string      `gorm:"type:varchar(36);not null" json:"outlet_id"`
	OutletIndex    int         `gorm:"not null" json:"outlet_index"`
	Status         CheckStatus `gorm:"type:varchar(10);not null" json:"status"`
	OpenAlertCount int64       `gorm:"not null" json:"open_alert_count"`
	Reason         string      `gorm:"size:255" json:"reason"`
}

func (i *SafetyCheckItem) BeforeCreate(tx *gorm.DB) error {
	newID(&i.ID)
	return nil
}

// TableName overrides for explicit table naming
func (Workspace) TableName() string {
	return "workspaces"
}

func (Device) TableName() string {
	return "devices"
}

func (Outlet) TableName() string {
	return "outlets"
}

func (Sensor) TableName() string {
	return "sensors"
}

func (SensorReading) TableName() string {
	return "sensor_readings"
}

func (AlertRule) TableName() string {
	return "alert_rules"
}

func (Alert) TableName() string {
	return "alerts"
}

func (BreachState) TableName() string {
	return "breach_states"
}

func (SafetyCheck) TableName() string {
	return "safety_checks"
}

func (SafetyCheckItem) TableName() string {
	return "safety_check_items"
}
