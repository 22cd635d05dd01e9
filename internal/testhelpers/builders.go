package testhelpers

import (
	"time"

	"github.com/safestrip/safestrip/internal/database"
)

// ========================================
// Alert Rule Builder
// ========================================

// RuleBuilder builds AlertRule instances for testing
type RuleBuilder struct {
	rule database.AlertRule
}

// NewRuleBuilder returns an enabled "current > 10" warning rule that fires immediately.
func NewRuleBuilder() *RuleBuilder {
	return &RuleBuilder{
		rule: database.AlertRule{
			Name:           "overcurrent",
			SensorType:     database.SensorTypeCurrent,
			Comparator:     database.ComparatorGT,
			ThresholdValue: 10,
			Severity:       database.SeverityWarning,
			Enabled:        true,
		},
	}
}

// WithName sets the rule name
func (b *RuleBuilder) WithName(name string) *RuleBuilder {
	b.rule.Name = name
	return b
}

// ForSensor binds the rule to one sensor
func (b *RuleBuilder) ForSensor(s database.Sensor) *RuleBuilder {
	b.rule.SensorID = &s.ID
	b.rule.SensorType = s.SensorType
	return b
}

// WithSensorType sets the sensor type
func (b *RuleBuilder) WithSensorType(st database.SensorType) *RuleBuilder {
	b.rule.SensorType = st
	return b
}

// ForDevice narrows a type-wide rule to one device
func (b *RuleBuilder) ForDevice(deviceID string) *RuleBuilder {
	b.rule.DeviceID = &deviceID
	return b
}

// ForWorkspace narrows a type-wide rule to one workspace
func (b *RuleBuilder) ForWorkspace(workspaceID string) *RuleBuilder {
	b.rule.WorkspaceID = &workspaceID
	return b
}

// When sets comparator and threshold
func (b *RuleBuilder) When(c database.Comparator, threshold float64) *RuleBuilder {
	b.rule.Comparator = c
	b.rule.ThresholdValue = threshold
	return b
}

// For sets the sustained-breach window
func (b *RuleBuilder) For(d time.Duration) *RuleBuilder {
	secs := int(d / time.Second)
	b.rule.DurationSeconds = &secs
	return b
}

// WithSeverity sets the severity
func (b *RuleBuilder) WithSeverity(s database.Severity) *RuleBuilder {
	b.rule.Severity = s
	return b
}

// Disabled turns the rule off
func (b *RuleBuilder) Disabled() *RuleBuilder {
	b.rule.Enabled = false
	return b
}

// Build returns the constructed rule
func (b *RuleBuilder) Build() database.AlertRule {
	return b.rule
}

// ========================================
// Reading Builder
// ========================================

// ReadingBuilder builds SensorReading instances for testing
type ReadingBuilder struct {
	reading database.SensorReading
}

// NewReadingBuilder returns a current reading of value for device at a fixed time.
func NewReadingBuilder(deviceID string, value float64) *ReadingBuilder {
	at := BaseTime()
	return &ReadingBuilder{
		reading: database.SensorReading{
			DeviceID:   deviceID,
			SensorType: database.SensorTypeCurrent,
			Value:      value,
			Unit:       "A",
			CreatedAt:  at,
			ReceivedAt: at,
		},
	}
}

// At sets the effective time
func (b *ReadingBuilder) At(t time.Time) *ReadingBuilder {
	b.reading.CreatedAt = t.UTC()
	return b
}

// WithSensorType sets the sensor type
func (b *ReadingBuilder) WithSensorType(st database.SensorType) *ReadingBuilder {
	b.reading.SensorType = st
	return b
}

// ForSensor pins the reading to one sensor
func (b *ReadingBuilder) ForSensor(s database.Sensor) *ReadingBuilder {
	b.reading.SensorID = &s.ID
	b.reading.SensorType = s.SensorType
	return b
}

// Build returns the constructed reading
func (b *ReadingBuilder) Build() database.SensorReading {
	return b.reading
}
