package database

import (
	"context"
)

// RuleScope identifies the sensor a reading is evaluated for, along with the
// device and workspace that own it.
type RuleScope struct {
	SensorID    string
	SensorType  SensorType
	DeviceID    string
	WorkspaceID string
}

// GetEnabledRulesForSensor returns enabled rules bound to the sensor itself,
// plus type-wide rules whose optional device/workspace scope matches.
func (s *Store) GetEnabledRulesForSensor(ctx context.Context, scope RuleScope) ([]AlertRule, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var rules []AlertRule
	err := db.Where("enabled = ?", true).
		Where(
			db.Where("sensor_id = ?", scope.SensorID).
				Or("sensor_id IS NULL AND sensor_type = ? AND (device_id IS NULL OR device_id = ?) AND (workspace_id IS NULL OR workspace_id = ?)",
					scope.SensorType, scope.DeviceID, scope.WorkspaceID),
		).
		Order("created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, classify("store.GetEnabledRulesForSensor", err)
	}
	return rules, nil
}

// CreateRule inserts an alert rule
func (s *Store) CreateRule(ctx context.Context, r *AlertRule) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return classify("store.CreateRule", db.Create(r).Error)
}

// GetRule returns an alert rule by ID
func (s *Store) GetRule(ctx context.Context, id string) (*AlertRule, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var r AlertRule
	if err := db.Where("id = ?", id).First(&r).Error; err != nil {
		return nil, classify("store.GetRule", err)
	}
	return &r, nil
}

// RuleFilter narrows ListRules.
type RuleFilter struct {
	SensorType  SensorType
	EnabledOnly bool
}

// ListRules returns alert rules ordered by name
func (s *Store) ListRules(ctx context.Context, f RuleFilter) ([]AlertRule, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	q := db.Order("name ASC")
	if f.SensorType != "" {
		q = q.Where("sensor_type = ?", f.SensorType)
	}
	if f.EnabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var out []AlertRule
	if err := q.Find(&out).Error; err != nil {
		return nil, classify("store.ListRules", err)
	}
	return out, nil
}

// UpdateRule applies column updates to a rule and returns the stored row
func (s *Store) UpdateRule(ctx context.Context, id string, updates map[string]interface{}) (*AlertRule, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var r AlertRule
	if err := db.Where("id = ?", id).First(&r).Error; err != nil {
		return nil, classify("store.UpdateRule", err)
	}
	if len(updates) > 0 {
		if err := db.Model(&r).Updates(updates).Error; err != nil {
			return nil, classify("store.UpdateRule", err)
		}
	}
	if err := db.Where("id = ?", id).First(&r).Error; err != nil {
		return nil, classify("store.UpdateRule", err)
	}
	return &r, nil
}

// DeleteRule removes a rule. Alerts it opened keep their rule_id.
func (s *Store) DeleteRule(ctx context.Context, id string) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Where("id = ?", id).Delete(&AlertRule{})
	if res.Error != nil {
		return false, classify("store.DeleteRule", res.Error)
	}
	return res.RowsAffected > 0, nil
}
