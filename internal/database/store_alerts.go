package database

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// GetOpenAlert returns the OPEN alert for a pair, or nil when there is none.
// When several OPEN rows exist the oldest is returned.
func (s *Store) GetOpenAlert(ctx context.Context, outletID, ruleID string) (*Alert, error) {
	open, err := s.ListOpenAlertsForPair(ctx, outletID, ruleID)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	return &open[0], nil
}

// ListOpenAlertsForPair returns every OPEN alert for a pair, oldest first
func (s *Store) ListOpenAlertsForPair(ctx context.Context, outletID, ruleID string) ([]Alert, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var out []Alert
	err := db.Where("outlet_id = ? AND rule_id = ? AND status = ?", outletID, ruleID, AlertStatusOpen).
		Order("start_ts ASC").
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, classify("store.ListOpenAlertsForPair", err)
	}
	return out, nil
}

// InsertOpenAlert inserts an OPEN alert unless one already exists for the
// pair. Returns false when the insert lost to an existing OPEN row.
func (s *Store) InsertOpenAlert(ctx context.Context, a *Alert) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	a.Status = AlertStatusOpen
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		return false, classify("store.InsertOpenAlert", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ResolveAlert moves an OPEN alert to RESOLVED. Returns false when the alert
// was not OPEN anymore.
func (s *Store) ResolveAlert(ctx context.Context, id string, endTS time.Time) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&Alert{}).
		Where("id = ? AND status = ?", id, AlertStatusOpen).
		Updates(map[string]interface{}{
			"status": AlertStatusResolved,
			"end_ts": endTS,
		})
	if res.Error != nil {
		return false, classify("store.ResolveAlert", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchAlertConfirmed advances last_confirmed_at of an OPEN alert, never backwards
func (s *Store) TouchAlertConfirmed(ctx context.Context, id string, at time.Time) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&Alert{}).
		Where("id = ? AND status = ? AND (last_confirmed_at IS NULL OR last_confirmed_at < ?)", id, AlertStatusOpen, at).
		Update("last_confirmed_at", at)
	if res.Error != nil {
		return false, classify("store.TouchAlertConfirmed", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetAlert returns an alert by ID
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var a Alert
	if err := db.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, classify("store.GetAlert", err)
	}
	return &a, nil
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Status      AlertStatus
	OutletID    string
	RuleID      string
	WorkspaceID string
}

// ListAlerts returns alerts, newest first, with the total matching count
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter, page Page) ([]Alert, int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	q := db.Model(&Alert{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.OutletID != "" {
		q = q.Where("outlet_id = ?", f.OutletID)
	}
	if f.RuleID != "" {
		q = q.Where("rule_id = ?", f.RuleID)
	}
	if f.WorkspaceID != "" {
		q = q.Where("outlet_id IN (?)",
			db.Table("outlets").
				Select("outlets.id").
				Joins("JOIN devices ON devices.id = outlets.device_id").
				Where("devices.workspace_id = ?", f.WorkspaceID))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify("store.ListAlerts", err)
	}
	var out []Alert
	if err := page.apply(q.Order("start_ts DESC")).Find(&out).Error; err != nil {
		return nil, 0, classify("store.ListAlerts", err)
	}
	return out, total, nil
}

// CountOpenAlertsByOutlet returns the OPEN alert count per outlet; outlets
// without open alerts are absent from the map.
func (s *Store) CountOpenAlertsByOutlet(ctx context.Context, outletIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64)
	if len(outletIDs) == 0 {
		return counts, nil
	}

	db, cancel := s.conn(ctx)
	defer cancel()

	var rows []struct {
		OutletID string
		Count    int64
	}
	err := db.Model(&Alert{}).
		Select("outlet_id, COUNT(*) AS count").
		Where("outlet_id IN ? AND status = ?", outletIDs, AlertStatusOpen).
		Group("outlet_id").
		Scan(&rows).Error
	if err != nil {
		return nil, classify("store.CountOpenAlertsByOutlet", err)
	}
	for _, r := range rows {
		counts[r.OutletID] = r.Count
	}
	return counts, nil
}

// ListOpenAlertsForRule returns every OPEN alert a rule holds, oldest first
func (s *Store) ListOpenAlertsForRule(ctx context.Context, ruleID string) ([]Alert, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var out []Alert
	err := db.Where("rule_id = ? AND status = ?", ruleID, AlertStatusOpen).
		Order("start_ts ASC").
		Find(&out).Error
	if err != nil {
		return nil, classify("store.ListOpenAlertsForRule", err)
	}
	return out, nil
}
