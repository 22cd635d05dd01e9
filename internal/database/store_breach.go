package database

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// GetBreachState returns the breach timer row for a pair, or nil when none exists
func (s *Store) GetBreachState(ctx context.Context, outletID, ruleID string) (*BreachState, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var rows []BreachState
	err := db.Where("outlet_id = ? AND rule_id = ?", outletID, ruleID).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, classify("store.GetBreachState", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// InsertBreachState creates the first row for a pair at version 1. Returns
// false when another writer created it first.
func (s *Store) InsertBreachState(ctx context.Context, b *BreachState) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	b.Version = 1
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(b)
	if res.Error != nil {
		return false, classify("store.InsertBreachState", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CompareAndSwapBreachState writes b only if the stored version still equals
// b.Version, bumping it. Returns false when the version moved.
func (s *Store) CompareAndSwapBreachState(ctx context.Context, b *BreachState) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&BreachState{}).
		Where("outlet_id = ? AND rule_id = ? AND version = ?", b.OutletID, b.RuleID, b.Version).
		Updates(map[string]interface{}{
			"breach_started_at": b.BreachStartedAt,
			"last_observed_at":  b.LastObservedAt,
			"version":           b.Version + 1,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return false, classify("store.CompareAndSwapBreachState", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	b.Version++
	return true, nil
}

// DeleteBreachStatesForRule drops the timers of every pair of a rule.
func (s *Store) DeleteBreachStatesForRule(ctx context.Context, ruleID string) (int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Where("rule_id = ?", ruleID).Delete(&BreachState{})
	if res.Error != nil {
		return 0, classify("store.DeleteBreachStatesForRule", res.Error)
	}
	return res.RowsAffected, nil
}
