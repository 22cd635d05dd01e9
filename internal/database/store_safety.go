package database

import (
	"context"

	"gorm.io/gorm"
)

// CreateSafetyCheck persists a check and all of its items atomically
func (s *Store) CreateSafetyCheck(ctx context.Context, check *SafetyCheck, items []SafetyCheckItem) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(check).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].SafetyCheckID = check.ID
		}
		return tx.CreateInBatches(items, 200).Error
	})
	return classify("store.CreateSafetyCheck", err)
}

// GetSafetyCheck returns a check with its items ordered by device and outlet index
func (s *Store) GetSafetyCheck(ctx context.Context, id string) (*SafetyCheck, []SafetyCheckItem, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var check SafetyCheck
	if err := db.Where("id = ?", id).First(&check).Error; err != nil {
		return nil, nil, classify("store.GetSafetyCheck", err)
	}
	var items []SafetyCheckItem
	err := db.Where("safety_check_id = ?", id).
		Order("device_id ASC").
		Order("outlet_index ASC").
		Find(&items).Error
	if err != nil {
		return nil, nil, classify("store.GetSafetyCheck", err)
	}
	return &check, items, nil
}

// ListSafetyChecks returns a workspace's checks, newest first, with the total count
func (s *Store) ListSafetyChecks(ctx context.Context, workspaceID string, page Page) ([]SafetyCheck, int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	q := db.Model(&SafetyCheck{}).Where("workspace_id = ?", workspaceID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify("store.ListSafetyChecks", err)
	}
	var out []SafetyCheck
	if err := page.apply(q.Order("checked_at DESC")).Find(&out).Error; err != nil {
		return nil, 0, classify("store.ListSafetyChecks", err)
	}
	return out, total, nil
}
