package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// InsertReading appends a reading and advances the device's last_seen_at to
// the reading's time if it is newer, in one transaction. Returns whether
// last_seen_at moved.
func (s *Store) InsertReading(ctx context.Context, r *SensorReading) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	advanced := false
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		res := tx.Model(&Device{}).
			Where("id = ? AND (last_seen_at IS NULL OR last_seen_at < ?)", r.DeviceID, r.CreatedAt).
			Update("last_seen_at", r.CreatedAt)
		if res.Error != nil {
			return res.Error
		}
		advanced = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, classify("store.InsertReading", err)
	}
	return advanced, nil
}

// GetReading returns a stored reading by ID
func (s *Store) GetReading(ctx context.Context, id string) (*SensorReading, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var r SensorReading
	if err := db.Where("id = ?", id).First(&r).Error; err != nil {
		return nil, classify("store.GetReading", err)
	}
	return &r, nil
}

// LatestReading returns the newest reading of a type for a device, or nil when none exists
func (s *Store) LatestReading(ctx context.Context, deviceID string, sensorType SensorType) (*SensorReading, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var rows []SensorReading
	err := db.Where("device_id = ? AND sensor_type = ?", deviceID, sensorType).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, classify("store.LatestReading", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ReadingFilter narrows ListReadings.
type ReadingFilter struct {
	DeviceID   string
	SensorType SensorType
	Since      *time.Time
}

// ListReadings returns recent readings, newest first, and the total matching count
func (s *Store) ListReadings(ctx context.Context, f ReadingFilter, page Page) ([]SensorReading, int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	q := db.Model(&SensorReading{})
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.SensorType != "" {
		q = q.Where("sensor_type = ?", f.SensorType)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify("store.ListReadings", err)
	}
	var out []SensorReading
	if err := page.apply(q.Order("created_at DESC")).Find(&out).Error; err != nil {
		return nil, 0, classify("store.ListReadings", err)
	}
	return out, total, nil
}

// CountReadings returns the number of stored readings for a device
func (s *Store) CountReadings(ctx context.Context, deviceID string) (int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var n int64
	if err := db.Model(&SensorReading{}).Where("device_id = ?", deviceID).Count(&n).Error; err != nil {
		return 0, classify("store.CountReadings", err)
	}
	return n, nil
}

// UpdateLivenessStatus marks devices online when seen since cutoff and
// offline otherwise. Only rows whose status changes are touched.
func (s *Store) UpdateLivenessStatus(ctx context.Context, cutoff time.Time) (online, offline int64, err error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Device{}).
			Where("last_seen_at >= ? AND status <> ?", cutoff, DeviceStatusOnline).
			Update("status", DeviceStatusOnline)
		if res.Error != nil {
			return res.Error
		}
		online = res.RowsAffected

		res = tx.Model(&Device{}).
			Where("last_seen_at IS NOT NULL AND last_seen_at < ? AND status <> ?", cutoff, DeviceStatusOffline).
			Update("status", DeviceStatusOffline)
		if res.Error != nil {
			return res.Error
		}
		offline = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, classify("store.UpdateLivenessStatus", err)
	}
	return online, offline, nil
}
