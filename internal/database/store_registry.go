package database

import (
	"context"
)

// DeviceOutlets is one device of a workspace with its outlets.
type DeviceOutlets struct {
	Device  Device
	Outlets []Outlet
}

// CreateWorkspace inserts a workspace
func (s *Store) CreateWorkspace(ctx context.Context, w *Workspace) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return classify("store.CreateWorkspace", db.Create(w).Error)
}

// GetWorkspace returns a workspace by ID
func (s *Store) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var w Workspace
	if err := db.Where("id = ?", id).First(&w).Error; err != nil {
		return nil, classify("store.GetWorkspace", err)
	}
	return &w, nil
}

// ListWorkspaces returns workspaces, newest first, optionally filtered by creator
func (s *Store) ListWorkspaces(ctx context.Context, createdBy string) ([]Workspace, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	q := db.Order("created_at DESC")
	if createdBy != "" {
		q = q.Where("created_by = ?", createdBy)
	}
	var out []Workspace
	if err := q.Find(&out).Error; err != nil {
		return nil, classify("store.ListWorkspaces", err)
	}
	return out, nil
}

// CreateDevice inserts a device
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return classify("store.CreateDevice", db.Create(d).Error)
}

// GetDevice returns a non-deleted device by ID
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var d Device
	if err := db.Where("id = ?", id).First(&d).Error; err != nil {
		return nil, classify("store.GetDevice", err)
	}
	return &d, nil
}

// ListDevices returns non-deleted devices, newest first, optionally for one workspace
func (s *Store) ListDevices(ctx context.Context, workspaceID string) ([]Device, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	q := db.Order("created_at DESC")
	if workspaceID != "" {
		q = q.Where("workspace_id = ?", workspaceID)
	}
	var out []Device
	if err := q.Find(&out).Error; err != nil {
		return nil, classify("store.ListDevices", err)
	}
	return out, nil
}

// DeleteDevice soft-deletes a device; readings for it are rejected afterwards.
// Returns false when no live device matched.
func (s *Store) DeleteDevice(ctx context.Context, id string) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Where("id = ?", id).Delete(&Device{})
	if res.Error != nil {
		return false, classify("store.DeleteDevice", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CreateOutlet inserts an outlet; a duplicate outlet_index yields a Conflict error
func (s *Store) CreateOutlet(ctx context.Context, o *Outlet) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return classify("store.CreateOutlet", db.Create(o).Error)
}

// GetOutlet returns an outlet by ID
func (s *Store) GetOutlet(ctx context.Context, id string) (*Outlet, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var o Outlet
	if err := db.Where("id = ?", id).First(&o).Error; err != nil {
		return nil, classify("store.GetOutlet", err)
	}
	return &o, nil
}

// ListOutlets returns the outlets of a device ordered by index
func (s *Store) ListOutlets(ctx context.Context, deviceID string) ([]Outlet, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var out []Outlet
	if err := db.Where("device_id = ?", deviceID).Order("outlet_index ASC").Find(&out).Error; err != nil {
		return nil, classify("store.ListOutlets", err)
	}
	return out, nil
}

// SetOutletEnabled toggles alerting for an outlet
func (s *Store) SetOutletEnabled(ctx context.Context, id string, enabled bool) (*Outlet, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&Outlet{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return nil, classify("store.SetOutletEnabled", res.Error)
	}
	var o Outlet
	if err := db.Where("id = ?", id).First(&o).Error; err != nil {
		return nil, classify("store.SetOutletEnabled", err)
	}
	return &o, nil
}

// CreateSensor inserts a sensor
func (s *Store) CreateSensor(ctx context.Context, sensor *Sensor) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return classify("store.CreateSensor", db.Create(sensor).Error)
}

// GetSensor returns a sensor by ID
func (s *Store) GetSensor(ctx context.Context, id string) (*Sensor, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var sensor Sensor
	if err := db.Where("id = ?", id).First(&sensor).Error; err != nil {
		return nil, classify("store.GetSensor", err)
	}
	return &sensor, nil
}

// ListSensors returns every sensor of a device
func (s *Store) ListSensors(ctx context.Context, deviceID string) ([]Sensor, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var out []Sensor
	if err := db.Where("device_id = ?", deviceID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, classify("store.ListSensors", err)
	}
	return out, nil
}

// ListActiveSensors returns the device's active sensors of one type
func (s *Store) ListActiveSensors(ctx context.Context, deviceID string, sensorType SensorType) ([]Sensor, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var out []Sensor
	err := db.Where("device_id = ? AND sensor_type = ? AND is_active = ?", deviceID, sensorType, true).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, classify("store.ListActiveSensors", err)
	}
	return out, nil
}

// FindActiveSensorByOutletIndex resolves the active sensor of a type on the outlet at index
func (s *Store) FindActiveSensorByOutletIndex(ctx context.Context, deviceID string, outletIndex int, sensorType SensorType) (*Sensor, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var sensor Sensor
	err := db.Table("sensors").
		Select("sensors.*").
		Joins("JOIN outlets ON outlets.id = sensors.outlet_id").
		Where("sensors.device_id = ? AND outlets.outlet_index = ? AND sensors.sensor_type = ? AND sensors.is_active = ?",
			deviceID, outletIndex, sensorType, true).
		First(&sensor).Error
	if err != nil {
		return nil, classify("store.FindActiveSensorByOutletIndex", err)
	}
	return &sensor, nil
}

// GetDevicesAndOutlets returns the non-deleted devices of a workspace with their outlets
func (s *Store) GetDevicesAndOutlets(ctx context.Context, workspaceID string) ([]DeviceOutlets, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var devices []Device
	if err := db.Where("workspace_id = ?", workspaceID).Order("created_at ASC").Find(&devices).Error; err != nil {
		return nil, classify("store.GetDevicesAndOutlets", err)
	}
	if len(devices) == 0 {
		return nil, nil
	}

	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}
	var outlets []Outlet
	if err := db.Where("device_id IN ?", ids).Order("outlet_index ASC").Find(&outlets).Error; err != nil {
		return nil, classify("store.GetDevicesAndOutlets", err)
	}

	byDevice := make(map[string][]Outlet, len(devices))
	for _, o := range outlets {
		byDevice[o.DeviceID] = append(byDevice[o.DeviceID], o)
	}
	tree := make([]DeviceOutlets, len(devices))
	for i, d := range devices {
		tree[i] = DeviceOutlets{Device: d, Outlets: byDevice[d.ID]}
	}
	return tree, nil
}
