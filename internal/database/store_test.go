package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/safestrip/safestrip/internal/apperrors"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return NewStore(db, time.Second)
}

type fixture struct {
	workspace Workspace
	device    Device
	outlet    Outlet
	sensor    Sensor
}

func seedFixture(t *testing.T, s *Store) fixture {
	t.Helper()
	ctx := context.Background()

	f := fixture{}
	f.workspace = Workspace{Name: "Lab"}
	require.NoError(t, s.CreateWorkspace(ctx, &f.workspace))
	f.device = Device{WorkspaceID: f.workspace.ID, DeviceName: "strip-1"}
	require.NoError(t, s.CreateDevice(ctx, &f.device))
	f.outlet = Outlet{DeviceID: f.device.ID, OutletIndex: 0, Enabled: true}
	require.NoError(t, s.CreateOutlet(ctx, &f.outlet))
	f.sensor = Sensor{DeviceID: f.device.ID, OutletID: f.outlet.ID, SensorType: SensorTypeCurrent, IsActive: true}
	require.NoError(t, s.CreateSensor(ctx, &f.sensor))
	return f
}

func newReading(deviceID string, value float64, at time.Time) *SensorReading {
	return &SensorReading{
		DeviceID:   deviceID,
		SensorType: SensorTypeCurrent,
		Value:      value,
		Unit:       "A",
		CreatedAt:  at,
		ReceivedAt: time.Now().UTC(),
	}
}

func TestStore_InsertReading_AppendOnly(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	first := newReading(f.device.ID, 1.5, t0)
	_, err := s.InsertReading(ctx, first)
	require.NoError(t, err)
	second := newReading(f.device.ID, 1.5, t0)
	_, err = s.InsertReading(ctx, second)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "identical payloads must produce distinct rows")

	n, err := s.CountReadings(ctx, f.device.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.GetReading(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Value)
	assert.True(t, got.CreatedAt.Equal(t0))
}

func TestStore_InsertReading_LivenessIsMonotonic(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * time.Second)

	tests := []struct {
		name  string
		order []time.Time
		moved []bool
	}{
		{name: "in order", order: []time.Time{t0, t1}, moved: []bool{true, true}},
		{name: "out of order", order: []time.Time{t1, t0}, moved: []bool{true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestStore(t)
			f := seedFixture(t, s)
			ctx := context.Background()

			for i, at := range tt.order {
				moved, err := s.InsertReading(ctx, newReading(f.device.ID, 1, at))
				require.NoError(t, err)
				assert.Equal(t, tt.moved[i], moved, "reading %d", i)
			}

			d, err := s.GetDevice(ctx, f.device.ID)
			require.NoError(t, err)
			require.NotNil(t, d.LastSeenAt)
			assert.True(t, d.LastSeenAt.Equal(t1), "last_seen_at = %v, want %v", d.LastSeenAt, t1)
		})
	}
}

func TestStore_LatestReading(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	none, err := s.LatestReading(ctx, f.device.ID, SensorTypeCurrent)
	require.NoError(t, err)
	assert.Nil(t, none)

	for i, v := range []float64{3, 9, 4} {
		_, err := s.InsertReading(ctx, newReading(f.device.ID, v, t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	latest, err := s.LatestReading(ctx, f.device.ID, SensorTypeCurrent)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 4.0, latest.Value)

	list, total, err := s.ListReadings(ctx, ReadingFilter{DeviceID: f.device.ID}, Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, list, 2)
}

func TestStore_DeletedDeviceIsUnknown(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	ok, err := s.DeleteDevice(ctx, f.device.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetDevice(ctx, f.device.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	tree, err := s.GetDevicesAndOutlets(ctx, f.workspace.ID)
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestStore_CreateOutlet_DuplicateIndexConflicts(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)

	err := s.CreateOutlet(context.Background(), &Outlet{DeviceID: f.device.ID, OutletIndex: f.outlet.OutletIndex})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindConflict), "got %v", err)
}

func TestStore_FindActiveSensorByOutletIndex(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	got, err := s.FindActiveSensorByOutletIndex(ctx, f.device.ID, 0, SensorTypeCurrent)
	require.NoError(t, err)
	assert.Equal(t, f.sensor.ID, got.ID)

	_, err = s.FindActiveSensorByOutletIndex(ctx, f.device.ID, 7, SensorTypeCurrent)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestStore_GetEnabledRulesForSensor_Scope(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()

	other := uuid.NewString()
	rules := []AlertRule{
		{Name: "bound", SensorID: &f.sensor.ID, SensorType: SensorTypeCurrent, Comparator: ComparatorGT, ThresholdValue: 10, Severity: SeverityWarning, Enabled: true},
		{Name: "type-wide", SensorType: SensorTypeCurrent, Comparator: ComparatorGT, ThresholdValue: 10, Severity: SeverityWarning, Enabled: true},
		{Name: "device-scoped", SensorType: SensorTypeCurrent, DeviceID: &f.device.ID, Comparator: ComparatorGT, ThresholdValue: 10, Severity: SeverityWarning, Enabled: true},
		{Name: "other-workspace", SensorType: SensorTypeCurrent, WorkspaceID: &other, Comparator: ComparatorGT, ThresholdValue: 10, Severity: SeverityWarning, Enabled: true},
		{Name: "other-type", SensorType: SensorTypeSmoke, Comparator: ComparatorGT, ThresholdValue: 10, Severity: SeverityWarning, Enabled: true},
		{Name: "disabled", SensorType: SensorTypeCurrent, Comparator: ComparatorGT, ThresholdValue: 10, Severity: SeverityWarning, Enabled: false},
	}
	for i := range rules {
		require.NoError(t, s.CreateRule(ctx, &rules[i]))
	}

	got, err := s.GetEnabledRulesForSensor(ctx, RuleScope{
		SensorID:    f.sensor.ID,
		SensorType:  SensorTypeCurrent,
		DeviceID:    f.device.ID,
		WorkspaceID: f.workspace.ID,
	})
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for _, r := range got {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"bound", "type-wide", "device-scoped"}, names)
}

func TestStore_UpdateRule(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := AlertRule{Name: "hot", SensorType: SensorTypeTemp, Comparator: ComparatorGT, ThresholdValue: 50, Severity: SeverityWarning, Enabled: true}
	require.NoError(t, s.CreateRule(ctx, &r))

	updated, err := s.UpdateRule(ctx, r.ID, map[string]interface{}{"enabled": false, "threshold_value": 60.0})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, 60.0, updated.ThresholdValue)

	_, err = s.UpdateRule(ctx, uuid.NewString(), map[string]interface{}{"enabled": true})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func newAlert(f fixture, ruleID string, at time.Time) *Alert {
	return &Alert{
		OutletID: f.outlet.ID,
		RuleID:   ruleID,
		SensorID: f.sensor.ID,
		Severity: SeverityCritical,
		Message:  "current above threshold",
		StartTS:  at,
	}
}

func TestStore_InsertOpenAlert_AtMostOneOpen(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	ruleID := uuid.NewString()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	inserted, err := s.InsertOpenAlert(ctx, newAlert(f, ruleID, t0))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertOpenAlert(ctx, newAlert(f, ruleID, t0.Add(time.Second)))
	require.NoError(t, err)
	assert.False(t, inserted, "second OPEN insert for the same pair must be ignored")

	open, err := s.ListOpenAlertsForPair(ctx, f.outlet.ID, ruleID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	resolved, err := s.ResolveAlert(ctx, open[0].ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, resolved)

	inserted, err = s.InsertOpenAlert(ctx, newAlert(f, ruleID, t0.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.True(t, inserted, "a new OPEN alert is allowed once the previous one resolved")
}

func TestStore_InsertOpenAlert_Concurrent(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ruleID := uuid.NewString()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertOpenAlert(context.Background(), newAlert(f, ruleID, t0))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	open, err := s.ListOpenAlertsForPair(context.Background(), f.outlet.ID, ruleID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestStore_ResolveAlert_OnlyOnce(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	a := newAlert(f, uuid.NewString(), t0)
	_, err := s.InsertOpenAlert(ctx, a)
	require.NoError(t, err)

	first, err := s.ResolveAlert(ctx, a.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	second, err := s.ResolveAlert(ctx, a.ID, t0.Add(2*time.Minute))
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	got, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AlertStatusResolved, got.Status)
	require.NotNil(t, got.EndTS)
	assert.True(t, got.EndTS.Equal(t0.Add(time.Minute)))
}

func TestStore_TouchAlertConfirmed_NeverMovesBackwards(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	a := newAlert(f, uuid.NewString(), t0)
	_, err := s.InsertOpenAlert(ctx, a)
	require.NoError(t, err)

	moved, err := s.TouchAlertConfirmed(ctx, a.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.TouchAlertConfirmed(ctx, a.ID, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastConfirmedAt)
	assert.True(t, got.LastConfirmedAt.Equal(t0.Add(time.Minute)))
}

func TestStore_ListAlerts_Filters(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	openAlert := newAlert(f, uuid.NewString(), t0)
	_, err := s.InsertOpenAlert(ctx, openAlert)
	require.NoError(t, err)
	closed := newAlert(f, uuid.NewString(), t0)
	_, err = s.InsertOpenAlert(ctx, closed)
	require.NoError(t, err)
	_, err = s.ResolveAlert(ctx, closed.ID, t0.Add(time.Minute))
	require.NoError(t, err)

	list, total, err := s.ListAlerts(ctx, AlertFilter{Status: AlertStatusOpen, WorkspaceID: f.workspace.ID}, Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	assert.Equal(t, openAlert.ID, list[0].ID)

	_, total, err = s.ListAlerts(ctx, AlertFilter{WorkspaceID: uuid.NewString()}, Page{})
	require.NoError(t, err)
	assert.Zero(t, total)

	counts, err := s.CountOpenAlertsByOutlet(ctx, []string{f.outlet.ID, uuid.NewString()})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{f.outlet.ID: 1}, counts)
}

func TestStore_BreachState_CompareAndSwap(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	ruleID := uuid.NewString()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	missing, err := s.GetBreachState(ctx, f.outlet.ID, ruleID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	started := t0
	b := &BreachState{OutletID: f.outlet.ID, RuleID: ruleID, BreachStartedAt: &started, LastObservedAt: t0}
	ok, err := s.InsertBreachState(ctx, b)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := &BreachState{OutletID: f.outlet.ID, RuleID: ruleID, LastObservedAt: t0}
	ok, err = s.InsertBreachState(ctx, dup)
	require.NoError(t, err)
	assert.False(t, ok)

	current, err := s.GetBreachState(ctx, f.outlet.ID, ruleID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, int64(1), current.Version)

	stale := *current
	current.BreachStartedAt = nil
	current.LastObservedAt = t0.Add(time.Minute)
	ok, err = s.CompareAndSwapBreachState(ctx, current)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), current.Version)

	stale.LastObservedAt = t0.Add(2 * time.Minute)
	ok, err = s.CompareAndSwapBreachState(ctx, &stale)
	require.NoError(t, err)
	assert.False(t, ok, "write with an old version must lose")

	final, err := s.GetBreachState(ctx, f.outlet.ID, ruleID)
	require.NoError(t, err)
	assert.Nil(t, final.BreachStartedAt)
	assert.True(t, final.LastObservedAt.Equal(t0.Add(time.Minute)))
}

func TestStore_RuleScopedAlertsAndBreachStates(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	ruleID, otherRule := uuid.NewString(), uuid.NewString()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{ruleID, otherRule} {
		inserted, err := s.InsertOpenAlert(ctx, newAlert(f, id, t0))
		require.NoError(t, err)
		require.True(t, inserted)
		inserted, err = s.InsertBreachState(ctx, &BreachState{OutletID: f.outlet.ID, RuleID: id, LastObservedAt: t0})
		require.NoError(t, err)
		require.True(t, inserted)
	}

	open, err := s.ListOpenAlertsForRule(ctx, ruleID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, ruleID, open[0].RuleID)

	n, err := s.DeleteBreachStatesForRule(ctx, ruleID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := s.GetBreachState(ctx, f.outlet.ID, ruleID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := s.GetBreachState(ctx, f.outlet.ID, otherRule)
	require.NoError(t, err)
	assert.NotNil(t, kept, "other rules keep their timers")
}

func TestStore_CreateSafetyCheck(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	check := &SafetyCheck{WorkspaceID: f.workspace.ID, OverallStatus: CheckStatusFail, StalenessSeconds: 600, CheckedAt: now}
	items := []SafetyCheckItem{{
		DeviceID:       f.device.ID,
		OutletID:       f.outlet.ID,
		OutletIndex:    0,
		Status:         CheckStatusFail,
		OpenAlertCount: 1,
		Reason:         "1 open alert",
	}}
	require.NoError(t, s.CreateSafetyCheck(ctx, check, items))

	got, gotItems, err := s.GetSafetyCheck(ctx, check.ID)
	require.NoError(t, err)
	assert.Equal(t, CheckStatusFail, got.OverallStatus)
	require.Len(t, gotItems, 1)
	assert.Equal(t, check.ID, gotItems[0].SafetyCheckID)

	list, total, err := s.ListSafetyChecks(ctx, f.workspace.ID, Page{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
}

func TestStore_UpdateLivenessStatus(t *testing.T) {
	s := setupTestStore(t)
	f := seedFixture(t, s)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.InsertReading(ctx, newReading(f.device.ID, 1, now.Add(-time.Minute)))
	require.NoError(t, err)

	online, offline, err := s.UpdateLivenessStatus(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), online)
	assert.Zero(t, offline)

	online, offline, err = s.UpdateLivenessStatus(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, online)
	assert.Equal(t, int64(1), offline)

	d, err := s.GetDevice(ctx, f.device.ID)
	require.NoError(t, err)
	assert.Equal(t, DeviceStatusOffline, d.Status)
}

func TestStore_ExpiredContextIsStorageUnavailable(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := s.GetWorkspace(ctx, uuid.NewString())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindStorageUnavailable), "got %v", err)
}

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	return NewStore(db, time.Second), mock
}

func TestStore_PostgresErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperrors.Kind
	}{
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, kind: apperrors.KindStorageUnavailable},
		{name: "query canceled", err: &pgconn.PgError{Code: "57014"}, kind: apperrors.KindStorageUnavailable},
		{name: "too many connections", err: &pgconn.PgError{Code: "53300"}, kind: apperrors.KindStorageUnavailable},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}, kind: apperrors.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := setupMockStore(t)
			mock.ExpectQuery(`SELECT \* FROM "devices"`).WillReturnError(tt.err)

			_, err := s.GetDevice(context.Background(), uuid.NewString())
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_PostgresRecordNotFound(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "workspaces"`).WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	_, err := s.GetWorkspace(context.Background(), uuid.NewString())
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
