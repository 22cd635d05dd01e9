// Package testhelpers provides reusable testing utilities for SafeStrip.
//
// This package contains:
// - An in-memory SQLite store with the production schema
// - Registry fixtures (workspace, device, outlet, sensor)
// - HTTP test helpers (requests, response assertions)
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/safestrip/safestrip/internal/database"
)

// ========================================
// Database Helpers
// ========================================

// NewTestDB opens a private in-memory SQLite database with every table and
// the open-alert index migrated. It is closed when the test ends.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "failed to open sqlite")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db), "failed to migrate")
	return db
}

// NewTestStore wraps NewTestDB in a Store.
func NewTestStore(t *testing.T) *database.Store {
	t.Helper()
	return database.NewStore(NewTestDB(t), 2*time.Second)
}

// Fixture is one workspace with one device, one enabled outlet at index 0
// and one active current sensor on it.
type Fixture struct {
	Workspace database.Workspace
	Device    database.Device
	Outlet    database.Outlet
	Sensor    database.Sensor
}

// SeedFixture inserts a Fixture.
func SeedFixture(t *testing.T, store *database.Store) Fixture {
	t.Helper()
	ctx := context.Background()

	var f Fixture
	f.Workspace = database.Workspace{Name: "Server room"}
	require.NoError(t, store.CreateWorkspace(ctx, &f.Workspace))

	f.Device = database.Device{WorkspaceID: f.Workspace.ID, DeviceName: "strip-a"}
	require.NoError(t, store.CreateDevice(ctx, &f.Device))

	f.Outlet = AddOutlet(t, store, f.Device.ID, 0, true)
	f.Sensor = AddSensor(t, store, f.Outlet, database.SensorTypeCurrent)
	return f
}

// AddOutlet inserts an outlet on a device.
func AddOutlet(t *testing.T, store *database.Store, deviceID string, index int, enabled bool) database.Outlet {
	t.Helper()
	o := database.Outlet{DeviceID: deviceID, OutletIndex: index, Enabled: enabled}
	require.NoError(t, store.CreateOutlet(context.Background(), &o))
	return o
}

// AddSensor inserts an active sensor of sensorType on an outlet.
func AddSensor(t *testing.T, store *database.Store, outlet database.Outlet, sensorType database.SensorType) database.Sensor {
	t.Helper()
	s := database.Sensor{DeviceID: outlet.DeviceID, OutletID: outlet.ID, SensorType: sensorType, IsActive: true}
	require.NoError(t, store.CreateSensor(context.Background(), &s))
	return s
}

// AddRule inserts a rule built with a RuleBuilder.
func AddRule(t *testing.T, store *database.Store, b *RuleBuilder) database.AlertRule {
	t.Helper()
	r := b.Build()
	require.NoError(t, store.CreateRule(context.Background(), &r))
	return r
}

// CountRows returns the number of rows of model matching the optional condition.
func CountRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	var n int64
	require.NoError(t, q.Count(&n).Error)
	return n
}

// ========================================
// HTTP Test Helpers
// ========================================

// HTTPTestContext holds components for HTTP handler testing
type HTTPTestContext struct {
	T        *testing.T
	Recorder *httptest.ResponseRecorder
	Request  *http.Request
}

// NewHTTPTestContext creates a new HTTP test context
func NewHTTPTestContext(t *testing.T, method, path string, body io.Reader) *HTTPTestContext {
	t.Helper()
	return &HTTPTestContext{
		T:        t,
		Recorder: httptest.NewRecorder(),
		Request:  httptest.NewRequest(method, path, body),
	}
}

// WithHeader adds a header to the request
func (ctx *HTTPTestContext) WithHeader(key, value string) *HTTPTestContext {
	ctx.Request.Header.Set(key, value)
	return ctx
}

// WithJSONBody sets JSON body on the request
func (ctx *HTTPTestContext) WithJSONBody(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	body, err := json.Marshal(v)
	require.NoError(ctx.T, err, "failed to marshal JSON body")
	ctx.Request = httptest.NewRequest(ctx.Request.Method, ctx.Request.URL.String(), bytes.NewReader(body))
	ctx.Request.Header.Set("Content-Type", "application/json")
	return ctx
}

// Execute runs the handler and returns the response
func (ctx *HTTPTestContext) Execute(handler http.Handler) *HTTPTestContext {
	handler.ServeHTTP(ctx.Recorder, ctx.Request)
	return ctx
}

// AssertStatus checks the response status code
func (ctx *HTTPTestContext) AssertStatus(expected int) *HTTPTestContext {
	ctx.T.Helper()
	if ctx.Recorder.Code != expected {
		ctx.T.Errorf("expected status %d, got %d. Body: %s", expected, ctx.Recorder.Code, ctx.Recorder.Body.String())
	}
	return ctx
}

// AssertBodyContains checks if response body contains substring
func (ctx *HTTPTestContext) AssertBodyContains(substr string) *HTTPTestContext {
	ctx.T.Helper()
	if body := ctx.Recorder.Body.String(); !strings.Contains(body, substr) {
		ctx.T.Errorf("expected body to contain %q, got: %s", substr, body)
	}
	return ctx
}

// DecodeJSON decodes response body as JSON
func (ctx *HTTPTestContext) DecodeJSON(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	require.NoError(ctx.T, json.NewDecoder(ctx.Recorder.Body).Decode(v), "failed to decode JSON response")
	return ctx
}
