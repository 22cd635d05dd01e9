package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/testhelpers"
)

func TestCreateReading_DurationGatedAlertLifecycle(t *testing.T) {
	s := newTestServer(t)
	ruleID := s.createRule(t, 10, 60)

	steps := []struct {
		value  float64
		offset time.Duration
		want   []string
	}{
		{12, 0, nil},
		{12, 30 * time.Second, nil},
		{12, 61 * time.Second, []string{"OPEN"}},
		{13, 90 * time.Second, nil},
		{5, 120 * time.Second, []string{"RESOLVED"}},
	}
	for _, step := range steps {
		var resp api.IngestResponse
		s.postReading(t, step.value, step.offset).
			AssertStatus(http.StatusCreated).
			DecodeJSON(&resp)

		got := make([]string, 0, len(resp.Transitions))
		for _, tr := range resp.Transitions {
			assert.Equal(t, ruleID, tr.RuleID)
			got = append(got, tr.To)
		}
		assert.ElementsMatch(t, step.want, got, "reading %v at +%s", step.value, step.offset)
		assert.Empty(t, resp.EvaluationError)
		assert.Equal(t, s.fixture.Device.ID, resp.Reading.DeviceID)
	}

	var page struct {
		Data       []database.Alert   `json:"data"`
		Pagination api.PaginationMeta `json:"pagination"`
	}
	s.do(t, http.MethodGet, "/api/alerts?status=resolved", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, int64(1), page.Pagination.Total)
	require.NotNil(t, page.Data[0].EndTS)
	assert.True(t, page.Data[0].EndTS.Equal(testhelpers.BaseTime().Add(120*time.Second)))
}

func TestCreateReading_Rejections(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		body       interface{}
		raw        string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown device",
			body:       map[string]interface{}{"device_id": uuid.NewString(), "sensor_type": "current", "value": 1},
			wantStatus: http.StatusNotFound,
			wantCode:   "unknown_device",
		},
		{
			name:       "missing value",
			body:       map[string]interface{}{"device_id": s.fixture.Device.ID, "sensor_type": "current"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_error",
		},
		{
			name:       "unsupported sensor type",
			body:       map[string]interface{}{"device_id": s.fixture.Device.ID, "sensor_type": "humidity", "value": 1},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_sensor_type",
		},
		{
			name:       "bad timestamp",
			body:       map[string]interface{}{"device_id": s.fixture.Device.ID, "sensor_type": "current", "value": 1, "timestamp": "noon"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_timestamp",
		},
		{
			name:       "unknown field",
			raw:        `{"device_id":"x","sensor_type":"current","value":1,"colour":"red"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "malformed_request",
		},
		{
			name:       "malformed JSON",
			raw:        `{"device_id":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "malformed_request",
		},
		{
			name:       "value as string",
			raw:        `{"device_id":"x","sensor_type":"current","value":"high"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "malformed_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctx *testhelpers.HTTPTestContext
			if tt.raw != "" {
				ctx = testhelpers.NewHTTPTestContext(t, http.MethodPost, "/sensor-readings", strings.NewReader(tt.raw)).
					Execute(s.handler)
			} else {
				ctx = s.do(t, http.MethodPost, "/sensor-readings", tt.body)
			}
			ctx.AssertStatus(tt.wantStatus)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, ctx).Code)
			}
		})
	}

	n, err := s.store.CountReadings(t.Context(), s.fixture.Device.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "rejected readings are never stored")
}

func TestLatestReading(t *testing.T) {
	s := newTestServer(t)

	ctx := s.do(t, http.MethodGet, path("/sensor-readings/latest?device_id=%s&sensor_type=current", s.fixture.Device.ID), nil).
		AssertStatus(http.StatusOK)
	assert.Equal(t, "null", strings.TrimSpace(ctx.Recorder.Body.String()))

	s.postReading(t, 3, 0).AssertStatus(http.StatusCreated)
	s.postReading(t, 4, time.Minute).AssertStatus(http.StatusCreated)
	s.postReading(t, 2, -time.Minute).AssertStatus(http.StatusCreated)

	var latest database.SensorReading
	s.do(t, http.MethodGet, path("/sensor-readings/latest?device_id=%s&sensor_type=current", s.fixture.Device.ID), nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&latest)
	assert.Equal(t, 4.0, latest.Value)

	s.do(t, http.MethodGet, "/sensor-readings/latest", nil).AssertStatus(http.StatusUnprocessableEntity)
	s.do(t, http.MethodGet, path("/sensor-readings/latest?device_id=%s", uuid.NewString()), nil).
		AssertStatus(http.StatusNotFound)
}

func TestListReadings(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		s.postReading(t, float64(i), time.Duration(i)*time.Second).AssertStatus(http.StatusCreated)
	}

	var page struct {
		Data       []database.SensorReading `json:"data"`
		Pagination api.PaginationMeta       `json:"pagination"`
	}
	s.do(t, http.MethodGet, path("/sensor-readings?device_id=%s&per_page=2", s.fixture.Device.ID), nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&page)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, int64(3), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.Equal(t, 2.0, page.Data[0].Value, "newest first")

	s.do(t, http.MethodGet, "/sensor-readings?sensor_type=plasma", nil).AssertStatus(http.StatusUnprocessableEntity)
	s.do(t, http.MethodGet, "/sensor-readings?since=yesterday", nil).AssertStatus(http.StatusUnprocessableEntity)
}

func TestEvaluateReading_Idempotent(t *testing.T) {
	s := newTestServer(t)
	s.createRule(t, 10, 0)

	var created api.IngestResponse
	s.postReading(t, 15, 0).AssertStatus(http.StatusCreated).DecodeJSON(&created)
	require.Len(t, created.Transitions, 1)

	for i := 0; i < 2; i++ {
		var resp api.EvaluateResponse
		s.do(t, http.MethodPost, path("/sensor-readings/%s/evaluate", created.Reading.ID), nil).
			AssertStatus(http.StatusOK).
			DecodeJSON(&resp)
		assert.Equal(t, created.Reading.ID, resp.ReadingID)
		assert.Empty(t, resp.Transitions, "replay must not open a second alert")
	}

	n := testhelpers.CountRows(t, s.store.DB(), &database.Alert{}, "status = ?", database.AlertStatusOpen)
	assert.Equal(t, int64(1), n)

	s.do(t, http.MethodPost, path("/sensor-readings/%s/evaluate", uuid.NewString()), nil).
		AssertStatus(http.StatusNotFound)
}
