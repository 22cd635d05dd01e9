package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/config"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/events"
	"github.com/safestrip/safestrip/internal/metrics"
	"github.com/safestrip/safestrip/internal/services"
	"github.com/safestrip/safestrip/internal/testhelpers"
)

type testServer struct {
	store   *database.Store
	fixture testhelpers.Fixture
	metrics *metrics.Metrics
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	store := testhelpers.NewTestStore(t)
	m := metrics.New()

	ingestor := services.NewIngestor(store, 0, m, log)
	breaches := services.NewDBBreachTracker(store)
	evaluator := services.NewEvaluator(store, store, breaches, m, log)
	lifecycle := services.NewLifecycleManager(store, events.NewLogPublisher(log), m, log)
	pipeline := services.NewPipeline(ingestor, evaluator, lifecycle,
		services.PipelineOptions{Mode: config.EvaluationSync}, m, log)
	registry := services.NewRegistryService(store, log).WithRuleState(lifecycle, breaches)
	safety := services.NewSafetyCheckService(store, services.DefaultStaleness, m, log)

	return &testServer{
		store:   store,
		fixture: testhelpers.SeedFixture(t, store),
		metrics: m,
		handler: NewRouter(
			NewHTTPHandler(store),
			NewAPIHandler(registry, pipeline, safety),
			RouterOptions{Metrics: m, Log: log},
		),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *testhelpers.HTTPTestContext {
	t.Helper()
	ctx := testhelpers.NewHTTPTestContext(t, method, path, nil)
	if body != nil {
		ctx = ctx.WithJSONBody(body)
	}
	return ctx.Execute(s.handler)
}

// postReading sends a current reading for the fixture device at base+offset.
func (s *testServer) postReading(t *testing.T, value float64, offset time.Duration) *testhelpers.HTTPTestContext {
	t.Helper()
	return s.do(t, http.MethodPost, "/sensor-readings", map[string]interface{}{
		"device_id":   s.fixture.Device.ID,
		"sensor_type": "current",
		"value":       value,
		"unit":        "A",
		"timestamp":   testhelpers.BaseTime().Add(offset).Format(time.RFC3339),
	})
}

func (s *testServer) createRule(t *testing.T, threshold float64, duration int) string {
	t.Helper()
	var rule database.AlertRule
	s.do(t, http.MethodPost, "/api/alert-rules", map[string]interface{}{
		"name":             "overcurrent",
		"sensor_id":        s.fixture.Sensor.ID,
		"comparator":       "gt",
		"threshold_value":  threshold,
		"duration_seconds": duration,
		"severity":         "critical",
	}).AssertStatus(http.StatusCreated).DecodeJSON(&rule)
	require.NotEmpty(t, rule.ID)
	return rule.ID
}

type errorBody struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
}

func decodeError(t *testing.T, ctx *testhelpers.HTTPTestContext) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(ctx.Recorder.Body.Bytes(), &body), ctx.Recorder.Body.String())
	return body
}

func path(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
