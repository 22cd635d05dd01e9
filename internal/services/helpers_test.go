package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/config"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/events"
	"github.com/safestrip/safestrip/internal/testhelpers"
)

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []events.AlertStateChanged
}

func (r *recorder) Publish(_ context.Context, ev events.AlertStateChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Status
	}
	return out
}

// harness wires the pipeline over an in-memory store.
type harness struct {
	store     *database.Store
	fixture   testhelpers.Fixture
	ingestor  *Ingestor
	evaluator *Evaluator
	lifecycle *LifecycleManager
	breaches  BreachTracker
	pipeline  *Pipeline
	registry  *RegistryService
	events    *recorder
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithOptions(t, PipelineOptions{Mode: config.EvaluationSync})
}

func newHarnessWithOptions(t *testing.T, opts PipelineOptions) *harness {
	t.Helper()
	log := zap.NewNop()
	store := testhelpers.NewTestStore(t)

	h := &harness{
		store:   store,
		fixture: testhelpers.SeedFixture(t, store),
		events:  &recorder{},
	}
	h.ingestor = NewIngestor(store, 0, nil, log)
	h.breaches = NewDBBreachTracker(store)
	h.evaluator = NewEvaluator(store, store, h.breaches, nil, log)
	h.lifecycle = NewLifecycleManager(store, h.events, nil, log)
	h.pipeline = NewPipeline(h.ingestor, h.evaluator, h.lifecycle, opts, nil, log)
	h.registry = NewRegistryService(store, log).WithRuleState(h.lifecycle, h.breaches)
	h.registry.now = func() time.Time { return testhelpers.BaseTime().Add(5 * time.Minute) }
	return h
}

func (h *harness) addRule(t *testing.T, b *testhelpers.RuleBuilder) database.AlertRule {
	t.Helper()
	return testhelpers.AddRule(t, h.store, b)
}

// raw builds a current reading for the fixture device at base+offset.
func (h *harness) raw(value float64, offset time.Duration) RawReading {
	at := testhelpers.BaseTime().Add(offset)
	return RawReading{
		DeviceID:   h.fixture.Device.ID,
		SensorType: string(database.SensorTypeCurrent),
		Value:      value,
		Unit:       "A",
		Timestamp:  &at,
	}
}

func (h *harness) submit(t *testing.T, value float64, offset time.Duration) *IngestOutcome {
	t.Helper()
	out, err := h.pipeline.Submit(context.Background(), h.raw(value, offset))
	require.NoError(t, err)
	require.NoError(t, out.EvaluationError)
	return out
}

func (h *harness) openAlerts(t *testing.T) []database.Alert {
	t.Helper()
	alerts, _, err := h.store.ListAlerts(context.Background(), database.AlertFilter{Status: database.AlertStatusOpen}, database.Page{})
	require.NoError(t, err)
	return alerts
}

func (h *harness) allAlerts(t *testing.T) []database.Alert {
	t.Helper()
	alerts, _, err := h.store.ListAlerts(context.Background(), database.AlertFilter{}, database.Page{})
	require.NoError(t, err)
	return alerts
}
