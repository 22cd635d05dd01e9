package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/events"
	"github.com/safestrip/safestrip/internal/testhelpers"
)

func fireDecision(h *harness, rule database.AlertRule, offset time.Duration) RuleDecision {
	reading := testhelpers.NewReadingBuilder(h.fixture.Device.ID, 12).
		At(testhelpers.BaseTime().Add(offset)).
		Build()
	reading.ID = "reading-" + offset.String()
	return RuleDecision{
		Kind:    DecisionFire,
		Rule:    rule,
		Sensor:  h.fixture.Sensor,
		Outlet:  h.fixture.Outlet,
		Reading: reading,
	}
}

func TestLifecycle_ConcurrentFiresLeaveOneOpenAlert(t *testing.T) {
	h := newHarness(t)
	rule := h.addRule(t, testhelpers.NewRuleBuilder().ForSensor(h.fixture.Sensor))

	var (
		mu          sync.Mutex
		transitions int
	)
	testhelpers.ConcurrentTest(t, 8, func(i int) {
		tr, err := h.lifecycle.Apply(context.Background(), fireDecision(h, rule, time.Duration(i)*time.Second))
		assert.NoError(t, err)
		if tr != nil {
			mu.Lock()
			transitions++
			mu.Unlock()
		}
	})

	assert.Equal(t, 1, transitions)
	assert.Len(t, h.openAlerts(t), 1)
	assert.Equal(t, []string{"OPEN"}, h.events.statuses())
}

func TestLifecycle_ClearClosesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rule := h.addRule(t, testhelpers.NewRuleBuilder().ForSensor(h.fixture.Sensor))

	opened, err := h.lifecycle.Apply(ctx, fireDecision(h, rule, 0))
	require.NoError(t, err)
	require.NotNil(t, opened)

	clear := fireDecision(h, rule, time.Minute)
	clear.Kind = DecisionClear
	clear.OpenAlert = &opened.Alert

	first, err := h.lifecycle.Apply(ctx, clear)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, first.Alert.EndTS)
	assert.True(t, first.Alert.EndTS.Equal(testhelpers.BaseTime().Add(time.Minute)))

	second, err := h.lifecycle.Apply(ctx, clear)
	require.NoError(t, err)
	assert.Nil(t, second)

	alert, err := h.store.GetAlert(ctx, opened.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, database.AlertStatusResolved, alert.Status)
	assert.Equal(t, []string{"OPEN", "RESOLVED"}, h.events.statuses())
}

func TestLifecycle_ClearNeverEndsBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rule := h.addRule(t, testhelpers.NewRuleBuilder().ForSensor(h.fixture.Sensor))

	opened, err := h.lifecycle.Apply(ctx, fireDecision(h, rule, time.Minute))
	require.NoError(t, err)

	clear := fireDecision(h, rule, 0)
	clear.Kind = DecisionClear
	tr, err := h.lifecycle.Apply(ctx, clear)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.True(t, tr.Alert.EndTS.Equal(opened.Alert.StartTS))
}

func TestLifecycle_SustainAdvancesLastConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rule := h.addRule(t, testhelpers.NewRuleBuilder().ForSensor(h.fixture.Sensor))

	opened, err := h.lifecycle.Apply(ctx, fireDecision(h, rule, 0))
	require.NoError(t, err)

	sustain := fireDecision(h, rule, 2*time.Minute)
	sustain.Kind = DecisionSustain
	sustain.OpenAlert = &opened.Alert
	tr, err := h.lifecycle.Apply(ctx, sustain)
	require.NoError(t, err)
	assert.Nil(t, tr)

	alert, err := h.store.GetAlert(ctx, opened.Alert.ID)
	require.NoError(t, err)
	require.NotNil(t, alert.LastConfirmedAt)
	assert.True(t, alert.LastConfirmedAt.Equal(testhelpers.BaseTime().Add(2*time.Minute)))
	assert.Equal(t, database.AlertStatusOpen, alert.Status)
}

func TestLifecycle_DuplicateOpenAlertsAreRepaired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rule := h.addRule(t, testhelpers.NewRuleBuilder().ForSensor(h.fixture.Sensor))

	// Simulate a database without the partial unique index.
	require.NoError(t, h.store.DB().Exec("DROP INDEX ux_alerts_open_pair").Error)
	for i := 0; i < 3; i++ {
		a := &database.Alert{
			OutletID: h.fixture.Outlet.ID,
			RuleID:   rule.ID,
			Severity: database.SeverityWarning,
			StartTS:  testhelpers.BaseTime().Add(time.Duration(i) * time.Second),
		}
		inserted, err := h.store.InsertOpenAlert(ctx, a)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	sustain := fireDecision(h, rule, time.Minute)
	sustain.Kind = DecisionSustain
	sustain.OpenAlert, _ = h.store.GetOpenAlert(ctx, h.fixture.Outlet.ID, rule.ID)
	_, err := h.lifecycle.Apply(ctx, sustain)
	require.NoError(t, err)

	open := h.openAlerts(t)
	require.Len(t, open, 1)
	assert.True(t, open[0].StartTS.Equal(testhelpers.BaseTime()), "the oldest alert survives")
}

func TestLifecycle_PublishFailureDoesNotFailTransition(t *testing.T) {
	store := testhelpers.NewTestStore(t)
	f := testhelpers.SeedFixture(t, store)
	rule := testhelpers.AddRule(t, store, testhelpers.NewRuleBuilder().ForSensor(f.Sensor))

	failing := events.PublisherFunc(func(context.Context, events.AlertStateChanged) error {
		return errors.New("broker down")
	})
	sinks := events.NewMulti().
		Add("log", events.PublisherFunc(func(context.Context, events.AlertStateChanged) error { return nil })).
		Add("kafka", failing)
	core, logs := observer.New(zap.WarnLevel)
	lm := NewLifecycleManager(store, sinks, nil, zap.New(core))

	h := &harness{store: store, fixture: f}
	tr, err := lm.Apply(context.Background(), fireDecision(h, rule, 0))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Len(t, h.openAlerts(t), 1)

	entries := logs.All()
	require.Len(t, entries, 1, "a failing sink is logged once")
	assert.Equal(t, "Failed to publish alert state change", entries[0].Message)
	assert.Equal(t, "kafka: broker down", entries[0].ContextMap()["error"])
}

func TestAlertMessage(t *testing.T) {
	secs := 90
	rule := database.AlertRule{
		Name:            "Overcurrent",
		Comparator:      database.ComparatorGT,
		ThresholdValue:  10,
		DurationSeconds: &secs,
	}
	reading := database.SensorReading{SensorType: database.SensorTypeCurrent, Value: 12.5, Unit: "A"}
	outlet := database.Outlet{OutletIndex: 3}

	msg := AlertMessage(rule, reading, outlet)
	assert.True(t, strings.HasPrefix(msg, "Overcurrent: current 12.5 A on outlet 3 (> 10 A)"), msg)
	assert.Contains(t, msg, " for ")

	rule.Name = strings.Repeat("x", 400)
	assert.LessOrEqual(t, len([]rune(AlertMessage(rule, reading, outlet))), maxAlertMessageLength)
}
