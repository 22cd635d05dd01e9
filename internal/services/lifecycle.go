package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/events"
	"github.com/safestrip/safestrip/internal/metrics"
	"github.com/safestrip/safestrip/internal/utils"
)

// maxAlertMessageLength bounds derived alert messages.
const maxAlertMessageLength = 255

var comparatorSymbols = map[database.Comparator]string{
	database.ComparatorGT:  ">",
	database.ComparatorGTE: ">=",
	database.ComparatorLT:  "<",
	database.ComparatorLTE: "<=",
	database.ComparatorEQ:  "=",
}

// Transition is a real alert state change.
type Transition struct {
	Alert database.Alert
	From  database.AlertStatus // empty when the alert was created
	To    database.AlertStatus
}

// LifecycleManager applies rule decisions to the alerts table. It relies on
// conditional writes so concurrent evaluators converge on one OPEN alert per pair.
type LifecycleManager struct {
	store     *database.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewLifecycleManager(store *database.Store, publisher events.Publisher, m *metrics.Metrics, log *zap.Logger) *LifecycleManager {
	return &LifecycleManager{
		store:     store,
		publisher: publisher,
		metrics:   m,
		log:       log.Named("lifecycle"),
	}
}

// Apply executes one decision. The returned transition is nil when nothing
// changed state: a lost Fire race, a Sustain, or a Clear of an alert that
// was already resolved.
func (l *LifecycleManager) Apply(ctx context.Context, d RuleDecision) (*Transition, error) {
	switch d.Kind {
	case DecisionFire:
		return l.fire(ctx, d)
	case DecisionSustain:
		return nil, l.sustain(ctx, d)
	case DecisionClear:
		return l.clear(ctx, d)
	}
	return nil, apperrors.Internal("lifecycle.Apply", fmt.Errorf("unknown decision %q", d.Kind))
}

func (l *LifecycleManager) fire(ctx context.Context, d RuleDecision) (*Transition, error) {
	alert := &database.Alert{
		OutletID:  d.Outlet.ID,
		RuleID:    d.Rule.ID,
		SensorID:  d.Sensor.ID,
		ReadingID: d.Reading.ID,
		Severity:  d.Rule.Severity,
		Message:   AlertMessage(d.Rule, d.Reading, d.Outlet),
		StartTS:   d.Reading.CreatedAt,
	}
	confirmed := d.Reading.CreatedAt
	alert.LastConfirmedAt = &confirmed

	inserted, err := l.store.InsertOpenAlert(ctx, alert)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Another writer opened the alert first; theirs stands.
		existing, err := l.store.GetOpenAlert(ctx, d.Outlet.ID, d.Rule.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			l.log.Debug("Fire lost to an existing open alert",
				zap.String("alert_id", existing.ID), zap.String("rule_id", d.Rule.ID))
		}
		return nil, nil
	}

	if err := l.enforceSingleOpen(ctx, d.Outlet.ID, d.Rule.ID, d.Reading.CreatedAt); err != nil {
		return nil, err
	}

	t := &Transition{Alert: *alert, To: database.AlertStatusOpen}
	l.emit(ctx, t)
	return t, nil
}

func (l *LifecycleManager) sustain(ctx context.Context, d RuleDecision) error {
	if d.OpenAlert == nil {
		return nil
	}
	if _, err := l.store.TouchAlertConfirmed(ctx, d.OpenAlert.ID, d.Reading.CreatedAt); err != nil {
		return err
	}
	return l.enforceSingleOpen(ctx, d.Outlet.ID, d.Rule.ID, d.Reading.CreatedAt)
}

func (l *LifecycleManager) clear(ctx context.Context, d RuleDecision) (*Transition, error) {
	open, err := l.store.ListOpenAlertsForPair(ctx, d.Outlet.ID, d.Rule.ID)
	if err != nil {
		return nil, err
	}
	if len(open) > 1 {
		l.reportInvariant(d.Outlet.ID, d.Rule.ID, len(open))
	}

	var first *Transition
	for _, a := range open {
		endTS := d.Reading.CreatedAt
		if endTS.Before(a.StartTS) {
			endTS = a.StartTS
		}
		resolved, err := l.store.ResolveAlert(ctx, a.ID, endTS)
		if err != nil {
			return first, err
		}
		if !resolved {
			continue
		}
		a.Status = database.AlertStatusResolved
		a.EndTS = &endTS
		t := &Transition{Alert: a, From: database.AlertStatusOpen, To: database.AlertStatusResolved}
		l.emit(ctx, t)
		if first == nil {
			first = t
		}
	}
	return first, nil
}

// RetireRule resolves every OPEN alert of a rule at the given time. Readings
// can no longer clear those alerts once the rule is disabled, deleted or its
// condition changed.
func (l *LifecycleManager) RetireRule(ctx context.Context, ruleID string, at time.Time) ([]Transition, error) {
	open, err := l.store.ListOpenAlertsForRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	var out []Transition
	for _, a := range open {
		endTS := at
		if endTS.Before(a.StartTS) {
			endTS = a.StartTS
		}
		resolved, err := l.store.ResolveAlert(ctx, a.ID, endTS)
		if err != nil {
			return out, err
		}
		if !resolved {
			continue
		}
		a.Status = database.AlertStatusResolved
		a.EndTS = &endTS
		t := Transition{Alert: a, From: database.AlertStatusOpen, To: database.AlertStatusResolved}
		l.emit(ctx, &t)
		out = append(out, t)
	}
	if len(out) > 0 {
		l.log.Info("Resolved alerts of retired rule", zap.String("rule_id", ruleID), zap.Int("alerts", len(out)))
	}
	return out, nil
}

// enforceSingleOpen resolves every OPEN alert of the pair but the oldest.
// Only reachable on a database without the partial unique index.
func (l *LifecycleManager) enforceSingleOpen(ctx context.Context, outletID, ruleID string, at time.Time) error {
	open, err := l.store.ListOpenAlertsForPair(ctx, outletID, ruleID)
	if err != nil {
		return err
	}
	if len(open) <= 1 {
		return nil
	}
	l.reportInvariant(outletID, ruleID, len(open))

	for _, dup := range open[1:] {
		endTS := at
		if endTS.Before(dup.StartTS) {
			endTS = dup.StartTS
		}
		resolved, err := l.store.ResolveAlert(ctx, dup.ID, endTS)
		if err != nil {
			return err
		}
		if resolved {
			dup.Status = database.AlertStatusResolved
			dup.EndTS = &endTS
			l.emit(ctx, &Transition{Alert: dup, From: database.AlertStatusOpen, To: database.AlertStatusResolved})
		}
	}
	return nil
}

func (l *LifecycleManager) reportInvariant(outletID, ruleID string, n int) {
	err := apperrors.Invariant("lifecycle", fmt.Sprintf("%d OPEN alerts for one outlet/rule pair", n))
	l.log.Error("Alert invariant violated, resolving duplicates",
		zap.String("outlet_id", outletID),
		zap.String("rule_id", ruleID),
		zap.Int("open_alerts", n),
		zap.Error(err))
}

// emit publishes the transition. Publish failures are logged and never
// undo the state change.
func (l *LifecycleManager) emit(ctx context.Context, t *Transition) {
	l.metrics.AlertTransition(string(t.To))

	at := t.Alert.StartTS
	if t.To == database.AlertStatusResolved && t.Alert.EndTS != nil {
		at = *t.Alert.EndTS
	}
	ev := events.AlertStateChanged{
		AlertID:  t.Alert.ID,
		OutletID: t.Alert.OutletID,
		RuleID:   t.Alert.RuleID,
		SensorID: t.Alert.SensorID,
		Severity: string(t.Alert.Severity),
		Status:   string(t.To),
		Message:  t.Alert.Message,
		At:       at,
	}
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, ev); err != nil {
		l.log.Warn("Failed to publish alert state change",
			zap.String("alert_id", ev.AlertID),
			zap.String("status", ev.Status),
			zap.Error(err))
	}
}

// AlertMessage derives the human-readable message of an alert.
func AlertMessage(rule database.AlertRule, reading database.SensorReading, outlet database.Outlet) string {
	symbol := comparatorSymbols[rule.Comparator]
	if symbol == "" {
		symbol = string(rule.Comparator)
	}
	msg := fmt.Sprintf("%s: %s %s on outlet %d (%s %s)",
		rule.Name,
		reading.SensorType,
		utils.FormatValue(reading.Value, reading.Unit),
		outlet.OutletIndex,
		symbol,
		utils.FormatValue(rule.ThresholdValue, reading.Unit))
	if d := rule.Duration(); d > 0 {
		msg += " for " + utils.FormatDuration(d)
	}
	return utils.TruncateText(msg, maxAlertMessageLength)
}
