package services

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/metrics"
)

// eqTolerance is the absolute tolerance of the eq comparator.
const eqTolerance = 1e-9

// DecisionKind is what the lifecycle manager must do for one (outlet, rule) pair.
type DecisionKind string

const (
	DecisionFire    DecisionKind = "fire"
	DecisionSustain DecisionKind = "sustain"
	DecisionClear   DecisionKind = "clear"
)

// RuleDecision is the evaluator's output for one rule against one reading.
// OpenAlert is set for Sustain and Clear.
type RuleDecision struct {
	Kind      DecisionKind
	Rule      database.AlertRule
	Sensor    database.Sensor
	Outlet    database.Outlet
	Reading   database.SensorReading
	OpenAlert *database.Alert
}

// Compare reports whether value breaches threshold under comparator c.
func Compare(c database.Comparator, value, threshold float64) (bool, error) {
	switch c {
	case database.ComparatorGT:
		return value > threshold, nil
	case database.ComparatorGTE:
		return value >= threshold, nil
	case database.ComparatorLT:
		return value < threshold, nil
	case database.ComparatorLTE:
		return value <= threshold, nil
	case database.ComparatorEQ:
		return math.Abs(value-threshold) <= eqTolerance, nil
	}
	return false, apperrors.Validation(apperrors.CodeInvalidComparator, "comparator",
		fmt.Sprintf("unknown comparator %q", c))
}

// Evaluator turns a stored reading into rule decisions.
type Evaluator struct {
	store    *database.Store
	rules    RuleSource
	breaches BreachTracker
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewEvaluator(store *database.Store, rules RuleSource, breaches BreachTracker, m *metrics.Metrics, log *zap.Logger) *Evaluator {
	return &Evaluator{
		store:    store,
		rules:    rules,
		breaches: breaches,
		metrics:  m,
		log:      log.Named("evaluator"),
	}
}

// Evaluate checks every candidate rule of every target sensor. A failure on
// one rule does not stop the others; decisions gathered so far are returned
// with the joined errors.
func (e *Evaluator) Evaluate(ctx context.Context, stored *StoredReading) ([]RuleDecision, error) {
	var (
		decisions []RuleDecision
		errs      []error
	)

	for _, sensor := range stored.Targets {
		outlet, err := e.store.GetOutlet(ctx, sensor.OutletID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				e.log.Warn("Sensor references a missing outlet",
					zap.String("sensor_id", sensor.ID), zap.String("outlet_id", sensor.OutletID))
				continue
			}
			errs = append(errs, err)
			continue
		}

		rules, err := e.rules.GetEnabledRulesForSensor(ctx, database.RuleScope{
			SensorID:    sensor.ID,
			SensorType:  sensor.SensorType,
			DeviceID:    stored.Device.ID,
			WorkspaceID: stored.Device.WorkspaceID,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, rule := range rules {
			d, err := e.evaluateRule(ctx, stored.Reading, sensor, *outlet, rule)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if d != nil {
				e.metrics.Decision(string(d.Kind))
				decisions = append(decisions, *d)
			}
		}
	}
	return decisions, errors.Join(errs...)
}

func (e *Evaluator) evaluateRule(ctx context.Context, reading database.SensorReading, sensor database.Sensor, outlet database.Outlet, rule database.AlertRule) (*RuleDecision, error) {
	breach, err := Compare(rule.Comparator, reading.Value, rule.ThresholdValue)
	if err != nil {
		e.log.Warn("Skipping rule with invalid comparator",
			zap.String("rule_id", rule.ID), zap.String("comparator", string(rule.Comparator)))
		return nil, nil
	}

	outcome, err := e.breaches.Observe(ctx, BreachObservation{
		OutletID: outlet.ID,
		RuleID:   rule.ID,
		At:       reading.CreatedAt,
		Breach:   breach,
		Duration: rule.Duration(),
	})
	if err != nil {
		return nil, err
	}
	if outcome == BreachStale || outcome == BreachPending {
		e.log.Debug("No decision",
			zap.String("reading_id", reading.ID),
			zap.String("rule_id", rule.ID),
			zap.Stringer("outcome", outcome))
		return nil, nil
	}

	open, err := e.store.GetOpenAlert(ctx, outlet.ID, rule.ID)
	if err != nil {
		return nil, err
	}

	d := &RuleDecision{Rule: rule, Sensor: sensor, Outlet: outlet, Reading: reading, OpenAlert: open}
	switch {
	case outcome == BreachCleared && open != nil:
		d.Kind = DecisionClear
	case outcome == BreachConfirmed && outlet.Enabled && open != nil:
		d.Kind = DecisionSustain
	case outcome == BreachConfirmed && outlet.Enabled:
		d.Kind = DecisionFire
	default:
		return nil, nil
	}
	return d, nil
}
