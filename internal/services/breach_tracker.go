package services

import (
	"context"
	"time"

	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/database"
)

// maxBreachCASAttempts bounds optimistic-concurrency retries per observation.
const maxBreachCASAttempts = 5

// BreachOutcome is what one observation means for the duration gate.
type BreachOutcome int

const (
	// BreachStale: the reading is older than the last one applied; ignored.
	BreachStale BreachOutcome = iota
	// BreachCleared: the reading does not breach; the timer is reset.
	BreachCleared
	// BreachPending: breaching, but not yet for the rule's duration.
	BreachPending
	// BreachConfirmed: breaching continuously for at least the rule's duration.
	BreachConfirmed
)

func (o BreachOutcome) String() string {
	switch o {
	case BreachStale:
		return "stale"
	case BreachCleared:
		return "cleared"
	case BreachPending:
		return "pending"
	case BreachConfirmed:
		return "confirmed"
	}
	return "unknown"
}

// BreachObservation is one reading's verdict for an (outlet, rule) pair.
type BreachObservation struct {
	OutletID string
	RuleID   string
	At       time.Time
	Breach   bool
	Duration time.Duration
}

// BreachTracker keeps the per-(outlet, rule) breach timer.
type BreachTracker interface {
	Observe(ctx context.Context, obs BreachObservation) (BreachOutcome, error)
	// ResetRule drops the timers of every pair of a rule, so the next
	// breach starts a fresh duration window.
	ResetRule(ctx context.Context, ruleID string) error
}

// breachTimer is the tracked state of one pair.
type breachTimer struct {
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastObservedAt time.Time  `json:"last_observed_at"`
}

func (t breachTimer) equal(o breachTimer) bool {
	if !t.LastObservedAt.Equal(o.LastObservedAt) {
		return false
	}
	if t.StartedAt == nil || o.StartedAt == nil {
		return t.StartedAt == nil && o.StartedAt == nil
	}
	return t.StartedAt.Equal(*o.StartedAt)
}

// advanceTimer applies obs to the current timer (nil when the pair has none).
// A reading at exactly the last observed time is applied again, so replays
// reproduce the same outcome without changing the timer.
func advanceTimer(cur *breachTimer, obs BreachObservation) (breachTimer, BreachOutcome) {
	if cur != nil && obs.At.Before(cur.LastObservedAt) {
		return *cur, BreachStale
	}

	next := breachTimer{LastObservedAt: obs.At}
	if !obs.Breach {
		return next, BreachCleared
	}

	started := obs.At
	if cur != nil && cur.StartedAt != nil {
		started = *cur.StartedAt
	}
	next.StartedAt = &started
	if obs.At.Sub(started) >= obs.Duration {
		return next, BreachConfirmed
	}
	return next, BreachPending
}

// DBBreachTracker keeps timers in the breach_states table and updates them
// with compare-and-swap on the row version.
type DBBreachTracker struct {
	store *database.Store
}

func NewDBBreachTracker(store *database.Store) *DBBreachTracker {
	return &DBBreachTracker{store: store}
}

func (t *DBBreachTracker) ResetRule(ctx context.Context, ruleID string) error {
	_, err := t.store.DeleteBreachStatesForRule(ctx, ruleID)
	return err
}

func (t *DBBreachTracker) Observe(ctx context.Context, obs BreachObservation) (BreachOutcome, error) {
	at := obs.At.UTC()
	obs.At = at

	for attempt := 0; attempt < maxBreachCASAttempts; attempt++ {
		row, err := t.store.GetBreachState(ctx, obs.OutletID, obs.RuleID)
		if err != nil {
			return BreachStale, err
		}

		if row == nil {
			next, outcome := advanceTimer(nil, obs)
			inserted, err := t.store.InsertBreachState(ctx, &database.BreachState{
				OutletID:        obs.OutletID,
				RuleID:          obs.RuleID,
				BreachStartedAt: next.StartedAt,
				LastObservedAt:  next.LastObservedAt,
			})
			if err != nil {
				return BreachStale, err
			}
			if inserted {
				return outcome, nil
			}
			continue
		}

		cur := breachTimer{StartedAt: row.BreachStartedAt, LastObservedAt: row.LastObservedAt}
		next, outcome := advanceTimer(&cur, obs)
		if outcome == BreachStale || next.equal(cur) {
			return outcome, nil
		}

		row.BreachStartedAt = next.StartedAt
		row.LastObservedAt = next.LastObservedAt
		swapped, err := t.store.CompareAndSwapBreachState(ctx, row)
		if err != nil {
			return BreachStale, err
		}
		if swapped {
			return outcome, nil
		}
	}
	return BreachStale, apperrors.Conflict("breach.Observe", "breach state kept changing under concurrent writers")
}
