// Package events carries AlertStateChanged notifications from the alert
// lifecycle manager to outbound sinks.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AlertStateChanged is emitted on every real alert transition.
type AlertStateChanged struct {
	AlertID  string    `json:"alert_id"`
	OutletID string    `json:"outlet_id"`
	RuleID   string    `json:"rule_id"`
	SensorID string    `json:"sensor_id,omitempty"`
	Severity string    `json:"severity"`
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// Key groups events of one (outlet, rule) pair for ordered delivery.
func (e AlertStateChanged) Key() string {
	return e.OutletID + ":" + e.RuleID
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev AlertStateChanged) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev AlertStateChanged) error

func (f PublisherFunc) Publish(ctx context.Context, ev AlertStateChanged) error {
	return f(ctx, ev)
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Multi fans an event out to every registered sink. A failing sink does not
// stop delivery to the others; its error comes back prefixed with the sink
// name and the caller decides how to log it.
type Multi struct {
	publishers []namedPublisher
}

// NewMulti creates an empty fan-out publisher.
func NewMulti() *Multi {
	return &Multi{}
}

// Add registers a sink under name. Not safe to call concurrently with Publish.
func (m *Multi) Add(name string, p Publisher) *Multi {
	if p != nil {
		m.publishers = append(m.publishers, namedPublisher{name: name, pub: p})
	}
	return m
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int {
	return len(m.publishers)
}

func (m *Multi) Publish(ctx context.Context, ev AlertStateChanged) error {
	var errs []error
	for _, np := range m.publishers {
		if err := np.pub.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", np.name, err))
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("alert_events")}
}

func (p *LogPublisher) Publish(_ context.Context, ev AlertStateChanged) error {
	p.log.Info("Alert state changed",
		zap.String("alert_id", ev.AlertID),
		zap.String("outlet_id", ev.OutletID),
		zap.String("rule_id", ev.RuleID),
		zap.String("severity", ev.Severity),
		zap.String("status", ev.Status),
		zap.Time("at", ev.At))
	return nil
}
