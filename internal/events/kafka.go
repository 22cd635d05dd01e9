package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultKafkaPublishTimeout bounds one synchronous write so a slow or
// unreachable cluster cannot stall the transition that emitted the event.
const DefaultKafkaPublishTimeout = 2 * time.Second

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by (outlet, rule), so
// one pair's transitions land on one partition in order.
type KafkaPublisher struct {
	topic   string
	writer  kafkaMessageWriter
	timeout time.Duration
}

// NewKafkaPublisher builds a synchronous kafka-go writer for topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           DefaultKafkaPublishTimeout,
		MaxAttempts:            3,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisherWithWriter(topic, w), nil
}

func newKafkaPublisherWithWriter(topic string, w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, writer: w, timeout: DefaultKafkaPublishTimeout}
}

// WithTimeout overrides the per-publish deadline. Non-positive values are ignored.
func (p *KafkaPublisher) WithTimeout(d time.Duration) *KafkaPublisher {
	if d > 0 {
		p.timeout = d
	}
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev AlertStateChanged) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Key()),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("alert_state_changed")},
			{Key: "status", Value: []byte(ev.Status)},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
