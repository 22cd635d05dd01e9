package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleEvent() AlertStateChanged {
	return AlertStateChanged{
		AlertID:  "alert-1",
		OutletID: "outlet-1",
		RuleID:   "rule-1",
		Severity: "critical",
		Status:   "OPEN",
		At:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	var got []string
	boom := errors.New("sink down")

	m := NewMulti().
		Add("first", PublisherFunc(func(ctx context.Context, ev AlertStateChanged) error {
			got = append(got, "first:"+ev.AlertID)
			return nil
		})).
		Add("broken", PublisherFunc(func(ctx context.Context, ev AlertStateChanged) error {
			return boom
		})).
		Add("last", PublisherFunc(func(ctx context.Context, ev AlertStateChanged) error {
			got = append(got, "last:"+ev.AlertID)
			return nil
		})).
		Add("nil", nil)

	err := m.Publish(context.Background(), sampleEvent())

	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "broken: sink down")
	assert.Equal(t, []string{"first:alert-1", "last:alert-1"}, got)
	assert.Equal(t, 3, m.Len())
}

func TestMulti_Empty(t *testing.T) {
	assert.NoError(t, NewMulti().Publish(context.Background(), sampleEvent()))
}

func TestLogPublisher(t *testing.T) {
	assert.NoError(t, NewLogPublisher(zap.NewNop()).Publish(context.Background(), sampleEvent()))
}

func TestRedisStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := NewRedisStreamPublisher(client, "safestrip:alerts")
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	msgs, err := client.XRange(context.Background(), "safestrip:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alert-1", msgs[0].Values["alert_id"])
	assert.Equal(t, "OPEN", msgs[0].Values["status"])

	var decoded AlertStateChanged
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded))
	assert.Equal(t, sampleEvent(), decoded)
}

func TestRedisStreamPublisher_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisStreamPublisher(client, "s").Publish(context.Background(), sampleEvent())
	assert.Error(t, err)
}

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_KeysByPair(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisherWithWriter("safestrip.alerts", w)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "outlet-1:rule-1", string(w.msgs[0].Key))

	var decoded AlertStateChanged
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "OPEN", decoded.Status)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := newKafkaPublisherWithWriter("safestrip.alerts", w)

	err := p.Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "leader not available")
}

type stalledWriter struct{}

func (stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledWriter) Close() error { return nil }

func TestKafkaPublisher_TimesOutStalledWrite(t *testing.T) {
	p := newKafkaPublisherWithWriter("safestrip.alerts", stalledWriter{}).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	err := p.Publish(context.Background(), sampleEvent())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestKafkaPublisher_DefaultTimeout(t *testing.T) {
	p := newKafkaPublisherWithWriter("safestrip.alerts", &recordingWriter{}).WithTimeout(0)
	assert.Equal(t, DefaultKafkaPublishTimeout, p.timeout)
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic")
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"kafka:9092"}, " ")
	assert.Error(t, err)

	p, err := NewKafkaPublisher([]string{"kafka:9092"}, "safestrip.alerts")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
