// Package mqtt ingests sensor readings published by power strips to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/services"
)

// DefaultTopic matches every device's reading topic.
const DefaultTopic = "safestrip/devices/+/readings"

const (
	connectTimeout = 10 * time.Second
	submitTimeout  = 30 * time.Second
	quiesceMillis  = 250
)

// Submitter accepts readings for ingestion and evaluation.
type Submitter interface {
	Submit(ctx context.Context, raw services.RawReading) (*services.IngestOutcome, error)
}

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Consumer subscribes to device reading topics and feeds each message into the pipeline.
type Consumer struct {
	opts      Options
	submitter Submitter
	client    paho.Client
	log       *zap.Logger
}

// NewConsumer creates a consumer. It does not connect until Start.
func NewConsumer(opts Options, submitter Submitter, log *zap.Logger) *Consumer {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ClientID == "" {
		opts.ClientID = "safestrip-ingest"
	}
	return &Consumer{
		opts:      opts,
		submitter: submitter,
		log:       log.Named("mqtt"),
	}
}

// Start connects to the broker and subscribes. Subscriptions are restored
// on every reconnect.
func (c *Consumer) Start() error {
	po := paho.NewClientOptions()
	po.AddBroker(c.opts.Broker)
	po.SetClientID(c.opts.ClientID)
	if c.opts.Username != "" {
		po.SetUsername(c.opts.Username)
	}
	if c.opts.Password != "" {
		po.SetPassword(c.opts.Password)
	}
	po.SetAutoReconnect(true)
	po.SetCleanSession(true)
	po.SetConnectTimeout(connectTimeout)
	po.SetOnConnectHandler(func(client paho.Client) {
		if err := c.subscribe(client); err != nil {
			c.log.Error("MQTT subscribe failed", zap.String("topic", c.opts.Topic), zap.Error(err))
		}
	})
	po.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("MQTT connection lost", zap.Error(err))
	})

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("failed to connect to MQTT broker %s: timed out", c.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", c.opts.Broker, err)
	}

	c.log.Info("MQTT consumer started",
		zap.String("broker", c.opts.Broker),
		zap.String("topic", c.opts.Topic))
	return nil
}

func (c *Consumer) subscribe(client paho.Client) error {
	token := client.Subscribe(c.opts.Topic, c.opts.QoS, c.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.opts.Topic, err)
	}
	return nil
}

func (c *Consumer) onMessage(_ paho.Client, msg paho.Message) {
	if err := c.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
		fields := []zap.Field{
			zap.String("topic", msg.Topic()),
			zap.String("code", apperrors.CodeOf(err)),
			zap.Error(err),
		}
		if apperrors.Is(err, apperrors.KindStorageUnavailable) {
			c.log.Error("MQTT reading not stored", fields...)
		} else {
			c.log.Warn("MQTT reading rejected", fields...)
		}
	}
}

// HandleMessage decodes one payload and submits it. The device id is taken
// from the topic when the payload does not carry one.
func (c *Consumer) HandleMessage(topic string, payload []byte) error {
	var req api.SensorReadingRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return apperrors.Validation("invalid_payload", "", fmt.Sprintf("payload is not valid JSON: %v", err))
	}
	if req.DeviceID == "" {
		req.DeviceID = DeviceIDFromTopic(topic)
	}
	if req.Raw == nil {
		var raw map[string]interface{}
		if err := json.Unmarshal(payload, &raw); err == nil {
			req.Raw = raw
		}
	}
	if errs := api.Validate(req); errs != nil {
		fields := make([]string, 0, len(errs))
		for field := range errs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		return apperrors.Validation("validation_error", fields[0], fields[0]+" "+errs[fields[0]])
	}

	raw, err := req.ToRaw()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	outcome, err := c.submitter.Submit(ctx, raw)
	if err != nil {
		return err
	}
	if outcome.EvaluationError != nil {
		c.log.Warn("Reading stored but evaluation failed",
			zap.String("reading_id", outcome.Stored.Reading.ID),
			zap.Error(outcome.EvaluationError))
	}
	return nil
}

// DeviceIDFromTopic extracts {id} from ".../devices/{id}/readings".
func DeviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "devices" {
			return parts[i+1]
		}
	}
	return ""
}

// Close unsubscribes and disconnects.
func (c *Consumer) Close() {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	c.client.Unsubscribe(c.opts.Topic).WaitTimeout(time.Second)
	c.client.Disconnect(quiesceMillis)
	c.log.Info("MQTT consumer stopped")
}
