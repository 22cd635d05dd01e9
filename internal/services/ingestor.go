package services

import (
	"context"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/metrics"
	"github.com/safestrip/safestrip/internal/ratelimit"
)

// MaxUnitLength bounds the unit string of a reading, in characters.
const MaxUnitLength = 32

// DefaultClockSkew is how far in the future a device timestamp may be.
const DefaultClockSkew = 5 * time.Minute

// RawReading is an inbound measurement before validation.
// SensorID or OutletIndex narrow the reading to one sensor; otherwise every
// active sensor of SensorType on the device is targeted.
type RawReading struct {
	DeviceID    string
	SensorType  string
	Value       float64
	Unit        string
	Raw         map[string]interface{}
	Timestamp   *time.Time
	SensorID    string
	OutletIndex *int
}

// StoredReading is a persisted reading together with what evaluation needs:
// the owning device and the sensors the reading applies to.
type StoredReading struct {
	Reading          database.SensorReading
	Device           database.Device
	Targets          []database.Sensor
	LivenessAdvanced bool
}

// Ingestor validates and persists readings and maintains device liveness.
type Ingestor struct {
	store     *database.Store
	clockSkew time.Duration
	limiter   *ratelimit.Keyed
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewIngestor creates a new Ingestor. A non-positive clockSkew uses DefaultClockSkew.
func NewIngestor(store *database.Store, clockSkew time.Duration, m *metrics.Metrics, log *zap.Logger) *Ingestor {
	if clockSkew <= 0 {
		clockSkew = DefaultClockSkew
	}
	return &Ingestor{
		store:     store,
		clockSkew: clockSkew,
		metrics:   m,
		log:       log.Named("ingestor"),
		now:       time.Now,
	}
}

// WithRateLimiter throttles readings per device.
func (i *Ingestor) WithRateLimiter(l *ratelimit.Keyed) *Ingestor {
	i.limiter = l
	return i
}

// Ingest validates raw, stores it and advances the device's last_seen_at.
// Nothing is written when validation fails.
func (i *Ingestor) Ingest(ctx context.Context, raw RawReading) (*StoredReading, error) {
	stored, err := i.ingest(ctx, raw)
	if err != nil {
		i.metrics.ReadingRejected(apperrors.CodeOf(err))
		if apperrors.Is(err, apperrors.KindStorageUnavailable) || apperrors.Is(err, apperrors.KindInternal) {
			i.log.Error("Failed to ingest reading", zap.String("device_id", raw.DeviceID), zap.Error(err))
		}
		return nil, err
	}
	i.metrics.ReadingIngested(string(stored.Reading.SensorType))
	return stored, nil
}

func (i *Ingestor) ingest(ctx context.Context, raw RawReading) (*StoredReading, error) {
	if _, err := uuid.Parse(raw.DeviceID); err != nil {
		return nil, apperrors.NotFound(apperrors.CodeUnknownDevice, fmt.Sprintf("unknown device %q", raw.DeviceID))
	}
	sensorType, ok := database.ParseSensorType(raw.SensorType)
	if !ok {
		return nil, apperrors.Validation(apperrors.CodeInvalidSensorType, "sensor_type",
			fmt.Sprintf("unsupported sensor_type %q", raw.SensorType))
	}
	if math.IsNaN(raw.Value) || math.IsInf(raw.Value, 0) {
		return nil, apperrors.Validation(apperrors.CodeInvalidValue, "value", "value must be a finite number")
	}
	if utf8.RuneCountInString(raw.Unit) > MaxUnitLength {
		return nil, apperrors.Validation(apperrors.CodeInvalidUnit, "unit",
			fmt.Sprintf("unit must be at most %d characters", MaxUnitLength))
	}

	receivedAt := i.now().UTC()
	createdAt := receivedAt
	if raw.Timestamp != nil {
		ts := raw.Timestamp.UTC()
		if ts.IsZero() {
			return nil, apperrors.Validation(apperrors.CodeInvalidTimestamp, "timestamp", "timestamp must not be zero")
		}
		if ts.After(receivedAt.Add(i.clockSkew)) {
			return nil, apperrors.Validation(apperrors.CodeInvalidTimestamp, "timestamp",
				fmt.Sprintf("timestamp %s is more than %s in the future", ts.Format(time.RFC3339), i.clockSkew))
		}
		createdAt = ts
	}

	device, err := i.store.GetDevice(ctx, raw.DeviceID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.NotFound(apperrors.CodeUnknownDevice, fmt.Sprintf("unknown device %q", raw.DeviceID))
		}
		return nil, err
	}

	if !i.limiter.Allow(device.ID) {
		return nil, apperrors.RateLimited(fmt.Sprintf("too many readings from device %s", device.ID))
	}

	targets, explicit, err := i.resolveTargets(ctx, device.ID, sensorType, raw)
	if err != nil {
		return nil, err
	}

	reading := database.SensorReading{
		DeviceID:   device.ID,
		SensorType: sensorType,
		Value:      raw.Value,
		Unit:       raw.Unit,
		Raw:        database.JSONB(raw.Raw),
		CreatedAt:  createdAt,
		ReceivedAt: receivedAt,
	}
	if explicit {
		reading.SensorID = &targets[0].ID
	}

	advanced, err := i.store.InsertReading(ctx, &reading)
	if err != nil {
		return nil, err
	}
	if advanced {
		device.LastSeenAt = &createdAt
	}

	return &StoredReading{
		Reading:          reading,
		Device:           *device,
		Targets:          targets,
		LivenessAdvanced: advanced,
	}, nil
}

// resolveTargets returns the sensors a reading applies to and whether the
// caller addressed one sensor explicitly.
func (i *Ingestor) resolveTargets(ctx context.Context, deviceID string, sensorType database.SensorType, raw RawReading) ([]database.Sensor, bool, error) {
	unknown := func() error {
		return apperrors.NotFound(apperrors.CodeUnknownSensor,
			fmt.Sprintf("no active %s sensor matches the reading on device %s", sensorType, deviceID))
	}

	switch {
	case raw.SensorID != "":
		if _, err := uuid.Parse(raw.SensorID); err != nil {
			return nil, false, unknown()
		}
		sensor, err := i.store.GetSensor(ctx, raw.SensorID)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				return nil, false, unknown()
			}
			return nil, false, err
		}
		if sensor.DeviceID != deviceID || sensor.SensorType != sensorType || !sensor.IsActive {
			return nil, false, unknown()
		}
		return []database.Sensor{*sensor}, true, nil

	case raw.OutletIndex != nil:
		sensor, err := i.store.FindActiveSensorByOutletIndex(ctx, deviceID, *raw.OutletIndex, sensorType)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotFound) {
				return nil, false, unknown()
			}
			return nil, false, err
		}
		return []database.Sensor{*sensor}, true, nil
	}

	sensors, err := i.store.ListActiveSensors(ctx, deviceID, sensorType)
	if err != nil {
		return nil, false, err
	}
	return sensors, false, nil
}

// Reload rebuilds the evaluation input for a stored reading, used to replay
// evaluation. Sensors are resolved against the current registry.
func (i *Ingestor) Reload(ctx context.Context, readingID string) (*StoredReading, error) {
	if _, err := uuid.Parse(readingID); err != nil {
		return nil, apperrors.NotFound(apperrors.CodeNotFound, fmt.Sprintf("reading %q not found", readingID))
	}
	reading, err := i.store.GetReading(ctx, readingID)
	if err != nil {
		return nil, err
	}
	device, err := i.store.GetDevice(ctx, reading.DeviceID)
	if err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, apperrors.NotFound(apperrors.CodeUnknownDevice, fmt.Sprintf("unknown device %q", reading.DeviceID))
		}
		return nil, err
	}

	var targets []database.Sensor
	if reading.SensorID != nil {
		sensor, err := i.store.GetSensor(ctx, *reading.SensorID)
		if err != nil && !apperrors.Is(err, apperrors.KindNotFound) {
			return nil, err
		}
		if sensor != nil && sensor.IsActive {
			targets = []database.Sensor{*sensor}
		}
	} else {
		targets, err = i.store.ListActiveSensors(ctx, device.ID, reading.SensorType)
		if err != nil {
			return nil, err
		}
	}

	return &StoredReading{Reading: *reading, Device: *device, Targets: targets}, nil
}
