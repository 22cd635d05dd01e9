package simulator

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/api"
)

// Profile produces the value of the n-th reading for a sensor type.
type Profile func(n int) float64

// Profiles are the built-in waveforms, keyed by sensor type. Current spikes
// above typical thresholds for a stretch of every cycle so demo rules fire
// and clear; water reports a leak for a few ticks.
var Profiles = map[string]Profile{
	"current": func(n int) float64 {
		if n%20 >= 12 {
			return 14 + rand.Float64()
		}
		return 4 + rand.Float64()*2
	},
	"water": func(n int) float64 {
		if n%15 >= 10 {
			return 1
		}
		return 0
	},
	"temp": func(n int) float64 {
		return 28 + float64(n%30) + rand.Float64()
	},
}

var units = map[string]string{
	"current": "A",
	"water":   "",
	"temp":    "C",
}

// Options configures a simulation run.
type Options struct {
	DeviceID    string
	SensorType  string
	OutletIndex *int
	Interval    time.Duration
	Count       int // 0 runs until ctx is done
}

// Run posts readings at a fixed interval until Count readings were sent or
// ctx is canceled. Rejected readings are logged and the run continues; a
// transport failure after retries ends the run.
func Run(ctx context.Context, c *Client, opts Options, logger *zap.Logger) (int, error) {
	profile, ok := Profiles[opts.SensorType]
	if !ok {
		profile = Profiles["current"]
	}

	sent := 0
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for n := 0; opts.Count == 0 || n < opts.Count; n++ {
		value := profile(n)
		resp, err := c.PostReading(ctx, api.SensorReadingRequest{
			DeviceID:    opts.DeviceID,
			SensorType:  opts.SensorType,
			Value:       &value,
			Unit:        units[opts.SensorType],
			Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
			OutletIndex: opts.OutletIndex,
		})
		switch {
		case ctx.Err() != nil:
			return sent, nil
		case err != nil:
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				return sent, err
			}
			logger.Warn("Reading rejected", zap.Int("n", n), zap.Error(err))
		default:
			sent++
			for _, t := range resp.Transitions {
				logger.Info("Alert transition",
					zap.String("alert_id", t.AlertID),
					zap.String("outlet_id", t.OutletID),
					zap.String("to", t.To))
			}
		}

		if opts.Count != 0 && n+1 >= opts.Count {
			break
		}
		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
	return sent, nil
}
