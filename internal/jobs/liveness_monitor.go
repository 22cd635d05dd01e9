package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/metrics"
)

// LivenessMonitor moves devices between online and offline based on how
// recently they reported. It only writes devices.status; last_seen_at
// belongs to the ingestor.
type LivenessMonitor struct {
	store     *database.Store
	staleness time.Duration
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewLivenessMonitor creates a new liveness monitor
func NewLivenessMonitor(store *database.Store, staleness time.Duration, m *metrics.Metrics, log *zap.Logger) *LivenessMonitor {
	return &LivenessMonitor{
		store:     store,
		staleness: staleness,
		metrics:   m,
		log:       log.Named("liveness"),
		now:       time.Now,
	}
}

// CheckAndTransition marks devices seen within the staleness window online
// and the rest offline. Devices that never reported stay unknown.
func (m *LivenessMonitor) CheckAndTransition(ctx context.Context) (online, offline int64, err error) {
	cutoff := m.now().UTC().Add(-m.staleness)
	online, offline, err = m.store.UpdateLivenessStatus(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	m.metrics.DeviceStatusChanges(online, offline)
	return online, offline, nil
}

// Start begins the periodic monitoring
func (m *LivenessMonitor) Start(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			online, offline, err := m.CheckAndTransition(context.Background())
			if err != nil {
				m.log.Warn("Liveness monitor error", zap.Error(err))
			} else if online+offline > 0 {
				m.log.Info("Device status changed",
					zap.Int64("online", online),
					zap.Int64("offline", offline))
			}
		case <-stop:
			m.log.Info("Liveness monitor stopped")
			return
		}
	}
}
