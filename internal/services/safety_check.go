package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/metrics"
	"github.com/safestrip/safestrip/internal/utils"
)

// DefaultStaleness is how long a device may stay silent before its outlets WARN.
const DefaultStaleness = 10 * time.Minute

// SafetyCheckReport is a check with its per-outlet items.
type SafetyCheckReport struct {
	Check database.SafetyCheck       `json:"check"`
	Items []database.SafetyCheckItem `json:"items"`
}

// SafetyCheckService aggregates outlet and alert state into PASS/WARN/FAIL snapshots.
type SafetyCheckService struct {
	store     *database.Store
	staleness time.Duration
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewSafetyCheckService(store *database.Store, staleness time.Duration, m *metrics.Metrics, log *zap.Logger) *SafetyCheckService {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &SafetyCheckService{
		store:     store,
		staleness: staleness,
		metrics:   m,
		log:       log.Named("safety_check"),
		now:       time.Now,
	}
}

func locationNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeLocationNotFound, fmt.Sprintf("location %q not found", id))
}

// RunCheck evaluates every outlet of every device at the location and
// persists the check with its items in one transaction.
func (s *SafetyCheckService) RunCheck(ctx context.Context, locationID string) (*SafetyCheckReport, error) {
	if _, err := uuid.Parse(locationID); err != nil {
		return nil, locationNotFound(locationID)
	}
	if _, err := s.store.GetWorkspace(ctx, locationID); err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, locationNotFound(locationID)
		}
		return nil, err
	}

	tree, err := s.store.GetDevicesAndOutlets(ctx, locationID)
	if err != nil {
		return nil, err
	}

	var outletIDs []string
	for _, d := range tree {
		for _, o := range d.Outlets {
			outletIDs = append(outletIDs, o.ID)
		}
	}
	openCounts, err := s.store.CountOpenAlertsByOutlet(ctx, outletIDs)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	overall := database.CheckStatusPass
	items := make([]database.SafetyCheckItem, 0, len(outletIDs))
	for _, d := range tree {
		for _, o := range d.Outlets {
			item := s.classify(d.Device, o, openCounts[o.ID], now)
			if item.Status.Rank() > overall.Rank() {
				overall = item.Status
			}
			items = append(items, item)
		}
	}

	check := database.SafetyCheck{
		WorkspaceID:      locationID,
		OverallStatus:    overall,
		StalenessSeconds: int(s.staleness / time.Second),
		CheckedAt:        now,
	}
	if err := s.store.CreateSafetyCheck(ctx, &check, items); err != nil {
		return nil, err
	}

	s.metrics.SafetyCheck(string(overall))
	s.log.Info("Safety check completed",
		zap.String("workspace_id", locationID),
		zap.String("check_id", check.ID),
		zap.String("overall_status", string(overall)),
		zap.Int("outlets", len(items)))
	return &SafetyCheckReport{Check: check, Items: items}, nil
}

// classify decides one outlet's item: FAIL on open alerts, WARN on a silent
// device, PASS otherwise.
func (s *SafetyCheckService) classify(device database.Device, outlet database.Outlet, openAlerts int64, now time.Time) database.SafetyCheckItem {
	item := database.SafetyCheckItem{
		DeviceID:       device.ID,
		OutletID:       outlet.ID,
		OutletIndex:    outlet.OutletIndex,
		OpenAlertCount: openAlerts,
	}
	switch {
	case openAlerts > 0:
		item.Status = database.CheckStatusFail
		item.Reason = utils.Pluralize(openAlerts, "open alert")
	case device.LastSeenAt == nil:
		item.Status = database.CheckStatusWarn
		item.Reason = "device has never reported"
	case now.Sub(*device.LastSeenAt) > s.staleness:
		item.Status = database.CheckStatusWarn
		item.Reason = "device last seen " + utils.FormatDuration(now.Sub(*device.LastSeenAt)) + " ago"
	default:
		item.Status = database.CheckStatusPass
		item.Reason = "ok"
	}
	return item
}

// GetCheck returns a stored check with its items.
func (s *SafetyCheckService) GetCheck(ctx context.Context, id string) (*SafetyCheckReport, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound(apperrors.CodeNotFound, fmt.Sprintf("safety check %q not found", id))
	}
	check, items, err := s.store.GetSafetyCheck(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SafetyCheckReport{Check: *check, Items: items}, nil
}

// ListChecks returns a location's checks, newest first.
func (s *SafetyCheckService) ListChecks(ctx context.Context, locationID string, page database.Page) ([]database.SafetyCheck, int64, error) {
	if _, err := uuid.Parse(locationID); err != nil {
		return nil, 0, locationNotFound(locationID)
	}
	if _, err := s.store.GetWorkspace(ctx, locationID); err != nil {
		if apperrors.Is(err, apperrors.KindNotFound) {
			return nil, 0, locationNotFound(locationID)
		}
		return nil, 0, err
	}
	return s.store.ListSafetyChecks(ctx, locationID, page)
}
