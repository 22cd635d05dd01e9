package api

import (
	"fmt"
	"time"

	"github.com/safestrip/safestrip/internal/apperrors"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/services"
)

// ToRaw converts the request into the ingestor's input. A non-empty
// timestamp must be RFC 3339.
func (r SensorReadingRequest) ToRaw() (services.RawReading, error) {
	raw := services.RawReading{
		DeviceID:    r.DeviceID,
		SensorType:  r.SensorType,
		Unit:        r.Unit,
		Raw:         r.Raw,
		SensorID:    r.SensorID,
		OutletIndex: r.OutletIndex,
	}
	if r.Value != nil {
		raw.Value = *r.Value
	}
	if r.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil {
			return raw, apperrors.Validation(apperrors.CodeInvalidTimestamp, "timestamp",
				fmt.Sprintf("timestamp must be RFC 3339, got %q", r.Timestamp))
		}
		raw.Timestamp = &ts
	}
	return raw, nil
}

// TransitionsToResponse converts lifecycle transitions to their wire form.
// The result is never nil.
func TransitionsToResponse(ts []services.Transition) []TransitionResponse {
	out := make([]TransitionResponse, len(ts))
	for i, t := range ts {
		out[i] = TransitionResponse{
			AlertID:  t.Alert.ID,
			OutletID: t.Alert.OutletID,
			RuleID:   t.Alert.RuleID,
			From:     string(t.From),
			To:       string(t.To),
		}
	}
	return out
}

// IngestOutcomeToResponse converts a pipeline outcome to an IngestResponse.
func IngestOutcomeToResponse(o *services.IngestOutcome) IngestResponse {
	resp := IngestResponse{
		Reading:     o.Stored.Reading,
		Queued:      o.Queued,
		Decisions:   o.Decisions,
		Transitions: TransitionsToResponse(o.Transitions),
	}
	if o.EvaluationError != nil {
		resp.EvaluationError = o.EvaluationError.Error()
	}
	return resp
}

// SafetyCheckToResponse converts a report, counting items per status.
func SafetyCheckToResponse(r *services.SafetyCheckReport) SafetyCheckResponse {
	items := r.Items
	if items == nil {
		items = []database.SafetyCheckItem{}
	}
	counts := map[string]int{
		string(database.CheckStatusPass): 0,
		string(database.CheckStatusWarn): 0,
		string(database.CheckStatusFail): 0,
	}
	for _, it := range items {
		counts[string(it.Status)]++
	}
	return SafetyCheckResponse{SafetyCheck: r.Check, Counts: counts, Items: items}
}
