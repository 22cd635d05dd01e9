package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/safestrip/safestrip/internal/apperrors"
)

const (
	breachKeyPrefix = "safestrip:breach:"
	// breachKeyTTL expires timers of pairs that stopped reporting.
	breachKeyTTL = 7 * 24 * time.Hour
)

// RedisBreachTracker keeps timers in Redis, one JSON value per pair, updated
// under WATCH/MULTI so concurrent evaluators cannot interleave.
type RedisBreachTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBreachTracker(client *redis.Client) *RedisBreachTracker {
	return &RedisBreachTracker{client: client, ttl: breachKeyTTL}
}

func (t *RedisBreachTracker) key(outletID, ruleID string) string {
	return breachKeyPrefix + outletID + ":" + ruleID
}

func (t *RedisBreachTracker) Observe(ctx context.Context, obs BreachObservation) (BreachOutcome, error) {
	obs.At = obs.At.UTC()
	key := t.key(obs.OutletID, obs.RuleID)

	var outcome BreachOutcome
	txf := func(tx *redis.Tx) error {
		var cur *breachTimer
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored breachTimer
			if err := json.Unmarshal(raw, &stored); err != nil {
				return apperrors.Internal("breach.Observe", fmt.Errorf("corrupt breach state %s: %w", key, err))
			}
			cur = &stored
		}

		var next breachTimer
		next, outcome = advanceTimer(cur, obs)
		if outcome == BreachStale || (cur != nil && next.equal(*cur)) {
			return nil
		}

		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, t.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxBreachCASAttempts; attempt++ {
		err := t.client.Watch(ctx, txf, key)
		if err == nil {
			return outcome, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return BreachStale, err
		}
		return BreachStale, apperrors.StorageUnavailable("breach.Observe", err)
	}
	return BreachStale, apperrors.Conflict("breach.Observe", "breach state kept changing under concurrent writers")
}

// ResetRule deletes every timer key of the rule.
func (t *RedisBreachTracker) ResetRule(ctx context.Context, ruleID string) error {
	var keys []string
	iter := t.client.Scan(ctx, 0, breachKeyPrefix+"*:"+ruleID, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return apperrors.StorageUnavailable("breach.ResetRule", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := t.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.StorageUnavailable("breach.ResetRule", err)
	}
	return nil
}
