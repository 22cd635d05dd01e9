package services

import (
	"context"
	"time"

	"github.com/safestrip/safestrip/internal/cache"
	"github.com/safestrip/safestrip/internal/database"
	"github.com/safestrip/safestrip/internal/metrics"
)

// RuleSource returns the enabled rules that apply to one sensor.
type RuleSource interface {
	GetEnabledRulesForSensor(ctx context.Context, scope database.RuleScope) ([]database.AlertRule, error)
}

// CachedRuleSource memoizes rule lookups for a short TTL. Any rule write
// must call Invalidate.
type CachedRuleSource struct {
	source  RuleSource
	cache   *cache.Cache[[]database.AlertRule]
	metrics *metrics.Metrics
}

func NewCachedRuleSource(source RuleSource, ttl time.Duration, m *metrics.Metrics) *CachedRuleSource {
	return &CachedRuleSource{
		source:  source,
		cache:   cache.New[[]database.AlertRule](ttl, time.Minute),
		metrics: m,
	}
}

func (c *CachedRuleSource) GetEnabledRulesForSensor(ctx context.Context, scope database.RuleScope) ([]database.AlertRule, error) {
	key := scope.SensorID + "|" + string(scope.SensorType) + "|" + scope.DeviceID + "|" + scope.WorkspaceID
	rules, hit, err := c.cache.GetOrLoad(key, func() ([]database.AlertRule, error) {
		return c.source.GetEnabledRulesForSensor(ctx, scope)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		c.metrics.CacheHit()
	} else {
		c.metrics.CacheMiss()
	}
	return rules, nil
}

// Invalidate drops every cached lookup.
func (c *CachedRuleSource) Invalidate() {
	c.cache.Clear()
}

// Stop ends the cache's cleanup goroutine.
func (c *CachedRuleSource) Stop() {
	c.cache.Stop()
}
