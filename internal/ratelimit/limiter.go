// Package ratelimit implements per-key token buckets used to throttle
// readings from a single device.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is one token bucket; callers hold Keyed.mu
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func (b *bucket) refill(now time.Time, rate, max float64) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * rate
		if b.tokens > max {
			b.tokens = max
		}
	}
	b.lastRefill = now
}

// Keyed holds an independent token bucket per key. Buckets idle long enough
// to be full again are evicted on the next sweep.
type Keyed struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	refillRate float64 // tokens per second
	maxTokens  float64
	now        func() time.Time
	lastSweep  time.Time
}

// NewKeyed creates a limiter allowing ratePerSecond per key with the given
// burst. A non-positive rate disables limiting.
func NewKeyed(ratePerSecond float64, burstCapacity int) *Keyed {
	if burstCapacity < 1 {
		burstCapacity = 1
	}
	return &Keyed{
		buckets:    make(map[string]*bucket),
		refillRate: ratePerSecond,
		maxTokens:  float64(burstCapacity),
		now:        time.Now,
	}
}

// Enabled reports whether the limiter throttles anything.
func (k *Keyed) Enabled() bool {
	return k != nil && k.refillRate > 0
}

// Allow consumes a token for key if one is available.
func (k *Keyed) Allow(key string) bool {
	if !k.Enabled() {
		return true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.sweep(now)

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{tokens: k.maxTokens, lastRefill: now}
		k.buckets[key] = b
	}
	b.refill(now, k.refillRate, k.maxTokens)

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the approximate tokens left for key.
func (k *Keyed) Tokens(key string) float64 {
	if !k.Enabled() {
		return 0
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.buckets[key]
	if !ok {
		return k.maxTokens
	}
	b.refill(k.now(), k.refillRate, k.maxTokens)
	return b.tokens
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// sweep drops buckets that would be full again, at most once per refill window.
func (k *Keyed) sweep(now time.Time) {
	window := time.Duration(k.maxTokens / k.refillRate * float64(time.Second))
	if now.Sub(k.lastSweep) < window {
		return
	}
	k.lastSweep = now
	for key, b := range k.buckets {
		if now.Sub(b.lastRefill) >= window {
			delete(k.buckets, key)
		}
	}
}
