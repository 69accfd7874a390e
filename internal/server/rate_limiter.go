// Package server implements a token bucket rate limiter for per-connection
// throttling of inbound frames.
package server

import (
	"sync"
	"time"
)

// tokenBucket refills continuously at capacity tokens per interval.
type tokenBucket struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	perSecond float64
	last      time.Time
	now       func() time.Time
}

func newTokenBucket(cfg RateLimitConfig, now func() time.Time) *tokenBucket {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if now == nil {
		now = time.Now
	}

	return &tokenBucket{
		tokens:    float64(cfg.Burst),
		capacity:  float64(cfg.Burst),
		perSecond: float64(cfg.Burst) / cfg.RefillInterval.Seconds(),
		last:      now(),
		now:       now,
	}
}

// Allow takes one token, reporting false when the bucket is empty.
func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.now()
	if elapsed := t.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.perSecond)
	}
	b.last = t

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
