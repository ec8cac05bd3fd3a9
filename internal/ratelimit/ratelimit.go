// Package ratelimit implements the supplementary token-bucket limiter
// guarding outbound MCP dispatch and model-stream restarts (§1B/§3A),
// grounded on original_source/swissarmyhammer-common/src/rate_limiter.rs's
// hand-rolled token-bucket algorithm rather than a generic library.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of consulting the limiter for a key.
type Decision struct {
	Key        string
	Allowed    bool
	RetryAfter time.Duration
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Config configures the limiter's refill rate and burst capacity.
type Config struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// Limiter is a per-key token bucket, keyed by (session, tool_name) for C7's
// dispatch check and by session for C8's generation-restart check.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New constructs a Limiter from cfg. A disabled limiter always allows.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket), now: time.Now}
}

// Allow consults the bucket for key, refilling it for elapsed time since
// the last call, and consumes one token if available.
func (l *Limiter) Allow(key string) Decision {
	return l.AllowN(key, 1)
}

// AllowN is Allow for operations priced above the default one-token cost,
// mirroring the "cost" parameter on original_source's token-bucket check:
// a terminal spawn or an outbound MCP round trip is priced heavier than a
// file read so a handful of expensive calls can't starve the bucket for
// everything else sharing the same key.
func (l *Limiter) AllowN(key string, cost int) Decision {
	if !l.cfg.Enabled {
		return Decision{Key: key, Allowed: true}
	}
	if cost < 1 {
		cost = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * l.cfg.RequestsPerSecond
	if b.tokens > float64(l.cfg.Burst) {
		b.tokens = float64(l.cfg.Burst)
	}
	b.lastRefill = now

	need := float64(cost)
	if b.tokens >= need {
		b.tokens -= need
		return Decision{Key: key, Allowed: true}
	}

	deficit := need - b.tokens
	retryAfter := time.Duration(deficit/l.cfg.RequestsPerSecond*1000) * time.Millisecond
	return Decision{Key: key, Allowed: false, RetryAfter: retryAfter}
}
