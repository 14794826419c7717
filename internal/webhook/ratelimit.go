package webhook

import (
	"sync"
	"time"
)

// RateLimiterOption configures a RateLimiter via functional options,
// matching the teacher's services/webhook/worker.go construction style.
type RateLimiterOption func(*RateLimiter)

// WithRateWindow sets the sliding window duration. Default 1 minute.
func WithRateWindow(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) { r.window = d }
}

// WithRateTTL sets how long an idle provider bucket is retained before
// eviction. Default 10 minutes.
func WithRateTTL(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) { r.ttl = d }
}

// WithRateCap sets the maximum admissions per window per provider.
// Default 120.
func WithRateCap(cap int) RateLimiterOption {
	return func(r *RateLimiter) { r.cap = cap }
}

type bucket struct {
	hits     []time.Time
	lastSeen time.Time
}

// RateLimiter is a per-provider sliding-window admission gate applied
// ahead of HMAC verification, so an attacker flooding an endpoint cannot
// burn CPU on signature checks beyond the configured cap.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	ttl     time.Duration
	cap     int
	buckets map[string]*bucket
}

// NewRateLimiter constructs a RateLimiter with sensible defaults,
// overridable via options.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		window:  time.Minute,
		ttl:     10 * time.Minute,
		cap:     120,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow reports whether provider may admit one more event at now,
// recording the hit if so. It also opportunistically evicts buckets idle
// longer than ttl.
func (r *RateLimiter) Allow(provider string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked(now)

	b, ok := r.buckets[provider]
	if !ok {
		b = &bucket{}
		r.buckets[provider] = b
	}
	b.lastSeen = now

	cutoff := now.Add(-r.window)
	kept := b.hits[:0]
	for _, t := range b.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.hits = kept

	if len(b.hits) >= r.cap {
		return false
	}
	b.hits = append(b.hits, now)
	return true
}

func (r *RateLimiter) evictLocked(now time.Time) {
	for provider, b := range r.buckets {
		if now.Sub(b.lastSeen) > r.ttl {
			delete(r.buckets, provider)
		}
	}
}
