package observability

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AgentLimiterConfig controls the token-bucket shape applied per agent.
// Unlike the webhook ingress's hand-rolled sliding-window limiter (which
// counts discrete provider callbacks), an agent's call pattern is a
// steady stream of API calls a classic token bucket fits well, so this
// one uses golang.org/x/time/rate directly instead of reinventing it.
type AgentLimiterConfig struct {
	RatePerSecond float64
	Burst         int
	IdleTTL       time.Duration
}

// DefaultAgentLimiterConfig matches spec §6's default per-agent ceiling.
var DefaultAgentLimiterConfig = AgentLimiterConfig{RatePerSecond: 5, Burst: 10, IdleTTL: 10 * time.Minute}

type agentBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AgentLimiter enforces a per-agent-ID rate ceiling across the HTTP
// surface, independent of any org-wide or wallet-wide caps the policy
// engine evaluates.
type AgentLimiter struct {
	mu      sync.Mutex
	cfg     AgentLimiterConfig
	buckets map[string]*agentBucket
}

// NewAgentLimiter constructs an AgentLimiter. A zero cfg falls back to
// DefaultAgentLimiterConfig.
func NewAgentLimiter(cfg AgentLimiterConfig) *AgentLimiter {
	if cfg.RatePerSecond <= 0 {
		cfg = DefaultAgentLimiterConfig
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultAgentLimiterConfig.IdleTTL
	}
	return &AgentLimiter{cfg: cfg, buckets: make(map[string]*agentBucket)}
}

// Allow reports whether agentID may proceed now, lazily creating its
// bucket on first use and evicting buckets idle past cfg.IdleTTL.
func (a *AgentLimiter) Allow(agentID string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evictLocked(now)
	b, ok := a.buckets[agentID]
	if !ok {
		b = &agentBucket{limiter: rate.NewLimiter(rate.Limit(a.cfg.RatePerSecond), a.cfg.Burst)}
		a.buckets[agentID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (a *AgentLimiter) evictLocked(now time.Time) {
	for id, b := range a.buckets {
		if now.Sub(b.lastSeen) > a.cfg.IdleTTL {
			delete(a.buckets, id)
		}
	}
}
