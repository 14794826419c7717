// Package provider implements the Provider Adapter Framework (C6): a
// uniform adapter interface, a capability matrix resolving (org, rail,
// currency) to a primary and ordered fallback list, and a per-adapter
// circuit breaker. Adapter shapes are grounded on the teacher's
// services/payments-gateway, services/escrow-gateway HTTP clients and
// services/otc-gateway/hsm.Client mTLS signer; the breaker itself is
// adopted from the wider example pack via github.com/sony/gobreaker,
// since the teacher ships no circuit breaker of its own.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ResultKind is the closed outcome set a submit call may return.
type ResultKind string

const (
	ResultAccepted  ResultKind = "accepted"
	ResultRetryable ResultKind = "retryable"
	ResultFatal     ResultKind = "fatal"
)

// SubmitRequest is the uniform dispatch payload every adapter accepts.
type SubmitRequest struct {
	PaymentID    string
	Rail         string
	Direction    string
	AmountMinor  string
	Currency     string
	Destination  string
	IdempotencyKey string
}

// SubmitResult is the uniform dispatch outcome.
type SubmitResult struct {
	Kind            ResultKind
	ProviderRef     string
	DeclineReason   string
}

// Adapter is the uniform interface every rail-specific provider client
// implements.
type Adapter interface {
	Name() string
	Supports(rail, direction, currency string) bool
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	Status(ctx context.Context, providerRef string) (SubmitResult, error)
	Void(ctx context.Context, providerRef string) error
}

// ErrAllFailed is returned when every adapter in the fallback chain has
// been exhausted, surfacing as PROVIDER.ALL_FAILED per spec §7.
var ErrAllFailed = errors.New("provider: all adapters failed")

// BreakerConfig mirrors spec §4.6's circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	HalfOpenProbes   uint32
}

// GuardedAdapter wraps an Adapter with a gobreaker.CircuitBreaker so a
// sustained-failure adapter trips to open and is skipped by the fallback
// walk until its cooldown elapses and probes succeed.
type GuardedAdapter struct {
	Adapter
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedAdapter wraps adapter with a circuit breaker configured per
// cfg.
func NewGuardedAdapter(adapter Adapter, cfg BreakerConfig) *GuardedAdapter {
	settings := gobreaker.Settings{
		Name:        adapter.Name(),
		MaxRequests: cfg.HalfOpenProbes,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &GuardedAdapter{Adapter: adapter, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Open reports whether the breaker currently refuses new submissions.
func (g *GuardedAdapter) Open() bool {
	return g.breaker.State() == gobreaker.StateOpen
}

// Submit runs the wrapped adapter's Submit through the circuit breaker.
// A Fatal result is NOT counted as a breaker failure (a fatal decline is
// a correct, deterministic outcome, not an adapter malfunction); only
// transport errors and Retryable results count toward tripping.
func (g *GuardedAdapter) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	out, err := g.breaker.Execute(func() (any, error) {
		res, err := g.Adapter.Submit(ctx, req)
		if err != nil {
			return res, err
		}
		if res.Kind == ResultRetryable {
			return res, errBreakerRetryable
		}
		return res, nil
	})
	if result, ok := out.(SubmitResult); ok {
		if errors.Is(err, errBreakerRetryable) {
			return result, nil // surfaced to caller as Retryable, not as a breaker error
		}
		return result, err
	}
	return SubmitResult{}, err
}

var errBreakerRetryable = errors.New("provider: retryable result counted against breaker")
