package provider

import (
	"context"
	"fmt"
)

// Route is a resolved (primary, fallback...) adapter ordering for one
// (org, rail, currency) combination.
type Route struct {
	Primary  *GuardedAdapter
	Fallback []*GuardedAdapter
}

// CapabilityMatrix resolves (org, rail, currency) to a Route, configured
// per org routing policy. sardisd populates it at process wiring time
// from the provider routes file (RegisterRoutesFile) and the stablecoin
// signer wiring; the funding.primary_adapter / funding.fallback_adapter
// configuration keys are parsed but not consulted.
type CapabilityMatrix struct {
	routes map[string]Route // keyed by org|rail|currency
}

// NewCapabilityMatrix constructs an empty matrix.
func NewCapabilityMatrix() *CapabilityMatrix {
	return &CapabilityMatrix{routes: make(map[string]Route)}
}

func routeKey(org, rail, currency string) string {
	return org + "|" + rail + "|" + currency
}

// Register binds a route for (org, rail, currency).
func (m *CapabilityMatrix) Register(org, rail, currency string, primary *GuardedAdapter, fallback ...*GuardedAdapter) {
	m.routes[routeKey(org, rail, currency)] = Route{Primary: primary, Fallback: fallback}
}

// Resolve returns the configured Route, erroring if none is registered
// or if the primary does not advertise support for (rail, direction,
// currency).
func (m *CapabilityMatrix) Resolve(org, rail, direction, currency string) (Route, error) {
	route, ok := m.routes[routeKey(org, rail, currency)]
	if !ok {
		return Route{}, fmt.Errorf("provider: no route configured for org=%s rail=%s currency=%s", org, rail, currency)
	}
	if route.Primary == nil || !route.Primary.Supports(rail, direction, currency) {
		return Route{}, fmt.Errorf("provider: primary adapter does not support rail=%s direction=%s currency=%s", rail, direction, currency)
	}
	return route, nil
}

// Dispatch walks Route in deterministic order — primary first, then each
// fallback in the order configured — skipping any adapter whose circuit
// breaker is open, submitting to the first that will accept. A Fatal
// result from any adapter halts the walk immediately (a fatal decline
// never falls back, per spec §4.6); a Retryable result or transport
// error advances to the next adapter. Returns ErrAllFailed if every
// adapter in the route is either open or returns Retryable/error.
func Dispatch(ctx context.Context, route Route, req SubmitRequest) (SubmitResult, string, error) {
	candidates := append([]*GuardedAdapter{route.Primary}, route.Fallback...)
	var lastErr error
	for _, adapter := range candidates {
		if adapter == nil || adapter.Open() {
			continue
		}
		result, err := adapter.Submit(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		switch result.Kind {
		case ResultAccepted:
			return result, adapter.Name(), nil
		case ResultFatal:
			return result, adapter.Name(), nil // terminal; caller must not fall back further
		case ResultRetryable:
			lastErr = fmt.Errorf("provider: %s returned retryable: %s", adapter.Name(), result.DeclineReason)
			continue
		}
	}
	if lastErr != nil {
		return SubmitResult{}, "", fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
	}
	return SubmitResult{}, "", ErrAllFailed
}
