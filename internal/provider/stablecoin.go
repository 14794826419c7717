package provider

import (
	"context"
	"fmt"

	"sardis/internal/hsm"
)

// StablecoinAdapter represents the MPC-signed on-chain rail: submit
// returns once the signing service has accepted the operation, with
// chain confirmation surfaced later via webhook events, per spec §4.6.
type StablecoinAdapter struct {
	name   string
	signer hsm.Signer
	digest func(SubmitRequest) []byte
	ready  func(ctx context.Context) error
}

// NewStablecoinAdapter constructs an adapter backed by signer. digest
// computes the signing payload's digest from the submit request; callers
// typically reuse the ledger package's canonical-JSON+keccak256 digest
// function here.
func NewStablecoinAdapter(name string, signer hsm.Signer, digest func(SubmitRequest) []byte) *StablecoinAdapter {
	return &StablecoinAdapter{name: name, signer: signer, digest: digest}
}

// WithReadyCheck attaches a liveness probe for the signer's transport
// (for example hsm.GRPCClient.HealthCheck, when the deployment's signer
// is reachable over gRPC instead of the mTLS HTTP path) consulted before
// every Submit so a cold or unreachable signer fails fast as Retryable
// instead of timing out against the breaker.
func (a *StablecoinAdapter) WithReadyCheck(ready func(ctx context.Context) error) *StablecoinAdapter {
	a.ready = ready
	return a
}

func (a *StablecoinAdapter) Name() string { return a.name }

func (a *StablecoinAdapter) Supports(rail, direction, currency string) bool {
	return rail == "stablecoin" || rail == "on_chain"
}

func (a *StablecoinAdapter) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if a.ready != nil {
		if err := a.ready(ctx); err != nil {
			return SubmitResult{Kind: ResultRetryable, DeclineReason: err.Error()}, nil
		}
	}
	digest := a.digest(req)
	signature, signerDN, err := a.signer.Sign(ctx, digest)
	if err != nil {
		return SubmitResult{Kind: ResultRetryable, DeclineReason: err.Error()}, nil
	}
	return SubmitResult{Kind: ResultAccepted, ProviderRef: fmt.Sprintf("sig:%x:%s", signature[:min(8, len(signature))], signerDN)}, nil
}

func (a *StablecoinAdapter) Status(ctx context.Context, providerRef string) (SubmitResult, error) {
	// Chain confirmation is surfaced via webhook events, not polled here;
	// a direct status call reports only that the signature was accepted.
	return SubmitResult{Kind: ResultAccepted, ProviderRef: providerRef}, nil
}

func (a *StablecoinAdapter) Void(ctx context.Context, providerRef string) error {
	return fmt.Errorf("provider: %s does not support void once signed", a.name)
}
