package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPAdapter dispatches a SubmitRequest as a JSON POST to a fixed-rail
// provider endpoint (an ACH or card processor sitting behind a gateway),
// grounded on the teacher's gateway/config.ServiceConfig HTTP client shape
// (endpoint, timeout, insecureSkipVerify) generalized from a reverse-proxy
// target into a direct rail adapter.
type HTTPAdapter struct {
	name      string
	rail      string
	currency  string
	endpoint  string
	client    *http.Client
}

// HTTPAdapterConfig mirrors the fields sardisd's provider routing file
// declares per rail.
type HTTPAdapterConfig struct {
	Name               string        `yaml:"name"`
	Rail               string        `yaml:"rail"`
	Currency           string        `yaml:"currency"`
	Endpoint           string        `yaml:"endpoint"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
}

// NewHTTPAdapter builds an HTTPAdapter from cfg.
func NewHTTPAdapter(cfg HTTPAdapterConfig) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &HTTPAdapter{
		name:     cfg.Name,
		rail:     cfg.Rail,
		currency: cfg.Currency,
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (a *HTTPAdapter) Name() string { return a.name }

func (a *HTTPAdapter) Supports(rail, direction, currency string) bool {
	return rail == a.rail && currency == a.currency
}

// Submit POSTs req as JSON to the configured endpoint. A 2xx response
// body is decoded as {provider_ref}; a 5xx or transport error is
// Retryable, a 4xx is Fatal, matching spec §7's adapter result contract.
func (a *HTTPAdapter) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("provider: encode submit request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/submit", bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("provider: build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return SubmitResult{Kind: ResultRetryable, DeclineReason: err.Error()}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			ProviderRef string `json:"provider_ref"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return SubmitResult{Kind: ResultAccepted, ProviderRef: out.ProviderRef}, nil
	case resp.StatusCode >= 500:
		return SubmitResult{Kind: ResultRetryable, DeclineReason: resp.Status}, nil
	default:
		return SubmitResult{Kind: ResultFatal, DeclineReason: resp.Status}, nil
	}
}

func (a *HTTPAdapter) Status(ctx context.Context, providerRef string) (SubmitResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/status/"+providerRef, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return SubmitResult{Kind: ResultRetryable, DeclineReason: err.Error()}, nil
	}
	defer resp.Body.Close()
	var out struct {
		Kind          string `json:"kind"`
		DeclineReason string `json:"decline_reason"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return SubmitResult{Kind: ResultKind(out.Kind), ProviderRef: providerRef, DeclineReason: out.DeclineReason}, nil
}

func (a *HTTPAdapter) Void(ctx context.Context, providerRef string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/void/"+providerRef, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider: void %s: %s", providerRef, resp.Status)
	}
	return nil
}
