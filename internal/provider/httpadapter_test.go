package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPAdapterSubmitAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/submit", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"provider_ref":"ach-ref-1"}`))
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(HTTPAdapterConfig{Name: "ach-primary", Rail: "ach", Currency: "USD", Endpoint: srv.URL})
	result, err := adapter.Submit(context.Background(), SubmitRequest{PaymentID: "pay_1"})
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, result.Kind)
	require.Equal(t, "ach-ref-1", result.ProviderRef)
}

func TestHTTPAdapterSubmitServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(HTTPAdapterConfig{Name: "ach-primary", Rail: "ach", Currency: "USD", Endpoint: srv.URL})
	result, err := adapter.Submit(context.Background(), SubmitRequest{PaymentID: "pay_1"})
	require.NoError(t, err)
	require.Equal(t, ResultRetryable, result.Kind)
}

func TestHTTPAdapterSubmitClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(HTTPAdapterConfig{Name: "ach-primary", Rail: "ach", Currency: "USD", Endpoint: srv.URL})
	result, err := adapter.Submit(context.Background(), SubmitRequest{PaymentID: "pay_1"})
	require.NoError(t, err)
	require.Equal(t, ResultFatal, result.Kind)
}

func TestLoadRoutesFileRegistersDeclaredAdapters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	doc := "orgId: org_1\nadapters:\n  - name: ach-primary\n    rail: ach\n    currency: USD\n    endpoint: http://localhost:9999\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	orgID, adapters, err := LoadRoutesFile(path)
	require.NoError(t, err)
	require.Equal(t, "org_1", orgID)
	require.Len(t, adapters, 1)
	require.Equal(t, "ach", adapters[0].Rail)

	matrix := NewCapabilityMatrix()
	require.NoError(t, RegisterRoutesFile(matrix, path, BreakerConfig{FailureThreshold: 3, RecoveryTimeout: 0, HalfOpenProbes: 1}))
	route, err := matrix.Resolve("org_1", "ach", "credit", "USD")
	require.NoError(t, err)
	require.Equal(t, "ach-primary", route.Primary.Name())
}
