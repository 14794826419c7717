package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	signature []byte
	dn        string
	err       error
}

func (f *fakeSigner) Sign(ctx context.Context, digest []byte) ([]byte, string, error) {
	return f.signature, f.dn, f.err
}

func TestStablecoinAdapterSubmitSignsDigest(t *testing.T) {
	signer := &fakeSigner{signature: []byte{0xAB, 0xCD}, dn: "CN=signer"}
	adapter := NewStablecoinAdapter("stablecoin", signer, func(SubmitRequest) []byte { return []byte("digest") })

	result, err := adapter.Submit(context.Background(), SubmitRequest{PaymentID: "pay_1"})
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, result.Kind)
	require.Contains(t, result.ProviderRef, "CN=signer")
}

func TestStablecoinAdapterSubmitRetriesOnSignError(t *testing.T) {
	signer := &fakeSigner{err: errors.New("signer unreachable")}
	adapter := NewStablecoinAdapter("stablecoin", signer, func(SubmitRequest) []byte { return []byte("digest") })

	result, err := adapter.Submit(context.Background(), SubmitRequest{PaymentID: "pay_1"})
	require.NoError(t, err)
	require.Equal(t, ResultRetryable, result.Kind)
}

func TestStablecoinAdapterReadyCheckShortCircuitsSubmit(t *testing.T) {
	signer := &fakeSigner{signature: []byte{0x01}, dn: "CN=signer"}
	adapter := NewStablecoinAdapter("stablecoin", signer, func(SubmitRequest) []byte { return []byte("digest") })
	adapter.WithReadyCheck(func(ctx context.Context) error {
		return errors.New("grpc health check: signer not serving")
	})

	result, err := adapter.Submit(context.Background(), SubmitRequest{PaymentID: "pay_1"})
	require.NoError(t, err)
	require.Equal(t, ResultRetryable, result.Kind)
	require.Contains(t, result.DeclineReason, "not serving")
}

func TestDNSPinnerSkipsCheckWhenUnpinned(t *testing.T) {
	pinner := NewDNSPinner("127.0.0.1:1", 0)
	require.NoError(t, pinner.Check("provider.example.com", nil))
}
