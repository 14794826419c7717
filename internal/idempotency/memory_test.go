package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSameDigestReturnsPriorOutcome(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	_, err := s.Begin("payment.execute", "key-1", "digest-a")
	require.NoError(t, err)
	require.NoError(t, s.Complete("payment.execute", "key-1", StateCompleted, `{"ok":true}`))

	outcome, err := s.Begin("payment.execute", "key-1", "digest-a")
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, StateCompleted, outcome.State)
}

func TestMemoryStoreDifferentDigestConflicts(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	_, err := s.Begin("payment.execute", "key-1", "digest-a")
	require.NoError(t, err)

	_, err = s.Begin("payment.execute", "key-1", "digest-b")
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestMemoryStoreInFlightRejectsConcurrent(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	_, err := s.Begin("payment.execute", "key-1", "digest-a")
	require.NoError(t, err)

	_, err = s.Begin("payment.execute", "key-1", "digest-a")
	require.ErrorIs(t, err, ErrInFlight)
}

func TestMemoryStoreSweepRemovesExpired(t *testing.T) {
	s := NewMemoryStore(-time.Second)
	_, _ = s.Begin("payment.execute", "key-1", "digest-a")
	removed := s.Sweep(time.Now().UTC().Add(time.Minute))
	require.Equal(t, 1, removed)
}

func TestMemoryStoreHasInFlight(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	require.False(t, s.HasInFlight())
	_, _ = s.Begin("payment.execute", "key-1", "digest-a")
	require.True(t, s.HasInFlight())
	require.NoError(t, s.Complete("payment.execute", "key-1", StateCompleted, "{}"))
	require.False(t, s.HasInFlight())
}
