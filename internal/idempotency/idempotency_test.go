package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sardis/internal/store/storetest"
)

func TestBeginClaimsNewKey(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, time.Hour)

	digest, err := DigestPayload(map[string]string{"amount": "100"})
	require.NoError(t, err)

	outcome, err := s.Begin("payments.execute", "idem-1", digest)
	require.NoError(t, err)
	require.Nil(t, outcome)
}

func TestBeginReturnsPriorOutcomeOnMatchingDigest(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, time.Hour)

	digest, err := DigestPayload(map[string]string{"amount": "100"})
	require.NoError(t, err)

	_, err = s.Begin("payments.execute", "idem-2", digest)
	require.NoError(t, err)
	require.NoError(t, s.Complete("payments.execute", "idem-2", StateCompleted, map[string]string{"payment_id": "pay_1"}))

	outcome, err := s.Begin("payments.execute", "idem-2", digest)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, StateCompleted, outcome.State)
}

func TestBeginRejectsMismatchedDigest(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, time.Hour)

	digestA, err := DigestPayload(map[string]string{"amount": "100"})
	require.NoError(t, err)
	digestB, err := DigestPayload(map[string]string{"amount": "200"})
	require.NoError(t, err)

	_, err = s.Begin("payments.execute", "idem-3", digestA)
	require.NoError(t, err)

	_, err = s.Begin("payments.execute", "idem-3", digestB)
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestBeginRejectsConcurrentInFlight(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, time.Hour)

	digest, err := DigestPayload(map[string]string{"amount": "100"})
	require.NoError(t, err)

	_, err = s.Begin("payments.execute", "idem-4", digest)
	require.NoError(t, err)

	_, err = s.Begin("payments.execute", "idem-4", digest)
	require.ErrorIs(t, err, ErrInFlight)
}

func TestSweepDeletesExpiredRecords(t *testing.T) {
	db := storetest.NewDB(t)
	s := New(db, -time.Minute)

	digest, err := DigestPayload(map[string]string{"amount": "1"})
	require.NoError(t, err)
	_, err = s.Begin("payments.execute", "idem-5", digest)
	require.NoError(t, err)

	n, err := s.Sweep(time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
