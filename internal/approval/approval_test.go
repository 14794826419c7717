package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sardis/internal/store/storetest"
)

func TestCreateRejectsLowQuorumForSensitiveAction(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, nil)

	_, err := m.Create("org_1", "trust.create", "digest", "alice", 1, time.Hour, true)
	require.ErrorIs(t, err, ErrQuorumTooLow)
}

func TestDecideRejectsSelfApproval(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, nil)

	id, err := m.Create("org_1", "payment.execute", "digest", "alice", 1, time.Hour, false)
	require.NoError(t, err)

	_, err = m.Decide("org_1", id.String(), "alice", OutcomeApprove)
	require.ErrorIs(t, err, ErrSelfApproval)
}

func TestDecideRejectsDuplicateVote(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, nil)

	id, err := m.Create("org_1", "payment.execute", "digest", "alice", 2, time.Hour, false)
	require.NoError(t, err)

	status, err := m.Decide("org_1", id.String(), "bob", OutcomeApprove)
	require.NoError(t, err)
	require.Equal(t, StatusPending, status)

	_, err = m.Decide("org_1", id.String(), "bob", OutcomeApprove)
	require.ErrorIs(t, err, ErrDuplicateVote)
}

func TestDecideReachesQuorumAndApproves(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, nil)

	id, err := m.Create("org_1", "payment.execute", "digest", "alice", 2, time.Hour, false)
	require.NoError(t, err)

	_, err = m.Decide("org_1", id.String(), "bob", OutcomeApprove)
	require.NoError(t, err)
	status, err := m.Decide("org_1", id.String(), "carol", OutcomeApprove)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, status)
}

func TestDecideDenyIsSticky(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, nil)

	id, err := m.Create("org_1", "payment.execute", "digest", "alice", 2, time.Hour, false)
	require.NoError(t, err)

	status, err := m.Decide("org_1", id.String(), "bob", OutcomeDeny)
	require.NoError(t, err)
	require.Equal(t, StatusDenied, status)

	_, err = m.Decide("org_1", id.String(), "carol", OutcomeApprove)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestDecideExpiresPastTTL(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, nil)

	id, err := m.Create("org_1", "payment.execute", "digest", "alice", 1, -time.Minute, false)
	require.NoError(t, err)

	status, err := m.Decide("org_1", id.String(), "bob", OutcomeApprove)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, status)
}

func TestCancelOnlyPending(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, nil)

	id, err := m.Create("org_1", "payment.execute", "digest", "alice", 1, time.Hour, false)
	require.NoError(t, err)
	require.NoError(t, m.Cancel("org_1", id.String(), "no longer needed"))

	err = m.Cancel("org_1", id.String(), "again")
	require.ErrorIs(t, err, ErrNotPending)
}

func TestExpireSweepTransitionsOnlyExpired(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, nil)

	expiredID, err := m.Create("org_1", "payment.execute", "digest", "alice", 1, -time.Minute, false)
	require.NoError(t, err)
	liveID, err := m.Create("org_1", "payment.execute", "digest2", "alice", 1, time.Hour, false)
	require.NoError(t, err)

	count, err := m.ExpireSweep("org_1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	expiredReq, err := m.Status(expiredID.String())
	require.NoError(t, err)
	require.Equal(t, string(StatusExpired), expiredReq.Status)

	liveReq, err := m.Status(liveID.String())
	require.NoError(t, err)
	require.Equal(t, string(StatusPending), liveReq.Status)
}
