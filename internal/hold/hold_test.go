package hold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sardis/internal/ledger"
	"sardis/internal/store"
	"sardis/internal/store/storetest"
)

func TestOpenCreatesActiveHold(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, ledger.New(db, nil))

	id, err := m.Open("org_1", "wallet_1", "5000", "USD", time.Hour)
	require.NoError(t, err)

	var h store.Hold
	require.NoError(t, db.First(&h, "hold_id = ?", id.String()).Error)
	require.Equal(t, StatusActive, h.Status)
	require.Equal(t, "0", h.CapturedMinor)
}

func TestCaptureFullyClosesHold(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, ledger.New(db, nil))

	id, err := m.Open("org_1", "wallet_1", "5000", "USD", 0)
	require.NoError(t, err)
	require.NoError(t, m.Capture("org_1", id.String(), "5000"))

	var h store.Hold
	require.NoError(t, db.First(&h, "hold_id = ?", id.String()).Error)
	require.Equal(t, StatusCaptured, h.Status)
}

func TestPartialCaptureStaysActive(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, ledger.New(db, nil))

	id, err := m.Open("org_1", "wallet_1", "5000", "USD", 0)
	require.NoError(t, err)
	require.NoError(t, m.Capture("org_1", id.String(), "2000"))

	var h store.Hold
	require.NoError(t, db.First(&h, "hold_id = ?", id.String()).Error)
	require.Equal(t, StatusActive, h.Status)
	require.Equal(t, "2000", h.CapturedMinor)
}

func TestCaptureRejectsOverReserved(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, ledger.New(db, nil))

	id, err := m.Open("org_1", "wallet_1", "5000", "USD", 0)
	require.NoError(t, err)
	require.ErrorIs(t, m.Capture("org_1", id.String(), "6000"), ErrCaptureExceedsReserved)
}

func TestVoidIsTerminalAndIrreversible(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, ledger.New(db, nil))

	id, err := m.Open("org_1", "wallet_1", "5000", "USD", 0)
	require.NoError(t, err)
	require.NoError(t, m.Void("org_1", id.String()))
	require.ErrorIs(t, m.Capture("org_1", id.String(), "1000"), ErrNotActive)
	require.ErrorIs(t, m.Void("org_1", id.String()), ErrNotActive)
}

func TestExpireSweepOnlyTouchesPastExpiry(t *testing.T) {
	db := storetest.NewDB(t)
	m := New(db, ledger.New(db, nil))

	past, err := m.Open("org_1", "wallet_1", "5000", "USD", time.Hour)
	require.NoError(t, err)
	future, err := m.Open("org_1", "wallet_1", "5000", "USD", 24*time.Hour)
	require.NoError(t, err)

	count, err := m.ExpireSweep(time.Now().UTC().Add(2 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count)

	var p, f store.Hold
	require.NoError(t, db.First(&p, "hold_id = ?", past.String()).Error)
	require.NoError(t, db.First(&f, "hold_id = ?", future.String()).Error)
	require.Equal(t, StatusExpired, p.Status)
	require.Equal(t, StatusActive, f.Status)
}
