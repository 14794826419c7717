package recon

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sardis/internal/ledger"
	"sardis/internal/payment"
	"sardis/internal/store"
	"sardis/internal/store/storetest"
)

func TestObserveOpensAndAppendsJourney(t *testing.T) {
	db := storetest.NewDB(t)
	r := New(Config{DB: db, DriftWindow: time.Minute})

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.Observe("org_1", "pay_1", "ach", payment.ACHPending, false, now))
	require.NoError(t, r.Observe("org_1", "pay_1", "ach", payment.ACHReviewed, false, now.Add(time.Second)))

	var journey store.CanonicalJourney
	require.NoError(t, db.First(&journey, "payment_id = ?", "pay_1").Error)
	require.Equal(t, "org_1", journey.OrgID)
	require.False(t, journey.Terminal)
	require.Contains(t, journey.StatesSeen, string(payment.ACHPending))
	require.Contains(t, journey.StatesSeen, string(payment.ACHReviewed))
}

func TestObserveClosesOnTerminal(t *testing.T) {
	db := storetest.NewDB(t)
	r := New(Config{DB: db, DriftWindow: time.Minute})

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.Observe("org_1", "pay_1", "ach", payment.ACHPending, false, now))
	require.NoError(t, r.Observe("org_1", "pay_1", "ach", payment.ACHDeclined, true, now.Add(time.Minute)))

	var journey store.CanonicalJourney
	require.NoError(t, db.First(&journey, "payment_id = ?", "pay_1").Error)
	require.True(t, journey.Terminal)
	require.NotNil(t, journey.ClosedAt)
}

func TestSweepStaleInflightFlagsOnlyOverdueJourneys(t *testing.T) {
	db := storetest.NewDB(t)
	l := ledger.New(db, nil)
	window := time.Minute
	r := New(Config{DB: db, Ledger: l, DriftWindow: window})

	opened := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.Observe("org_1", "pay_stale", "ach", payment.ACHPending, false, opened))
	require.NoError(t, r.Observe("org_1", "pay_fresh", "ach", payment.ACHPending, false, opened.Add(window+30*time.Second)))

	now := opened.Add(2 * window)
	count, err := r.SweepStaleInflight(now)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	var breaks []store.DriftBreak
	require.NoError(t, db.Find(&breaks).Error)
	require.Len(t, breaks, 1)
	require.Equal(t, "pay_stale", breaks[0].PaymentID)
	require.Equal(t, KindStaleInflight, breaks[0].Kind)
}

func TestSweepStaleInflightDoesNotReflagUnresolvedBreak(t *testing.T) {
	db := storetest.NewDB(t)
	window := time.Minute
	r := New(Config{DB: db, DriftWindow: window})

	opened := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.Observe("org_1", "pay_stale", "ach", payment.ACHPending, false, opened))

	first, err := r.SweepStaleInflight(opened.Add(2 * window))
	require.NoError(t, err)
	require.Equal(t, 1, first)

	second, err := r.SweepStaleInflight(opened.Add(3 * window))
	require.NoError(t, err)
	require.Equal(t, 0, second)
}

func TestRecordAmountMismatchSkipsWhenEqual(t *testing.T) {
	db := storetest.NewDB(t)
	r := New(Config{DB: db, DriftWindow: time.Minute})

	require.NoError(t, r.RecordAmountMismatch("pay_1", "5000", "5000", time.Unix(1700000000, 0).UTC()))

	var count int64
	db.Model(&store.DriftBreak{}).Count(&count)
	require.Zero(t, count)
}

func TestRecordAmountMismatchFlagsDiscrepancy(t *testing.T) {
	db := storetest.NewDB(t)
	r := New(Config{DB: db, DriftWindow: time.Minute})

	require.NoError(t, r.RecordAmountMismatch("pay_1", "5000", "4900", time.Unix(1700000000, 0).UTC()))

	var brk store.DriftBreak
	require.NoError(t, db.First(&brk, "payment_id = ?", "pay_1").Error)
	require.Equal(t, KindAmountMismatch, brk.Kind)
	require.Equal(t, string(SeverityCritical), brk.Severity)
}

func TestResolveBreakSetsResolvedAt(t *testing.T) {
	db := storetest.NewDB(t)
	r := New(Config{DB: db, DriftWindow: time.Minute})

	require.NoError(t, r.RecordAmountMismatch("pay_1", "5000", "4900", time.Unix(1700000000, 0).UTC()))
	var brk store.DriftBreak
	require.NoError(t, db.First(&brk, "payment_id = ?", "pay_1").Error)

	resolvedAt := time.Unix(1700003600, 0).UTC()
	require.NoError(t, r.ResolveBreak(brk.BreakID, resolvedAt))

	var reloaded store.DriftBreak
	require.NoError(t, db.First(&reloaded, "break_id = ?", brk.BreakID).Error)
	require.NotNil(t, reloaded.ResolvedAt)
}

func TestExportBreaksNDJSONWritesOneLinePerBreakInWindow(t *testing.T) {
	db := storetest.NewDB(t)
	r := New(Config{DB: db, DriftWindow: time.Minute})

	base := time.Unix(1700000000, 0).UTC()
	require.NoError(t, r.RecordAmountMismatch("pay_in", "5000", "4900", base))
	require.NoError(t, r.RecordAmountMismatch("pay_out", "5000", "4900", base.Add(48*time.Hour)))

	var buf bytes.Buffer
	manifest, err := r.ExportBreaksNDJSON(base.Add(-time.Hour), base.Add(time.Hour), &buf)
	require.NoError(t, err)
	require.Equal(t, 1, manifest.RecordCount)
	require.NotEmpty(t, manifest.ConcatSHA256)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "pay_in")
}

