// Package recon implements Canonical Journey reconciliation and drift
// detection (C10): one multi-rail journey is accumulated per payment
// from the state events passed to Observe; a journey still open past a
// configurable drift window is flagged, and the recorded state sequence
// itself is not checked. Grounded almost
// directly on the teacher's services/otc-gateway/recon/reconciler.go:
// its Anomaly type generalizes into DriftBreak, and its retention-day
// constants generalize into the retention knobs below.
package recon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/ids"
	"sardis/internal/ledger"
	"sardis/internal/payment"
	"sardis/internal/store"
)

// Retention windows, generalized from the teacher's ReceiptRetentionDays/
// DecisionRetentionDays/ReportRetentionDays constants.
const (
	JourneyRetentionDays = 365
	BreakRetentionDays   = 730
	ReportRetentionDays  = 545
)

// Severity tiers for a DriftBreak.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Break kinds, generalized from the teacher's Anomaly* constants.
const (
	KindMissingTerminalEvent = "missing_terminal_event"
	KindAmountMismatch       = "amount_mismatch"
	KindStaleInflight        = "stale_inflight"
	KindUnexpectedSequence   = "unexpected_sequence"
)

// DefaultDriftWindow is the default time a payment may sit without a
// terminal or next-expected event before it is flagged, per spec §6's
// recon.drift_window default of 120 seconds.
const DefaultDriftWindow = 120 * time.Second

// AlertFunc is invoked for every DriftBreak detected, mirroring the
// teacher's AlertFunc hook in Config.
type AlertFunc func(b store.DriftBreak) error

// Reconciler accumulates CanonicalJourney rows from ledger events and
// periodically sweeps for drift.
type Reconciler struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	driftWindow time.Duration
	alert       AlertFunc
}

// Config bundles Reconciler's collaborators.
type Config struct {
	DB          *gorm.DB
	Ledger      *ledger.Ledger
	DriftWindow time.Duration
	Alert       AlertFunc
}

// New constructs a Reconciler.
func New(cfg Config) *Reconciler {
	window := cfg.DriftWindow
	if window <= 0 {
		window = DefaultDriftWindow
	}
	return &Reconciler{db: cfg.DB, ledger: cfg.Ledger, driftWindow: window, alert: cfg.Alert}
}

// Observe appends a rail state-transition event to paymentID's
// CanonicalJourney, opening a new journey row if none exists yet.
func (r *Reconciler) Observe(orgID, paymentID, rail string, state payment.State, terminal bool, at time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var journey store.CanonicalJourney
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payment_id = ?", paymentID).First(&journey).Error
		switch {
		case err == nil:
			var states []string
			if err := json.Unmarshal([]byte(journey.StatesSeen), &states); err != nil {
				states = nil
			}
			states = append(states, string(state))
			buf, err := json.Marshal(states)
			if err != nil {
				return err
			}
			journey.StatesSeen = string(buf)
			journey.Terminal = terminal
			if terminal {
				closedAt := at
				journey.ClosedAt = &closedAt
			}
			return tx.Save(&journey).Error
		case err == gorm.ErrRecordNotFound:
			buf, err := json.Marshal([]string{string(state)})
			if err != nil {
				return err
			}
			journey = store.CanonicalJourney{
				PaymentID: paymentID, OrgID: orgID, Rail: rail, StatesSeen: string(buf),
				Terminal: terminal, OpenedAt: at,
			}
			if terminal {
				closedAt := at
				journey.ClosedAt = &closedAt
			}
			return tx.Create(&journey).Error
		default:
			return err
		}
	})
}

// SweepStaleInflight scans every non-terminal journey opened before
// now-driftWindow and opens a DriftBreak for each, returning the count
// flagged. Intended for a scheduled maintenance pool tick.
func (r *Reconciler) SweepStaleInflight(now time.Time) (int, error) {
	cutoff := now.Add(-r.driftWindow)
	var stale []store.CanonicalJourney
	if err := r.db.Where("terminal = ? AND opened_at < ?", false, cutoff).Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("recon: query stale journeys: %w", err)
	}

	count := 0
	for _, j := range stale {
		var existing store.DriftBreak
		err := r.db.Where("payment_id = ? AND kind = ? AND resolved_at IS NULL", j.PaymentID, KindStaleInflight).
			First(&existing).Error
		if err == nil {
			continue // already flagged and unresolved
		}
		detail, _ := json.Marshal(map[string]any{"rail": j.Rail, "opened_at": j.OpenedAt, "states_seen": j.StatesSeen})
		brk := store.DriftBreak{
			BreakID: string(ids.New(ids.KindDriftBreak)), PaymentID: j.PaymentID,
			Kind: KindStaleInflight, Severity: string(classifyStaleSeverity(now.Sub(j.OpenedAt), r.driftWindow)),
			DetectedAt: now, Detail: string(detail),
		}
		if err := r.db.Create(&brk).Error; err != nil {
			return count, fmt.Errorf("recon: create drift break: %w", err)
		}
		if r.ledger != nil {
			if _, err := r.ledger.Append(j.OrgID, ledger.KindDriftBreakOpened, brk); err != nil {
				return count, err
			}
		}
		if r.alert != nil {
			if err := r.alert(brk); err != nil {
				return count, fmt.Errorf("recon: alert: %w", err)
			}
		}
		count++
	}
	return count, nil
}

// classifyStaleSeverity escalates severity the longer a journey has sat
// open past the drift window: 1x window is a warning, 3x or more is
// critical.
func classifyStaleSeverity(age, window time.Duration) Severity {
	switch {
	case age >= 3*window:
		return SeverityCritical
	case age >= window:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// RecordAmountMismatch opens a DriftBreak when a settled amount
// disagrees with the amount originally authorized, generalized from the
// teacher's AnomalyAmountMismatch check.
func (r *Reconciler) RecordAmountMismatch(paymentID string, expectedMinor, settledMinor string, at time.Time) error {
	if expectedMinor == settledMinor {
		return nil
	}
	detail, _ := json.Marshal(map[string]string{"expected_minor": expectedMinor, "settled_minor": settledMinor})
	brk := store.DriftBreak{
		BreakID: string(ids.New(ids.KindDriftBreak)), PaymentID: paymentID,
		Kind: KindAmountMismatch, Severity: string(SeverityCritical), DetectedAt: at, Detail: string(detail),
	}
	if err := r.db.Create(&brk).Error; err != nil {
		return fmt.Errorf("recon: create amount mismatch break: %w", err)
	}
	if r.alert != nil {
		return r.alert(brk)
	}
	return nil
}

// ResolveBreak marks a DriftBreak resolved, e.g. once an operator
// confirms a late terminal webhook closed out the journey.
func (r *Reconciler) ResolveBreak(breakID string, at time.Time) error {
	return r.db.Model(&store.DriftBreak{}).Where("break_id = ?", breakID).Update("resolved_at", at).Error
}

// breakExportRecord is the NDJSON line shape for a drift-break report,
// the same shape family as the ledger package's export record.
type breakExportRecord struct {
	BreakID    string          `json:"break_id"`
	PaymentID  string          `json:"payment_id"`
	Kind       string          `json:"kind"`
	Severity   string          `json:"severity"`
	DetectedAt string          `json:"detected_at"`
	ResolvedAt *string         `json:"resolved_at,omitempty"`
	Detail     json.RawMessage `json:"detail"`
}

type breakParquetRow struct {
	BreakID    string `parquet:"name=break_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PaymentID  string `parquet:"name=payment_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind       string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Severity   string `parquet:"name=severity, type=BYTE_ARRAY, convertedtype=UTF8"`
	DetectedAt string `parquet:"name=detected_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// BreakManifest accompanies a drift-break evidence bundle: a SHA-256
// over the concatenation of every exported record.
type BreakManifest struct {
	WindowStart  string `json:"window_start"`
	WindowEnd    string `json:"window_end"`
	RecordCount  int    `json:"record_count"`
	ConcatSHA256 string `json:"concat_sha256"`
}

// ExportBreaksNDJSON streams every DriftBreak detected in
// [windowStart, windowEnd] to w as newline-delimited JSON, for the same
// compliance evidence pulls the ledger's export serves.
func (r *Reconciler) ExportBreaksNDJSON(windowStart, windowEnd time.Time, w io.Writer) (*BreakManifest, error) {
	var breaks []store.DriftBreak
	if err := r.db.Where("detected_at BETWEEN ? AND ?", windowStart, windowEnd).
		Order("detected_at ASC").Find(&breaks).Error; err != nil {
		return nil, fmt.Errorf("recon: export query: %w", err)
	}
	hasher := sha256.New()
	for _, b := range breaks {
		var resolvedAt *string
		if b.ResolvedAt != nil {
			s := b.ResolvedAt.Format(time.RFC3339Nano)
			resolvedAt = &s
		}
		rec := breakExportRecord{
			BreakID: b.BreakID, PaymentID: b.PaymentID, Kind: b.Kind, Severity: b.Severity,
			DetectedAt: b.DetectedAt.Format(time.RFC3339Nano), ResolvedAt: resolvedAt,
			Detail: json.RawMessage(b.Detail),
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("recon: marshal export record: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return nil, fmt.Errorf("recon: write export record: %w", err)
		}
		hasher.Write(line)
	}
	return &BreakManifest{
		WindowStart: windowStart.Format(time.RFC3339), WindowEnd: windowEnd.Format(time.RFC3339),
		RecordCount: len(breaks), ConcatSHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// ExportBreaksParquet writes the same window to a Parquet file at path
// for bulk compliance pulls, mirroring the teacher's CSV+Parquet dual
// export of its reconciliation report rows.
func (r *Reconciler) ExportBreaksParquet(windowStart, windowEnd time.Time, path string) error {
	var breaks []store.DriftBreak
	if err := r.db.Where("detected_at BETWEEN ? AND ?", windowStart, windowEnd).
		Order("detected_at ASC").Find(&breaks).Error; err != nil {
		return fmt.Errorf("recon: parquet export query: %w", err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("recon: open parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(breakParquetRow), 4)
	if err != nil {
		return fmt.Errorf("recon: new parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, b := range breaks {
		row := breakParquetRow{
			BreakID: b.BreakID, PaymentID: b.PaymentID, Kind: b.Kind, Severity: b.Severity,
			DetectedAt: b.DetectedAt.Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("recon: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("recon: finalize parquet file: %w", err)
	}
	return nil
}
