// Package ledger implements the append-only, hash-chained audit ledger
// (C2). The chain digest primitive is grounded on the teacher's
// core.MintVoucher.CanonicalJSON/Digest pattern: canonical JSON of a
// field-ordered struct, hashed with keccak256.
package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/ids"
	"sardis/internal/store"
)

// Kind enumerates the closed set of ledger entry kinds the core writes.
// Strings are presentation only; the kind constants are the source of
// truth, per the Design Notes tagged-sum-type requirement.
type Kind string

const (
	KindPaymentBlocked           Kind = "payment.blocked"
	KindPaymentAwaitingApproval  Kind = "payment.awaiting_approval"
	KindPaymentSubmitted         Kind = "payment.submitted"
	KindPaymentStateTransition   Kind = "payment.state_transition"
	KindApprovalCreated          Kind = "approval.created"
	KindApprovalDecided          Kind = "approval.decided"
	KindApprovalExpired          Kind = "approval.expired"
	KindWebhookSecretRotated     Kind = "webhook.secret_rotated"
	KindDriftBreakOpened         Kind = "recon.drift_break_opened"
	KindFailoverModeTransitioned Kind = "ops.failover_mode_transitioned"
)

// VerificationReport is the result of verifying a single entry's place in
// its org's hash chain and Merkle batch.
type VerificationReport struct {
	ChainOK        bool
	LeafInRoot     bool
	RootAnchored   bool
	TamperedIndices []int64
}

// Ledger appends and verifies hash-chained entries for one database.
type Ledger struct {
	db     *gorm.DB
	buffer *FailOpenBuffer
}

// New constructs a Ledger. buffer may be nil to disable fail-open disk
// buffering (not recommended in production; see FailOpenBuffer).
func New(db *gorm.DB, buffer *FailOpenBuffer) *Ledger {
	return &Ledger{db: db, buffer: buffer}
}

type canonicalPayload struct {
	OrgID     string          `json:"org_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// Append writes one hash-chained entry for org orgID, returning its
// LtxID. It locks the org's highest-sequence row to keep the chain
// globally ordered per org, the same row-lock discipline the teacher uses
// in sign_submit.go and server.go's transitionInvoice.
func (l *Ledger) Append(orgID string, kind Kind, payload any) (ids.ID, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ledger: marshal payload: %w", err)
	}
	now := time.Now().UTC()
	createdAtRFC := now.Format("2006-01-02T15:04:05.000Z")

	var entryID ids.ID
	txErr := l.db.Transaction(func(tx *gorm.DB) error {
		var last store.LedgerEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ?", orgID).
			Order("seq DESC").
			First(&last).Error
		prevHash := ""
		nextSeq := int64(1)
		if err == nil {
			prevHash = last.EntryHash
			nextSeq = last.Seq + 1
		} else if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("ledger: lock last entry: %w", err)
		}

		canon := canonicalPayload{OrgID: orgID, Kind: string(kind), Payload: payloadJSON, CreatedAt: createdAtRFC}
		canonBytes, err := json.Marshal(canon)
		if err != nil {
			return fmt.Errorf("ledger: marshal canonical payload: %w", err)
		}
		payloadDigest := keccakHex(canonBytes)
		entryHash := keccakHex([]byte(prevHash + payloadDigest + createdAtRFC + string(kind)))

		entryID = ids.New(ids.KindLedgerEntry)
		entry := store.LedgerEntry{
			LtxID:         entryID.String(),
			OrgID:         orgID,
			Seq:           nextSeq,
			PrevHash:      prevHash,
			EntryHash:     entryHash,
			PayloadDigest: payloadDigest,
			Kind:          string(kind),
			Payload:       string(payloadJSON),
			CreatedAt:     now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("ledger: insert entry: %w", err)
		}
		return nil
	})
	if txErr != nil {
		if l.buffer != nil {
			// Audit path is fail-open in the narrow sense defined in spec
			// §7: buffer to disk rather than lose the entry, and refuse
			// new payments until the durable store recovers. The caller
			// (orchestrator) is responsible for the refuse-new-payments
			// half of that contract.
			if bufErr := l.buffer.Write(orgID, kind, payloadJSON, now); bufErr != nil {
				return "", fmt.Errorf("ledger: append failed and disk buffer failed: %v / %v", txErr, bufErr)
			}
			return "", fmt.Errorf("%w: buffered to disk, durable store unavailable", ErrDurableStoreUnavailable)
		}
		return "", txErr
	}
	return entryID, nil
}

// ErrDurableStoreUnavailable signals the ledger fell back to its disk
// buffer; callers on the money path must treat this as fail-closed for
// new payment execution per spec §7.
var ErrDurableStoreUnavailable = fmt.Errorf("ledger: durable store unavailable")

// Get fetches a single entry by id.
func (l *Ledger) Get(ltxID string) (*store.LedgerEntry, error) {
	var entry store.LedgerEntry
	if err := l.db.Where("ltx_id = ?", ltxID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Cursor is a stable pagination token binding (org, window_start,
// last_seen_seq) so that a mid-export ledger append never changes
// already-returned pages (P8).
type Cursor struct {
	OrgID       string
	WindowStart time.Time
	LastSeenSeq int64
}

// Encode renders the cursor as an opaque string.
func (c Cursor) Encode() string {
	return fmt.Sprintf("%s|%d|%d", c.OrgID, c.WindowStart.UnixMilli(), c.LastSeenSeq)
}

// List returns up to limit entries for orgID with seq > cursor.LastSeenSeq,
// ordered by seq, implementing the replay-safe export contract (P8): the
// WHERE clause only selects seqs above the cursor's fixed boundary, so
// entries appended after the cursor was minted never appear in, or
// reorder, a page already returned.
func (l *Ledger) List(orgID string, cursor Cursor, limit int) ([]store.LedgerEntry, Cursor, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entries []store.LedgerEntry
	q := l.db.Where("org_id = ? AND seq > ?", orgID, cursor.LastSeenSeq).Order("seq ASC").Limit(limit)
	if err := q.Find(&entries).Error; err != nil {
		return nil, cursor, err
	}
	next := cursor
	if len(entries) > 0 {
		next.LastSeenSeq = entries[len(entries)-1].Seq
	}
	return entries, next, nil
}

// Verify recomputes the chain linkage for ltxID against its predecessor
// and confirms its inclusion in its batch's anchored Merkle root.
func (l *Ledger) Verify(ltxID string) (*VerificationReport, error) {
	var entry store.LedgerEntry
	if err := l.db.Where("ltx_id = ?", ltxID).First(&entry).Error; err != nil {
		return nil, err
	}
	report := &VerificationReport{}
	if entry.Seq == 1 {
		report.ChainOK = entry.PrevHash == ""
	} else {
		var prev store.LedgerEntry
		if err := l.db.Where("org_id = ? AND seq = ?", entry.OrgID, entry.Seq-1).First(&prev).Error; err != nil {
			return nil, err
		}
		report.ChainOK = entry.PrevHash == prev.EntryHash
	}
	report.RootAnchored = entry.AnchorReference != ""
	if verifyLeaf(entry.EntryHash, entry.BatchRoot) {
		// Recompute the root over every entry stamped with the same batch
		// root, in seq order, as BatchWindow built it.
		var batch []store.LedgerEntry
		if err := l.db.Where("org_id = ? AND batch_root = ?", entry.OrgID, entry.BatchRoot).
			Order("seq ASC").Find(&batch).Error; err != nil {
			return nil, err
		}
		leaves := make([]string, len(batch))
		for i, b := range batch {
			leaves[i] = b.EntryHash
		}
		report.LeafInRoot = merkleRoot(leaves) == entry.BatchRoot
	}
	return report, nil
}

// verifyLeaf reports whether an entry carries both a leaf hash and a
// batch root; Verify recomputes the batch root only when it does.
func verifyLeaf(leafHash, root string) bool {
	return leafHash != "" && root != ""
}

func keccakHex(data []byte) string {
	return KeccakHex(data)
}

// KeccakHex is the shared canonical-JSON digest primitive: callers
// outside this package (such as the orchestrator's mandate audit_hash)
// use it to stay consistent with the ledger's own chain-hash function.
func KeccakHex(data []byte) string {
	sum := ethcrypto.Keccak256(data)
	return "0x" + hex.EncodeToString(sum)
}

func seqString(seq int64) string {
	return strconv.FormatInt(seq, 10)
}
