// Package store holds the GORM-mapped durable representations of every
// Sardis data-model entity, following the teacher's
// services/otc-gateway/models package: one file of plain struct
// definitions plus a single AutoMigrate entrypoint.
package store

import (
	"time"

	"gorm.io/gorm"
)

// Mandate is the immutable, content-addressed authorization record
// produced by an agent. Fields mirror spec §3 exactly; AuditHash is
// computed by internal/ledger and persisted once, never recomputed.
type Mandate struct {
	MandateID     string `gorm:"primaryKey"`
	AgentID       string `gorm:"index;not null"`
	OrgID         string `gorm:"index;not null"`
	SubjectWallet string `gorm:"not null"`
	Destination   string `gorm:"not null"`
	AmountMinor   string `gorm:"not null"`
	Currency      string `gorm:"size:3;not null"`
	Purpose       string
	CreatedAt     time.Time `gorm:"not null"`
	AuditHash     string    `gorm:"uniqueIndex;not null"`
}

// Payment is the lifecycle entity tracked from mandate execution through
// terminal settlement.
type Payment struct {
	PaymentID         string `gorm:"primaryKey"`
	OrgID             string `gorm:"index;not null"`
	MandateID         string `gorm:"index;not null"`
	Rail              string `gorm:"not null"`
	Direction         string `gorm:"not null"`
	Status            string `gorm:"index;not null"`
	AmountPendingMinor string `gorm:"not null"`
	AmountSettledMinor string `gorm:"not null"`
	Currency          string `gorm:"size:3;not null"`
	RetryCount        int    `gorm:"not null;default:0"`
	LastReturnReason  string
	ProviderKey       string
	IdempotencyKey    string    `gorm:"index"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// Hold is a two-phase wallet reservation.
type Hold struct {
	HoldID          string `gorm:"primaryKey"`
	WalletID        string `gorm:"index;not null"`
	AmountMinor     string `gorm:"not null"`
	Currency        string `gorm:"size:3;not null"`
	Status          string `gorm:"not null"`
	CapturedMinor   string `gorm:"not null;default:'0'"`
	ExpiresAt       time.Time
	CreatedAt       time.Time `gorm:"not null"`
}

// LedgerEntry is an append-only, hash-chained audit record. See
// internal/ledger for the chain and Merkle-batch logic operating on this
// table.
type LedgerEntry struct {
	LtxID          string `gorm:"primaryKey"`
	OrgID          string `gorm:"index:idx_org_seq,unique,priority:1;not null"`
	Seq            int64  `gorm:"index:idx_org_seq,unique,priority:2;not null"`
	PrevHash       string `gorm:"not null"`
	EntryHash      string `gorm:"uniqueIndex;not null"`
	PayloadDigest  string `gorm:"not null"`
	Kind           string `gorm:"index;not null"`
	Payload        string `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	BatchRoot       string
	AnchorReference string
}

// IdempotencyRecord backs the (scope, key) -> outcome store, generalized
// from the teacher's models.IdempotencyKey and
// middleware.WithIdempotency.
type IdempotencyRecord struct {
	Scope         string    `gorm:"primaryKey"`
	Key           string    `gorm:"primaryKey"`
	State         string    `gorm:"not null"`
	ResultDigest  string
	ResultPayload string `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"not null"`
	ExpiresAt     time.Time `gorm:"index;not null"`
}

// WebhookEvent records inbound provider callbacks for exactly-once
// application, keyed by (provider, provider_event_id).
type WebhookEvent struct {
	ID              string `gorm:"primaryKey"`
	Provider        string `gorm:"index:idx_provider_event,unique,priority:1;not null"`
	ProviderEventID string `gorm:"index:idx_provider_event,unique,priority:2;not null"`
	BodyHash        string `gorm:"not null"`
	Payload         []byte `gorm:"type:jsonb"`
	Status          string `gorm:"index;not null"`
	LastError       string
	Attempts        int `gorm:"not null;default:0"`
	NextAttemptAt   time.Time `gorm:"index"`
	ReceivedAt      time.Time `gorm:"not null"`
}

// CanonicalJourney accumulates the multi-rail state history of one
// payment for reconciliation and drift detection.
type CanonicalJourney struct {
	PaymentID     string `gorm:"primaryKey"`
	OrgID         string `gorm:"index;not null"`
	Rail          string `gorm:"not null"`
	StatesSeen    string `gorm:"type:jsonb;not null"` // json array, append-only
	Terminal      bool   `gorm:"not null;default:false"`
	OpenedAt      time.Time
	ClosedAt      *time.Time
	DriftBreaks   string `gorm:"type:jsonb"` // json array of break record ids
}

// Policy is an immutable-per-revision org policy snapshot.
type Policy struct {
	PolicyID  string `gorm:"primaryKey"`
	OrgID     string `gorm:"index:idx_org_version,unique,priority:1;not null"`
	Version   int    `gorm:"index:idx_org_version,unique,priority:2;not null"`
	RulesJSON string `gorm:"type:jsonb;not null"`
	HardCapsJSON string `gorm:"type:jsonb;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// ApprovalRequest is a maker-checker request awaiting quorum.
type ApprovalRequest struct {
	ApprovalID    string `gorm:"primaryKey"`
	Action        string `gorm:"not null"`
	SubjectDigest string `gorm:"not null"`
	RequestedBy   string `gorm:"not null"`
	Status        string `gorm:"index;not null"`
	MinReviewers  int    `gorm:"not null"`
	ExpiresAt     time.Time `gorm:"index;not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// Decision is one reviewer's vote against an ApprovalRequest. Grounded on
// the teacher's models.Decision maker-checker record.
type Decision struct {
	DecisionID string `gorm:"primaryKey"`
	ApprovalID string `gorm:"index:idx_approval_reviewer,unique,priority:1;not null"`
	ReviewerID string `gorm:"index:idx_approval_reviewer,unique,priority:2;not null"`
	Outcome    string `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TrustRelation is an agent-to-agent transfer authorization.
type TrustRelation struct {
	ID            string `gorm:"primaryKey"`
	SenderAgent   string `gorm:"index:idx_trust_pair,unique,priority:1;not null"`
	RecipientAgent string `gorm:"index:idx_trust_pair,unique,priority:2;not null"`
	CreatedBy     string `gorm:"not null"`
	ApprovalRef   string
	CreatedAt     time.Time `gorm:"not null"`
}

// DriftBreak is an operator-visible reconciliation mismatch record.
type DriftBreak struct {
	BreakID    string `gorm:"primaryKey"`
	PaymentID  string `gorm:"index;not null"`
	Kind       string `gorm:"not null"`
	Severity   string `gorm:"not null"`
	DetectedAt time.Time `gorm:"not null"`
	ResolvedAt *time.Time
	Detail     string `gorm:"type:jsonb"`
}

// WalletBalance is the running settled balance backing the treasury
// fund/withdraw/balances endpoints, one row per (org, wallet, currency).
type WalletBalance struct {
	OrgID         string `gorm:"index:idx_wallet_currency,unique,priority:1;not null"`
	WalletID      string `gorm:"index:idx_wallet_currency,unique,priority:2;not null"`
	Currency      string `gorm:"size:3;index:idx_wallet_currency,unique,priority:3;not null"`
	BalanceMinor  string `gorm:"not null;default:'0'"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// HTTPIdempotencyRecord replays a recorded HTTP response for a repeated
// Idempotency-Key header, generalized from the teacher's
// services/otc-gateway/middleware.WithIdempotency and its
// models.IdempotencyKey record. Distinct from IdempotencyRecord: this one
// stores a raw response body keyed only by header value, independent of
// any (scope, digest) concept, because it replays whatever the handler
// wrote rather than a typed operation result.
type HTTPIdempotencyRecord struct {
	Key        string `gorm:"primaryKey"`
	Method     string `gorm:"not null"`
	Path       string `gorm:"not null"`
	Status     int    `gorm:"not null"`
	Response   string `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// AutoMigrate creates or updates every Sardis table. Mirrors
// services/otc-gateway/models.AutoMigrate.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Mandate{},
		&Payment{},
		&Hold{},
		&LedgerEntry{},
		&IdempotencyRecord{},
		&WebhookEvent{},
		&CanonicalJourney{},
		&Policy{},
		&ApprovalRequest{},
		&Decision{},
		&TrustRelation{},
		&DriftBreak{},
		&WalletBalance{},
		&HTTPIdempotencyRecord{},
	)
}
