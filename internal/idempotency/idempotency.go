// Package idempotency implements the (scope, key) -> prior outcome store
// (C3), generalized from the teacher's
// services/otc-gateway/middleware.WithIdempotency and
// services/payments-gateway/server.go's idempotency-header handling.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/store"
)

// State mirrors spec §3's idempotency record state enum.
type State string

const (
	StateInFlight State = "in_flight"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrDigestMismatch is returned when the same (scope, key) is reused with
// a different request payload digest — a 409 per spec §7.
var ErrDigestMismatch = errors.New("idempotency: key reused with different payload digest")

// ErrInFlight is returned when a concurrent call for the same key is
// already being processed.
var ErrInFlight = errors.New("idempotency: request already in flight")

// Store is the persistent (scope, key) idempotency table, backed by
// row-level locks for single-flight admission exactly as the teacher's
// middleware does with its IdempotencyKey table.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
}

// New constructs a Store with the given default record TTL.
func New(db *gorm.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl}
}

// DigestPayload returns the SHA-256 hex digest of an arbitrary
// JSON-marshalable request payload, the same stdlib-hash approach the
// teacher uses for its own idempotency request digest.
func DigestPayload(payload any) (string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("idempotency: marshal payload: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// Outcome is what Begin returns when a key is already resolved.
type Outcome struct {
	State         State
	ResultPayload string
}

// Begin attempts to claim (scope, key) for processing. If a completed
// record already exists with a matching digest, it is returned as-is
// (P1: same key + same payload digest => identical observable outcome).
// A matching in-flight record returns ErrInFlight. A mismatched digest on
// an existing record returns ErrDigestMismatch.
func (s *Store) Begin(scope, key, requestDigest string) (*Outcome, error) {
	var outcome *Outcome
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var rec store.IdempotencyRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("scope = ? AND key = ?", scope, key).First(&rec).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			now := time.Now().UTC()
			rec = store.IdempotencyRecord{
				Scope: scope, Key: key, State: string(StateInFlight),
				ResultDigest: requestDigest, CreatedAt: now, ExpiresAt: now.Add(s.ttl),
			}
			return tx.Create(&rec).Error
		case err != nil:
			return err
		}
		if rec.ResultDigest != requestDigest {
			return ErrDigestMismatch
		}
		switch State(rec.State) {
		case StateInFlight:
			return ErrInFlight
		case StateCompleted, StateFailed:
			outcome = &Outcome{State: State(rec.State), ResultPayload: rec.ResultPayload}
			return nil
		}
		return fmt.Errorf("idempotency: unknown state %q", rec.State)
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// Complete finalizes an in-flight record with a terminal state and
// result payload.
func (s *Store) Complete(scope, key string, state State, resultPayload any) error {
	if state != StateCompleted && state != StateFailed {
		return fmt.Errorf("idempotency: invalid terminal state %q", state)
	}
	buf, err := json.Marshal(resultPayload)
	if err != nil {
		return fmt.Errorf("idempotency: marshal result: %w", err)
	}
	return s.db.Model(&store.IdempotencyRecord{}).
		Where("scope = ? AND key = ?", scope, key).
		Updates(map[string]any{"state": string(state), "result_payload": string(buf)}).Error
}

// Sweep deletes expired records. Intended to run on the scheduled
// maintenance pool alongside the reconciliation sweep.
func (s *Store) Sweep(now time.Time) (int64, error) {
	res := s.db.Where("expires_at < ?", now).Delete(&store.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
