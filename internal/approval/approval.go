// Package approval implements the Approval Manager (C5): request,
// decide, status, cancel and expiry sweep over maker-checker quorum,
// grounded on the teacher's services/otc-gateway/models.Decision
// maker-checker record and the approval-violation checks in
// server/sign_submit.go (a request's creator may never also approve it).
package approval

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/ids"
	"sardis/internal/ledger"
	"sardis/internal/store"
)

// Status mirrors spec §3's ApprovalRequest status enum.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Outcome is one reviewer's vote.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeDeny    Outcome = "deny"
)

var (
	ErrSelfApproval   = errors.New("approval: requester may not also be a reviewer")
	ErrDuplicateVote  = errors.New("approval: reviewer has already voted")
	ErrNotPending     = errors.New("approval: request is not pending")
	ErrQuorumTooLow   = errors.New("approval: sensitive mutations require at least 2 reviewers")
)

// Manager is the Approval Manager.
type Manager struct {
	db     *gorm.DB
	ledger *ledger.Ledger
}

// New constructs a Manager.
func New(db *gorm.DB, l *ledger.Ledger) *Manager {
	return &Manager{db: db, ledger: l}
}

// Create opens a new ApprovalRequest. sensitive must be true for mutation
// of control structures such as trust relations, which enforces
// minReviewers >= 2.
func (m *Manager) Create(orgID, action, subjectDigest, requestedBy string, minReviewers int, ttl time.Duration, sensitive bool) (ids.ID, error) {
	if sensitive && minReviewers < 2 {
		return "", ErrQuorumTooLow
	}
	if minReviewers < 1 {
		minReviewers = 1
	}
	id := ids.New(ids.KindApproval)
	now := time.Now().UTC()
	req := store.ApprovalRequest{
		ApprovalID: id.String(), Action: action, SubjectDigest: subjectDigest,
		RequestedBy: requestedBy, Status: string(StatusPending),
		MinReviewers: minReviewers, ExpiresAt: now.Add(ttl), CreatedAt: now,
	}
	if err := m.db.Create(&req).Error; err != nil {
		return "", fmt.Errorf("approval: create: %w", err)
	}
	if m.ledger != nil {
		if _, err := m.ledger.Append(orgID, ledger.KindApprovalCreated, req); err != nil {
			return "", err
		}
	}
	return id, nil
}

// Decide records a reviewer's vote, enforcing the distinct-reviewer and
// no-self-approval invariants inside a row-locked transaction, the same
// locking discipline the teacher applies in sign_submit.go.
func (m *Manager) Decide(orgID, approvalID, reviewerID string, outcome Outcome) (Status, error) {
	var finalStatus Status
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var req store.ApprovalRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("approval_id = ?", approvalID).First(&req).Error; err != nil {
			return err
		}
		if Status(req.Status) != StatusPending {
			return ErrNotPending
		}
		if time.Now().UTC().After(req.ExpiresAt) {
			req.Status = string(StatusExpired)
			finalStatus = StatusExpired
			return tx.Save(&req).Error
		}
		if reviewerID == req.RequestedBy {
			return ErrSelfApproval
		}
		var existing store.Decision
		err := tx.Where("approval_id = ? AND reviewer_id = ?", approvalID, reviewerID).First(&existing).Error
		if err == nil {
			return ErrDuplicateVote
		} else if err != gorm.ErrRecordNotFound {
			return err
		}

		decision := store.Decision{
			DecisionID: ids.New(ids.KindDecision).String(), ApprovalID: approvalID,
			ReviewerID: reviewerID, Outcome: string(outcome), CreatedAt: time.Now().UTC(),
		}
		if err := tx.Create(&decision).Error; err != nil {
			return err
		}

		if outcome == OutcomeDeny {
			// A denied vote is sticky: one denial settles the request.
			req.Status = string(StatusDenied)
			finalStatus = StatusDenied
			return tx.Save(&req).Error
		}

		var approveCount int64
		if err := tx.Model(&store.Decision{}).
			Where("approval_id = ? AND outcome = ?", approvalID, string(OutcomeApprove)).
			Count(&approveCount).Error; err != nil {
			return err
		}
		if int(approveCount) >= req.MinReviewers {
			req.Status = string(StatusApproved)
			finalStatus = StatusApproved
			return tx.Save(&req).Error
		}
		finalStatus = StatusPending
		return nil
	})
	if err != nil {
		return "", err
	}
	if m.ledger != nil && finalStatus != StatusPending {
		if _, err := m.ledger.Append(orgID, ledger.KindApprovalDecided, map[string]any{
			"approval_id": approvalID, "status": finalStatus,
		}); err != nil {
			return finalStatus, err
		}
	}
	return finalStatus, nil
}

// Status returns the current ApprovalRequest row, re-reading from the
// store rather than any in-memory hand-off, per spec §4.2.
func (m *Manager) Status(approvalID string) (*store.ApprovalRequest, error) {
	var req store.ApprovalRequest
	if err := m.db.Where("approval_id = ?", approvalID).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// Cancel marks a pending request cancelled with an operator-supplied
// reason.
func (m *Manager) Cancel(orgID, approvalID, reason string) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var req store.ApprovalRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("approval_id = ?", approvalID).First(&req).Error; err != nil {
			return err
		}
		if Status(req.Status) != StatusPending {
			return ErrNotPending
		}
		req.Status = string(StatusCancelled)
		if err := tx.Save(&req).Error; err != nil {
			return err
		}
		if m.ledger != nil {
			_, err := m.ledger.Append(orgID, ledger.KindApprovalDecided, map[string]any{
				"approval_id": approvalID, "status": StatusCancelled, "reason": reason,
			})
			return err
		}
		return nil
	})
}

// ExpireSweep auto-transitions every pending request past its
// expires_at to expired, run on the scheduled maintenance pool.
func (m *Manager) ExpireSweep(orgID string) (int, error) {
	now := time.Now().UTC()
	var expired []store.ApprovalRequest
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND expires_at < ?", string(StatusPending), now).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		ids := make([]string, len(expired))
		for i, r := range expired {
			ids[i] = r.ApprovalID
		}
		return tx.Model(&store.ApprovalRequest{}).
			Where("approval_id IN ?", ids).
			Update("status", string(StatusExpired)).Error
	})
	if err != nil {
		return 0, err
	}
	if m.ledger != nil {
		for _, r := range expired {
			if _, err := m.ledger.Append(orgID, ledger.KindApprovalExpired, map[string]any{"approval_id": r.ApprovalID}); err != nil {
				return len(expired), err
			}
		}
	}
	return len(expired), nil
}
