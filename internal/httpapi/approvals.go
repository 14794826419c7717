package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sardis/internal/approval"
)

type createApprovalRequest struct {
	Action        string `json:"action"`
	SubjectDigest string `json:"subject_digest"`
	MinReviewers  int    `json:"min_reviewers"`
	TTLSeconds    int    `json:"ttl_seconds"`
	Sensitive     bool   `json:"sensitive"`
}

// CreateApproval handles POST /v2/approvals.
func (s *Server) CreateApproval(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())

	var req createApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_PAYLOAD", "invalid payload")
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	id, err := s.cfg.Approvals.Create(claims.OrgID, req.Action, req.SubjectDigest, claims.Subject, req.MinReviewers, ttl, req.Sensitive)
	if err != nil {
		if errors.Is(err, approval.ErrQuorumTooLow) {
			writeError(w, http.StatusBadRequest, "APPROVAL.QUORUM_TOO_LOW", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL.UNEXPECTED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"approval_id": id.String()})
}

type decideApprovalRequest struct {
	Outcome string `json:"outcome"`
}

// DecideApproval handles POST /v2/approvals/{id}/decide.
func (s *Server) DecideApproval(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())
	approvalID := chi.URLParam(r, "id")

	var req decideApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_PAYLOAD", "invalid payload")
		return
	}

	status, err := s.cfg.Approvals.Decide(claims.OrgID, approvalID, claims.Subject, approval.Outcome(req.Outcome))
	if err != nil {
		s.handleApprovalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleApprovalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, approval.ErrSelfApproval):
		writeError(w, http.StatusForbidden, "APPROVAL.SELF_APPROVAL", err.Error())
	case errors.Is(err, approval.ErrDuplicateVote):
		writeError(w, http.StatusConflict, "APPROVAL.DUPLICATE_VOTE", err.Error())
	case errors.Is(err, approval.ErrNotPending):
		writeError(w, http.StatusConflict, "APPROVAL.NOT_PENDING", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL.UNEXPECTED", err.Error())
	}
}
