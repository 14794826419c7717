package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"sardis/internal/ids"
	"sardis/internal/observability"
	"sardis/internal/orchestrator"
	"sardis/internal/policy"
	"sardis/internal/store"
)

// executeDeadline bounds the orchestrator call per spec §5's "30s
// orchestrator deadline" suspension point.
const executeDeadline = 30 * time.Second

type executePaymentRequest struct {
	MandateID         string `json:"mandate_id"`
	AgentID           string `json:"agent_id"`
	SubjectWallet     string `json:"subject_wallet"`
	Destination       string `json:"destination"`
	Rail              string `json:"rail"`
	Direction         string `json:"direction"`
	AmountMinor       string `json:"amount_minor"`
	Currency          string `json:"currency"`
	IdempotencyKey    string `json:"idempotency_key"`
	NLHintText        string `json:"nl_hint_text"`
	NLHintCapMinor    int64  `json:"nl_hint_cap_minor"`
}

// ExecutePayment handles POST /v2/payments/execute.
func (s *Server) ExecutePayment(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())

	var req executePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_PAYLOAD", "invalid payload")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	if req.IdempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION.MISSING_IDEMPOTENCY_KEY", "idempotency_key is required")
		return
	}

	amount, err := ids.NewMoney(req.AmountMinor, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_AMOUNT", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), executeDeadline)
	defer cancel()

	result, err := s.cfg.Orchestrator.Execute(ctx, orchestrator.ExecuteRequest{
		Mandate: policy.Mandate{
			MandateID: req.MandateID, AgentID: req.AgentID, OrgID: claims.OrgID,
			SubjectWallet: req.SubjectWallet, DestinationVendor: req.Destination,
			Rail: req.Rail, Amount: amount,
		},
		IdempotencyKey: req.IdempotencyKey, Direction: req.Direction,
		NLHintText: req.NLHintText, NLHintCapMinor: req.NLHintCapMinor,
	})
	if err != nil {
		s.handleExecuteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Blocked {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) handleExecuteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrTerminalInflight):
		writeError(w, http.StatusConflict, "PAYMENT.TERMINAL_INFLIGHT", err.Error())
	case errors.Is(err, observability.ErrWalletKillSwitched):
		writeError(w, http.StatusServiceUnavailable, "OPS.WALLET_KILL_SWITCHED", err.Error())
	case errors.Is(err, observability.ErrContainment):
		writeError(w, http.StatusServiceUnavailable, "OPS.CONTAINMENT", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL.UNEXPECTED", err.Error())
	}
}

// GetPayment handles GET /v2/payments/{id}.
func (s *Server) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "id")
	var p store.Payment
	if err := s.cfg.DB.Where("payment_id = ?", paymentID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "PAYMENT.NOT_FOUND", "payment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL.UNEXPECTED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
