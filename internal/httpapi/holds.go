package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sardis/internal/hold"
)

type openHoldRequest struct {
	WalletID    string `json:"wallet_id"`
	AmountMinor string `json:"amount_minor"`
	Currency    string `json:"currency"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

// OpenHold handles POST /v2/holds.
func (s *Server) OpenHold(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())

	var req openHoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_PAYLOAD", "invalid payload")
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	id, err := s.cfg.Holds.Open(claims.OrgID, req.WalletID, req.AmountMinor, req.Currency, ttl)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_HOLD", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hold_id": id.String()})
}

type captureHoldRequest struct {
	CaptureMinor string `json:"capture_minor"`
}

// CaptureHold handles POST /v2/holds/{id}/capture.
func (s *Server) CaptureHold(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())
	holdID := chi.URLParam(r, "id")

	var req captureHoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_PAYLOAD", "invalid payload")
		return
	}

	if err := s.cfg.Holds.Capture(claims.OrgID, holdID, req.CaptureMinor); err != nil {
		s.handleHoldError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "captured"})
}

// VoidHold handles POST /v2/holds/{id}/void.
func (s *Server) VoidHold(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())
	holdID := chi.URLParam(r, "id")

	if err := s.cfg.Holds.Void(claims.OrgID, holdID); err != nil {
		s.handleHoldError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "voided"})
}

func (s *Server) handleHoldError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hold.ErrNotActive):
		writeError(w, http.StatusConflict, "HOLD.NOT_ACTIVE", err.Error())
	case errors.Is(err, hold.ErrCaptureExceedsReserved):
		writeError(w, http.StatusUnprocessableEntity, "HOLD.CAPTURE_EXCEEDS_RESERVED", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL.UNEXPECTED", err.Error())
	}
}
