package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sardis/internal/ledger"
)

// GetLedgerEntry handles GET /v2/ledger/entries/{ltx_id}.
func (s *Server) GetLedgerEntry(w http.ResponseWriter, r *http.Request) {
	ltxID := chi.URLParam(r, "ltx_id")

	entry, err := s.cfg.Ledger.Get(ltxID)
	if err != nil {
		writeError(w, http.StatusNotFound, "LEDGER.ENTRY_NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// VerifyLedgerEntry handles GET /v2/ledger/entries/{ltx_id}/verify.
func (s *Server) VerifyLedgerEntry(w http.ResponseWriter, r *http.Request) {
	ltxID := chi.URLParam(r, "ltx_id")

	report, err := s.cfg.Ledger.Verify(ltxID)
	if err != nil {
		if errors.Is(err, ledger.ErrDurableStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "LEDGER.STORE_UNAVAILABLE", err.Error())
			return
		}
		writeError(w, http.StatusNotFound, "LEDGER.ENTRY_NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
