package httpapi

import (
	"errors"
	"net/http"

	"sardis/internal/treasury"
)

type treasuryAdjustRequest struct {
	WalletID    string `json:"wallet_id"`
	AmountMinor string `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// FundTreasury handles POST /v2/treasury/fund.
func (s *Server) FundTreasury(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())

	var req treasuryAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_PAYLOAD", "invalid payload")
		return
	}

	balance, err := s.cfg.Treasury.Fund(claims.OrgID, req.WalletID, req.AmountMinor, req.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_AMOUNT", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance_minor": balance})
}

// WithdrawTreasury handles POST /v2/treasury/withdraw.
func (s *Server) WithdrawTreasury(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())

	var req treasuryAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_PAYLOAD", "invalid payload")
		return
	}

	balance, err := s.cfg.Treasury.Withdraw(claims.OrgID, req.WalletID, req.AmountMinor, req.Currency)
	if err != nil {
		if errors.Is(err, treasury.ErrInsufficientBalance) {
			writeError(w, http.StatusUnprocessableEntity, "TREASURY.INSUFFICIENT_BALANCE", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_AMOUNT", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance_minor": balance})
}

// TreasuryBalances handles GET /v2/treasury/balances?wallet_id=....
func (s *Server) TreasuryBalances(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())
	walletID := r.URL.Query().Get("wallet_id")
	if walletID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION.MISSING_WALLET_ID", "wallet_id is required")
		return
	}

	balances, err := s.cfg.Treasury.Balances(claims.OrgID, walletID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL.UNEXPECTED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, balances)
}
