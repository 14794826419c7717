package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"sardis/internal/ledger"
	"sardis/internal/observability"
)

func guardrailMode(mode string) observability.FailoverMode {
	switch observability.FailoverMode(mode) {
	case observability.FailoverDegraded:
		return observability.FailoverDegraded
	case observability.FailoverContainment:
		return observability.FailoverContainment
	default:
		return observability.FailoverNormal
	}
}

const wsWriteTimeout = 10 * time.Second

type killWalletRequest struct {
	WalletID string `json:"wallet_id"`
}

// KillWallet handles POST /v2/ops/wallets/{id}/kill: flips the per-wallet
// kill-switch the orchestrator reads on every execute call. The flag
// lives in the running process's Guardrails registry, not a database
// row, so this must be called against the node actually serving traffic.
func (s *Server) KillWallet(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "id")
	s.cfg.Guardrails.KillWallet(walletID)
	writeJSON(w, http.StatusOK, map[string]string{"wallet_id": walletID, "status": "killed"})
}

// ReviveWallet handles POST /v2/ops/wallets/{id}/revive.
func (s *Server) ReviveWallet(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "id")
	s.cfg.Guardrails.ReviveWallet(walletID)
	writeJSON(w, http.StatusOK, map[string]string{"wallet_id": walletID, "status": "revived"})
}

type setFailoverModeRequest struct {
	Mode string `json:"mode"`
}

// SetFailoverMode handles POST /v2/ops/failover-mode: transitions the
// deterministic Normal/Degraded/Containment posture, per spec §7.
func (s *Server) SetFailoverMode(w http.ResponseWriter, r *http.Request) {
	var req setFailoverModeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.INVALID_PAYLOAD", "invalid payload")
		return
	}
	s.cfg.Guardrails.SetMode(guardrailMode(req.Mode))
	writeJSON(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

// StreamJourneys handles GET /v2/ops/stream: a websocket feed of the
// caller's org's ledger entries, polled every two seconds and pushed in
// seq order, grounded on the teacher's rpc.handlePOSFinalityWS/streamPOSFinality
// polling-and-push pattern. Each connection starts from the org's first
// entry; the cursor lives only as long as the connection, so a client
// that reconnects receives the entries again from the start.
func (s *Server) StreamJourneys(w http.ResponseWriter, r *http.Request) {
	claims, _ := FromContext(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	cursor := ledger.Cursor{OrgID: claims.OrgID}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, next, err := s.cfg.Ledger.List(claims.OrgID, cursor, 100)
			if err != nil {
				_ = conn.Close(websocket.StatusInternalError, "ledger list failed")
				return
			}
			cursor = next
			for _, entry := range entries {
				if err := writeJourneyEntry(ctx, conn, entry); err != nil {
					return
				}
			}
		}
	}
}

func writeJourneyEntry(ctx context.Context, conn *websocket.Conn, entry any) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
