package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sardis/internal/webhook"
)

type webhookEnvelope struct {
	EventID string `json:"event_id"`
}

// IngestWebhook handles POST /v2/webhooks/{provider}: verifies the
// X-Signature header, admits the event into the dedupe store, and
// acknowledges. Applying the normalized event to the payment state
// machine happens on the webhook ingestion pool, not inline here, so
// this handler returns 2xx as soon as persist+lock is acquired, per
// spec §6.
func (s *Server) IngestWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	sub, ok := s.cfg.Subscriptions[provider]
	if !ok {
		writeError(w, http.StatusNotFound, "WEBHOOK.UNKNOWN_PROVIDER", "unknown provider")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION.BODY_UNREADABLE", "unable to read body")
		return
	}

	if err := webhook.VerifySignature(sub, r.Header.Get("X-Signature"), body, time.Now().UTC()); err != nil {
		writeError(w, http.StatusUnauthorized, "WEBHOOK.SIGNATURE_INVALID", err.Error())
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.EventID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION.MISSING_EVENT_ID", "event_id is required")
		return
	}

	_, err = s.cfg.WebhookDedupe.Admit(provider, envelope.EventID, webhook.BodyHash(body), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, webhook.ErrDuplicateEvent):
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate_suppressed"})
	case errors.Is(err, webhook.ErrBodyMismatch):
		writeError(w, http.StatusConflict, "WEBHOOK.BODY_MISMATCH", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL.UNEXPECTED", err.Error())
	}
}
