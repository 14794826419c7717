package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/ids"
	"sardis/internal/store"
)

// ErrDuplicateEvent is returned when (provider, provider_event_id) has
// already been admitted, regardless of whether processing finished.
var ErrDuplicateEvent = errors.New("webhook: duplicate event")

// ErrBodyMismatch is returned when a repeated provider_event_id arrives
// with a different body hash than the one originally admitted — treated
// as suspicious rather than silently re-processed.
var ErrBodyMismatch = errors.New("webhook: body hash mismatch on replay")

// Dedupe single-flights webhook admission by (provider, provider_event_id)
// using a row-locked upsert-or-reject, mirroring the idempotency store's
// admission pattern.
type Dedupe struct {
	db *gorm.DB
}

// NewDedupe constructs a Dedupe store backed by db.
func NewDedupe(db *gorm.DB) *Dedupe {
	return &Dedupe{db: db}
}

// Admit records a new inbound event or reports why it was rejected. On
// success it returns the newly created event id for downstream
// processing.
func (d *Dedupe) Admit(provider, providerEventID, rawBodyHash string, payload []byte) (ids.ID, error) {
	var newID ids.ID
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var existing store.WebhookEvent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.BodyHash != rawBodyHash {
				existing.Status = "suspicious"
				if saveErr := tx.Save(&existing).Error; saveErr != nil {
					return saveErr
				}
				dedupeMetrics().recordRejected(provider, "body_mismatch")
				return ErrBodyMismatch
			}
			dedupeMetrics().recordRejected(provider, "duplicate")
			return ErrDuplicateEvent
		case errors.Is(err, gorm.ErrRecordNotFound):
			newID = ids.New(ids.KindProviderEvent)
			event := store.WebhookEvent{
				ID:              string(newID),
				Provider:        provider,
				ProviderEventID: providerEventID,
				BodyHash:        rawBodyHash,
				Payload:         payload,
				Status:          "received",
				ReceivedAt:      time.Now().UTC(),
			}
			return tx.Create(&event).Error
		default:
			return err
		}
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}

// MarkProcessed transitions event to a terminal processed state.
func (d *Dedupe) MarkProcessed(eventID ids.ID) error {
	return d.db.Model(&store.WebhookEvent{}).
		Where("id = ?", string(eventID)).
		Update("status", "processed").Error
}

// MarkFailed records a failed processing attempt with reason, leaving
// the event eligible for the retry worker to pick up again.
func (d *Dedupe) MarkFailed(eventID ids.ID, reason string) error {
	return d.db.Model(&store.WebhookEvent{}).
		Where("id = ?", string(eventID)).
		Updates(map[string]any{"status": "failed", "last_error": reason}).Error
}

var (
	dedupeMetricsOnce sync.Once
	sharedDedupeMetrics *webhookDedupeMetrics
)

// webhookDedupeMetrics is an OpenTelemetry-metrics counter for admission
// rejections, grounded on the teacher's
// services/escrow-gateway/webhook_queue.go webhookQueueMetrics: a
// process-global counter lazily bound to whatever MeterProvider the
// process registered, falling back to a no-op meter if the provider
// rejects the instrument name. This is separate from the Prometheus
// counters internal/observability exposes on /metrics — it rides the
// same OTLP export path InitTelemetry configures for traces.
type webhookDedupeMetrics struct {
	rejected metric.Int64Counter
}

func dedupeMetrics() *webhookDedupeMetrics {
	dedupeMetricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("sardis/webhook")
		counter, err := meter.Int64Counter("sardis.webhook.admissions_rejected")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("sardis/webhook")
			counter, _ = fallback.Int64Counter("sardis.webhook.admissions_rejected")
		}
		sharedDedupeMetrics = &webhookDedupeMetrics{rejected: counter}
	})
	return sharedDedupeMetrics
}

func (m *webhookDedupeMetrics) recordRejected(provider, reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("reason", reason),
	))
}
