package webhook

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sardis/internal/store"
)

// MaxDeliveryAttempts is the total number of processing attempts (first
// try plus retries) before an event is parked as permanently failed for
// operator review.
const MaxDeliveryAttempts = 5

// BaseBackoff is the first retry delay; each subsequent attempt doubles
// it, capped at MaxBackoff. Grounded on the teacher's
// services/escrow-gateway/webhook.go WebhookWorker retry schedule.
const BaseBackoff = time.Second

// MaxBackoff caps the exponential backoff delay.
const MaxBackoff = 5 * time.Minute

// Handler processes one admitted webhook event's decoded payload.
type Handler func(ctx context.Context, event store.WebhookEvent) error

// Worker drains failed/pending events on a backoff schedule and applies
// handler, re-parking on further failure until MaxDeliveryAttempts is
// exhausted.
type Worker struct {
	db      *gorm.DB
	handler Handler
}

// NewWorker constructs a retry Worker bound to db and handler.
func NewWorker(db *gorm.DB, handler Handler) *Worker {
	return &Worker{db: db, handler: handler}
}

func backoffFor(attempt int) time.Duration {
	d := BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return d
}

// RunOnce processes all events due for delivery or retry as of now,
// returning the count processed. It is intended to be called from a
// ticker loop in the daemon entrypoint.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) (int, error) {
	var due []store.WebhookEvent
	if err := w.db.WithContext(ctx).
		Where("status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			[]string{"received", "failed"}, now).
		Find(&due).Error; err != nil {
		return 0, err
	}

	processed := 0
	for _, event := range due {
		if err := w.deliverOne(ctx, event, now); err != nil {
			continue
		}
		processed++
	}
	return processed, nil
}

func (w *Worker) deliverOne(ctx context.Context, event store.WebhookEvent, now time.Time) error {
	return w.db.Transaction(func(tx *gorm.DB) error {
		var locked store.WebhookEvent
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", event.ID).First(&locked).Error; err != nil {
			return err
		}
		if locked.Status != "received" && locked.Status != "failed" {
			return nil // already resolved by a concurrent delivery
		}

		handleErr := w.handler(ctx, locked)
		if handleErr == nil {
			locked.Status = "processed"
			locked.LastError = ""
			return tx.Save(&locked).Error
		}

		locked.Attempts++
		locked.LastError = handleErr.Error()
		if locked.Attempts >= MaxDeliveryAttempts {
			locked.Status = "failed_permanent"
		} else {
			locked.Status = "failed"
			locked.NextAttemptAt = now.Add(backoffFor(locked.Attempts - 1))
		}
		return tx.Save(&locked).Error
	})
}
