package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sardis/internal/store"
	"sardis/internal/store/storetest"
)

func TestBackoffForDoublesUntilCap(t *testing.T) {
	require.Equal(t, time.Second, backoffFor(0))
	require.Equal(t, 2*time.Second, backoffFor(1))
	require.Equal(t, 4*time.Second, backoffFor(2))
	require.Equal(t, 8*time.Second, backoffFor(3))
	require.Equal(t, MaxBackoff, backoffFor(20))
}

func TestRunOnceDeliversPendingEvent(t *testing.T) {
	db := storetest.NewDB(t)
	d := NewDedupe(db)
	id, err := d.Admit("ach-processor", "evt_delivered", BodyHash([]byte("{}")), []byte("{}"))
	require.NoError(t, err)

	var handled []string
	w := NewWorker(db, func(ctx context.Context, event store.WebhookEvent) error {
		handled = append(handled, event.ID)
		return nil
	})

	n, err := w.RunOnce(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{string(id)}, handled)
}

func TestRunOnceBacksOffOnFailureAndRetriesLater(t *testing.T) {
	db := storetest.NewDB(t)
	d := NewDedupe(db)
	_, err := d.Admit("ach-processor", "evt_retry", BodyHash([]byte("{}")), []byte("{}"))
	require.NoError(t, err)

	attempts := 0
	w := NewWorker(db, func(ctx context.Context, event store.WebhookEvent) error {
		attempts++
		return errors.New("processor unavailable")
	})

	now := time.Now()
	n, err := w.RunOnce(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, attempts)

	n, err = w.RunOnce(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 0, n, "should not retry before backoff elapses")

	n, err = w.RunOnce(context.Background(), now.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, attempts)
}

func TestRunOnceParksPermanentlyAfterMaxAttempts(t *testing.T) {
	db := storetest.NewDB(t)
	d := NewDedupe(db)
	_, err := d.Admit("ach-processor", "evt_exhaust", BodyHash([]byte("{}")), []byte("{}"))
	require.NoError(t, err)

	w := NewWorker(db, func(ctx context.Context, event store.WebhookEvent) error {
		return errors.New("processor unavailable")
	})

	now := time.Now()
	for i := 0; i < MaxDeliveryAttempts; i++ {
		_, err := w.RunOnce(context.Background(), now)
		require.NoError(t, err)
		now = now.Add(MaxBackoff + time.Second)
	}

	var event store.WebhookEvent
	require.NoError(t, db.Where("provider_event_id = ?", "evt_exhaust").First(&event).Error)
	require.Equal(t, "failed_permanent", event.Status)
}
