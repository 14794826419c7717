package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sardis/internal/store/storetest"
)

func TestAdmitAcceptsNewEvent(t *testing.T) {
	db := storetest.NewDB(t)
	d := NewDedupe(db)

	id, err := d.Admit("ach-processor", "evt_1", BodyHash([]byte("{}")), []byte("{}"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestAdmitRejectsExactDuplicate(t *testing.T) {
	db := storetest.NewDB(t)
	d := NewDedupe(db)

	hash := BodyHash([]byte(`{"a":1}`))
	_, err := d.Admit("ach-processor", "evt_2", hash, []byte(`{"a":1}`))
	require.NoError(t, err)

	_, err = d.Admit("ach-processor", "evt_2", hash, []byte(`{"a":1}`))
	require.ErrorIs(t, err, ErrDuplicateEvent)
}

func TestAdmitFlagsBodyHashMismatchAsSuspicious(t *testing.T) {
	db := storetest.NewDB(t)
	d := NewDedupe(db)

	_, err := d.Admit("ach-processor", "evt_3", BodyHash([]byte(`{"a":1}`)), []byte(`{"a":1}`))
	require.NoError(t, err)

	_, err = d.Admit("ach-processor", "evt_3", BodyHash([]byte(`{"a":2}`)), []byte(`{"a":2}`))
	require.ErrorIs(t, err, ErrBodyMismatch)
}

func TestMarkProcessedAndMarkFailed(t *testing.T) {
	db := storetest.NewDB(t)
	d := NewDedupe(db)

	id, err := d.Admit("ach-processor", "evt_4", BodyHash([]byte("{}")), []byte("{}"))
	require.NoError(t, err)
	require.NoError(t, d.MarkProcessed(id))

	id2, err := d.Admit("ach-processor", "evt_5", BodyHash([]byte("{}")), []byte("{}"))
	require.NoError(t, err)
	require.NoError(t, d.MarkFailed(id2, "timeout"))
}
