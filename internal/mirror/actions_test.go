package mirror

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queued(id, name string, ts time.Time) QueuedAction {
	return QueuedAction{ID: id, Name: name, Params: json.RawMessage(`{"id":"` + id + `"}`), Timestamp: ts}
}

func TestActions_FIFOOrder(t *testing.T) {
	s := createTestStore(t)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"a3", "a1", "a2"} {
		require.NoError(t, s.InsertAction(bg, queued(id, "create_customer", ts)))
	}

	got, err := s.ListActions(bg)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a3", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)
	assert.Equal(t, "a2", got[2].ID)
	assert.JSONEq(t, `{"id":"a3"}`, string(got[0].Params))
	assert.True(t, ts.Equal(got[0].Timestamp))
	assert.Zero(t, got[0].Retries)
}

func TestActions_RecordFailureKeepsPosition(t *testing.T) {
	s := createTestStore(t)
	ts := time.Now()
	require.NoError(t, s.InsertAction(bg, queued("a1", "create_customer", ts)))
	require.NoError(t, s.InsertAction(bg, queued("a2", "create_customer", ts)))

	require.NoError(t, s.RecordFailure(bg, "a1", 1, "server said no"))

	got, err := s.ListActions(bg)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, 1, got[0].Retries)
	assert.Equal(t, "server said no", got[0].LastError)
}

func TestActions_NegativeRetriesRejected(t *testing.T) {
	s := createTestStore(t)
	a := queued("a1", "create_customer", time.Now())
	a.Retries = -1
	err := s.InsertAction(bg, a)
	assert.True(t, HasCode(err, CodeConstraint))
}

func TestActions_DuplicateIDRejected(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.InsertAction(bg, queued("a1", "create_customer", time.Now())))
	err := s.InsertAction(bg, queued("a1", "create_customer", time.Now()))
	assert.True(t, HasCode(err, CodeConstraint))
}

func TestActions_DropMovesToDroppedLog(t *testing.T) {
	dropTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := createTestStore(t, WithClock(func() time.Time { return dropTime }))

	a := queued("a1", "update_product", time.Now())
	require.NoError(t, s.InsertAction(bg, a))
	a.Retries = 3
	a.LastError = "conflict"

	dropped, err := s.DropAction(bg, a)
	require.NoError(t, err)
	assert.Equal(t, dropTime, dropped.DroppedAt)

	n, err := s.CountActions(bg)
	require.NoError(t, err)
	assert.Zero(t, n)

	log, err := s.ListDropped(bg)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "a1", log[0].ID)
	assert.Equal(t, "update_product", log[0].Name)
	assert.Equal(t, 3, log[0].Retries)
	assert.Equal(t, "conflict", log[0].LastError)
	assert.True(t, dropTime.Equal(log[0].DroppedAt))

	require.NoError(t, s.AcknowledgeDropped(bg, "a1", "unknown"))
	log, err = s.ListDropped(bg)
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestActions_DeleteAction(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.InsertAction(bg, queued("a1", "create_customer", time.Now())))
	require.NoError(t, s.DeleteAction(bg, "a1"))
	require.NoError(t, s.DeleteAction(bg, "a1"))

	n, err := s.CountActions(bg)
	require.NoError(t, err)
	assert.Zero(t, n)
}
