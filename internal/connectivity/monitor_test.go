package connectivity

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) listen(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, online)
}

func (r *recorder) got() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestNew_InitialStateFromSource(t *testing.T) {
	assert.True(t, New(NewManualSource(true)).IsOnline())
	assert.False(t, New(NewManualSource(false)).IsOnline())
	assert.Equal(t, Offline, New(NewManualSource(false)).State())
}

func TestSet_NotifiesOncePerTransition(t *testing.T) {
	m := New(NewManualSource(false))
	var rec recorder
	m.Subscribe(rec.listen)

	assert.False(t, m.Set(false), "redundant offline signal")
	assert.True(t, m.Set(true))
	assert.False(t, m.Set(true), "redundant online signal")
	assert.True(t, m.Set(false))

	assert.Equal(t, []bool{true, false}, rec.got())
	assert.False(t, m.IsOnline())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	m := New(NewManualSource(false))
	var a, b recorder
	unsubA := m.Subscribe(a.listen)
	m.Subscribe(b.listen)

	m.Set(true)
	unsubA()
	unsubA()
	m.Set(false)

	assert.Equal(t, []bool{true}, a.got())
	assert.Equal(t, []bool{true, false}, b.got())
}

func TestRun_ConsumesSourceEvents(t *testing.T) {
	src := NewManualSource(false)
	m := New(src)
	var rec recorder
	m.Subscribe(rec.listen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	src.Set(true)
	src.Set(true)
	src.Set(false)

	require.Eventually(t, func() bool { return len(rec.got()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.got())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFileSource_MarkerDrivesState(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "online")

	src, err := NewFileSource(marker, nil)
	require.NoError(t, err)
	defer src.Close()

	m := New(src)
	assert.False(t, m.IsOnline())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, os.WriteFile(marker, nil, 0o644))
	require.Eventually(t, m.IsOnline, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(marker))
	require.Eventually(t, func() bool { return !m.IsOnline() }, 2*time.Second, 10*time.Millisecond)
}

func TestFileSource_CloseIsIdempotent(t *testing.T) {
	src, err := NewFileSource(filepath.Join(t.TempDir(), "online"), nil)
	require.NoError(t, err)
	require.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}
