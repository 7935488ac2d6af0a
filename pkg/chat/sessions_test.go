package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/barekit/ragchat/pkg/lock"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(inmemory.New())

	created, err := s.Create(ctx, "  Trip planning  ")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", created.Name)

	renamed, err := s.Rename(ctx, created.ID, "Japan trip")
	require.NoError(t, err)
	assert.Equal(t, "Japan trip", renamed.Name)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	msgs, err := s.Messages(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, s.Delete(ctx, created.ID))
	_, err = s.Get(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, created.ID), store.ErrNotFound)
}

func TestSessions_Validation(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(inmemory.New())

	_, err := s.Create(ctx, strings.Repeat("n", 256))
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	sess, err := s.Create(ctx, "")
	require.NoError(t, err)
	assert.True(t, store.IsDefaultName(sess.Name))

	_, err = s.Rename(ctx, sess.ID, "   ")
	assert.True(t, errors.As(err, &ve))

	_, err = s.Rename(ctx, "missing", "name")
	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type flakyIndexer struct {
	mu       sync.Mutex
	failures int
	dropped  []string
}

func (f *flakyIndexer) Index(context.Context, *store.MessageEmbedding) error { return nil }

func (f *flakyIndexer) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("index offline")
	}
	f.dropped = append(f.dropped, id)
	return nil
}

func TestSessions_DeleteReportsIndexFailure(t *testing.T) {
	ctx := context.Background()
	idx := &flakyIndexer{failures: 1}
	s := NewSessions(inmemory.New(), WithSessionIndexer(idx))
	sess, err := s.Create(ctx, "doomed")
	require.NoError(t, err)

	err = s.Delete(ctx, sess.ID)
	var pe *PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "drop session from index", pe.Op)
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The retry still reaches the index even though the store row is gone.
	assert.ErrorIs(t, s.Delete(ctx, sess.ID), store.ErrNotFound)
	assert.Equal(t, []string{sess.ID}, idx.dropped)
}

func TestSessions_DeleteWaitsForSessionLock(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocal()
	s := NewSessions(inmemory.New(), WithSessionLocker(locker))
	sess, err := s.Create(ctx, "busy")
	require.NoError(t, err)

	unlock, err := locker.Lock(ctx, sess.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Delete(ctx, sess.ID) }()

	select {
	case <-done:
		t.Fatal("delete finished while the session was locked")
	case <-time.After(50 * time.Millisecond):
	}
	_, err = s.Get(ctx, sess.ID)
	require.NoError(t, err)

	unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("delete did not resume after unlock")
	}
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions_DeleteLockTimeout(t *testing.T) {
	locker := lock.NewLocal()
	s := NewSessions(inmemory.New(), WithSessionLocker(locker))
	sess, err := s.Create(context.Background(), "busy")
	require.NoError(t, err)

	unlock, err := locker.Lock(context.Background(), sess.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Delete(ctx, sess.ID), context.DeadlineExceeded)

	_, err = s.Get(context.Background(), sess.ID)
	assert.NoError(t, err)
}
