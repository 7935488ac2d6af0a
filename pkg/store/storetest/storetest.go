// Package storetest holds behaviour tests shared by every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s against the store.Store contract. newStore must return an
// empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("messages ordered", func(t *testing.T) { testMessageOrder(t, newStore(t)) })
	t.Run("cascade delete", func(t *testing.T) { testCascadeDelete(t, newStore(t)) })
	t.Run("write to deleted session fails", func(t *testing.T) { testWriteAfterDelete(t, newStore(t)) })
	t.Run("scan excludes session", func(t *testing.T) { testScanExcludes(t, newStore(t)) })
	t.Run("default session", func(t *testing.T) { testEnsureDefault(t, newStore(t)) })
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, store.IsDefaultName(first.Name))

	time.Sleep(5 * time.Millisecond)
	second, err := s.CreateSession(ctx, "Go questions")
	require.NoError(t, err)

	got, err := s.GetSession(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go questions", got.Name)

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest session first")

	require.NoError(t, s.UpdateSessionName(ctx, first.ID, "Renamed"))
	got, err = s.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	_, err = s.GetSession(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, errors.Is(s.UpdateSessionName(ctx, "missing", "x"), store.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteSession(ctx, "missing"), store.ErrNotFound))
}

func testMessageOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "order")
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	late := &store.Message{SessionID: sess.ID, Role: store.RoleAssistant, Content: "late", Timestamp: ts.Add(time.Minute)}
	tieA := &store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: "tie a", Timestamp: ts}
	tieB := &store.Message{SessionID: sess.ID, Role: store.RoleAssistant, Content: "tie b", Timestamp: ts}
	for _, m := range []*store.Message{late, tieA, tieB} {
		require.NoError(t, s.CreateMessage(ctx, m))
		assert.NotZero(t, m.ID)
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "tie a", msgs[0].Content)
	assert.Equal(t, "tie b", msgs[1].Content)
	assert.Equal(t, "late", msgs[2].Content)

	tokens := 12
	elapsed := 1500 * time.Millisecond
	withMeta := &store.Message{SessionID: sess.ID, Role: store.RoleAssistant, Content: "meta", TokenCount: &tokens, ProcessingTime: &elapsed}
	require.NoError(t, s.CreateMessage(ctx, withMeta))
	assert.False(t, withMeta.Timestamp.IsZero())

	msgs, err = s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	last := msgs[len(msgs)-1]
	require.NotNil(t, last.TokenCount)
	assert.Equal(t, 12, *last.TokenCount)
	require.NotNil(t, last.ProcessingTime)
	assert.Equal(t, elapsed, *last.ProcessingTime)
}

func testCascadeDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	doomed, err := s.CreateSession(ctx, "doomed")
	require.NoError(t, err)
	kept, err := s.CreateSession(ctx, "kept")
	require.NoError(t, err)

	for _, sess := range []*store.Session{doomed, kept} {
		msg := &store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: "hello from " + sess.Name}
		require.NoError(t, s.CreateMessage(ctx, msg))
		require.NoError(t, s.CreateEmbedding(ctx, &store.MessageEmbedding{
			MessageID: msg.ID,
			SessionID: sess.ID,
			Content:   msg.Content,
			Role:      msg.Role,
			Embedding: []float32{1, 0, 0},
		}))
	}

	require.NoError(t, s.DeleteSession(ctx, doomed.ID))

	_, err = s.GetSession(ctx, doomed.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	msgs, err := s.ListMessages(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	var seen []string
	require.NoError(t, s.ScanEmbeddings(ctx, "", func(e *store.MessageEmbedding) error {
		seen = append(seen, e.SessionID)
		return nil
	}))
	assert.Equal(t, []string{kept.ID}, seen)
}

func testWriteAfterDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	gone, err := s.CreateSession(ctx, "gone")
	require.NoError(t, err)
	live, err := s.CreateSession(ctx, "live")
	require.NoError(t, err)

	early := &store.Message{SessionID: gone.ID, Role: store.RoleUser, Content: "early"}
	require.NoError(t, s.CreateMessage(ctx, early))
	require.NoError(t, s.DeleteSession(ctx, gone.ID))

	late := &store.Message{SessionID: gone.ID, Role: store.RoleUser, Content: "late"}
	assert.ErrorIs(t, s.CreateMessage(ctx, late), store.ErrNotFound)
	assert.ErrorIs(t, s.CreateEmbedding(ctx, &store.MessageEmbedding{
		MessageID: early.ID,
		SessionID: gone.ID,
		Content:   "late",
		Role:      store.RoleUser,
		Embedding: []float32{1, 0, 0},
	}), store.ErrNotFound)

	msgs, err := s.ListMessages(ctx, gone.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	var seen int
	require.NoError(t, s.ScanEmbeddings(ctx, live.ID, func(*store.MessageEmbedding) error {
		seen++
		return nil
	}))
	assert.Zero(t, seen)
}

func testScanExcludes(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, err := s.CreateSession(ctx, "a")
	require.NoError(t, err)
	b, err := s.CreateSession(ctx, "b")
	require.NoError(t, err)

	vec := []float32{0.25, -0.5, 0.75}
	for _, sess := range []*store.Session{a, b} {
		msg := &store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: sess.Name}
		require.NoError(t, s.CreateMessage(ctx, msg))
		emb := &store.MessageEmbedding{MessageID: msg.ID, SessionID: sess.ID, Content: msg.Content, Role: msg.Role, Embedding: vec}
		require.NoError(t, s.CreateEmbedding(ctx, emb))
		assert.NotZero(t, emb.ID)
	}

	var got []*store.MessageEmbedding
	require.NoError(t, s.ScanEmbeddings(ctx, a.ID, func(e *store.MessageEmbedding) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].SessionID)
	assert.Equal(t, "b", got[0].Content)
	assert.Equal(t, store.RoleUser, got[0].Role)
	assert.InDeltaSlice(t, vec, got[0].Embedding, 1e-6)

	stop := errors.New("stop")
	err = s.ScanEmbeddings(ctx, "", func(*store.MessageEmbedding) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func testEnsureDefault(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.EnsureDefaultSession(ctx)
	require.NoError(t, err)
	assert.True(t, store.IsDefaultName(created.Name))

	again, err := s.EnsureDefaultSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
