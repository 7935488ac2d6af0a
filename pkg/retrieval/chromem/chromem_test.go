package chromem

import (
	"context"
	"testing"
	"time"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func index(t *testing.T, e *Engine, id int64, session, content string, vec []float32) {
	t.Helper()
	require.NoError(t, e.Index(context.Background(), &store.MessageEmbedding{
		ID:        id,
		MessageID: id,
		SessionID: session,
		Content:   content,
		Role:      store.RoleUser,
		Embedding: vec,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, int(id), 0, time.UTC),
	}))
}

func TestEngine_Search(t *testing.T) {
	ctx := context.Background()
	e, err := New("", nil)
	require.NoError(t, err)

	index(t, e, 1, "a", "a1", []float32{1, 0})
	index(t, e, 2, "a", "a2", []float32{0.6, 0.8})
	index(t, e, 3, "b", "b1", []float32{0.9, 0.1})
	index(t, e, 4, "c", "c1", []float32{0, 1})
	index(t, e, 5, "c", "zero", []float32{0, 0})

	hits, err := e.Search(ctx, []float32{1, 0}, "b", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.NotEqual(t, "b", h.SessionID)
	}
	assert.Equal(t, "a1", hits[0].Content)
	assert.Equal(t, int64(1), hits[0].MessageID)
	assert.Equal(t, store.RoleUser, hits[0].Role)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)

	hits, err = e.Search(ctx, []float32{1, 0}, "a", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b1", hits[0].Content)

	hits, err = e.Search(ctx, []float32{0, 0}, "a", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestEngine_DeleteSession(t *testing.T) {
	ctx := context.Background()
	e, err := New("", nil)
	require.NoError(t, err)

	index(t, e, 1, "a", "a1", []float32{1, 0})
	index(t, e, 2, "b", "b1", []float32{1, 0})

	require.NoError(t, e.DeleteSession(ctx, "a"))

	hits, err := e.Search(ctx, []float32{1, 0}, "x", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].SessionID)

	require.NoError(t, e.DeleteSession(ctx, "never-existed"))
}

func TestEngine_NoCandidates(t *testing.T) {
	e, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	hits, err := e.Search(context.Background(), []float32{1, 0}, "a", 5)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}
