package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/barekit/ragchat/pkg/embedding/hashing"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)

	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero magnitude")
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 1}), "dimension mismatch")
	assert.Zero(t, CosineSimilarity(nil, nil))
}

func TestRank(t *testing.T) {
	now := time.Now()
	hits := []Hit{
		{MessageID: 1, Score: 0.5, CreatedAt: now},
		{MessageID: 2, Score: 0.9, CreatedAt: now},
		{MessageID: 3, Score: 0.5, CreatedAt: now.Add(time.Second)},
		{MessageID: 4, Score: 0.5, CreatedAt: now},
	}

	ranked := Rank(hits, 3)
	require.Len(t, ranked, 3)
	assert.Equal(t, int64(2), ranked[0].MessageID)
	assert.Equal(t, int64(3), ranked[1].MessageID, "newer first on equal score")
	assert.Equal(t, int64(4), ranked[2].MessageID, "higher id first on equal time")

	assert.Len(t, Rank(make([]Hit, 10), 0), DefaultTopK)
}

type fixture struct {
	store *inmemory.InMemory
}

func (f fixture) add(t *testing.T, sessionID, content string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	msg := &store.Message{SessionID: sessionID, Role: store.RoleUser, Content: content}
	require.NoError(t, f.store.CreateMessage(ctx, msg))
	require.NoError(t, f.store.CreateEmbedding(ctx, &store.MessageEmbedding{
		MessageID: msg.ID,
		SessionID: sessionID,
		Content:   content,
		Role:      msg.Role,
		Embedding: vec,
	}))
}

func newSession(t *testing.T, s store.Store, name string) string {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), name)
	require.NoError(t, err)
	return sess.ID
}

func TestBruteForce_Search(t *testing.T) {
	ctx := context.Background()
	f := fixture{store: inmemory.New()}
	a := newSession(t, f.store, "a")
	b := newSession(t, f.store, "b")
	c := newSession(t, f.store, "c")

	f.add(t, a, "a1", []float32{1, 0})
	f.add(t, a, "a2", []float32{0.8, 0.2})
	f.add(t, b, "b1", []float32{0, 1})
	f.add(t, c, "c1", []float32{1, 0.1})
	f.add(t, c, "c2", []float32{0, 0})

	engine := NewBruteForce(f.store)

	t.Run("excludes session", func(t *testing.T) {
		hits, err := engine.Search(ctx, []float32{1, 0}, a, 10)
		require.NoError(t, err)
		require.Len(t, hits, 3, "top_k above candidate count returns all")
		for _, h := range hits {
			assert.NotEqual(t, a, h.SessionID)
		}
		assert.Equal(t, "c1", hits[0].Content)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
	})

	t.Run("top k", func(t *testing.T) {
		hits, err := engine.Search(ctx, []float32{1, 0}, b, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "a1", hits[0].Content)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	})

	t.Run("min score", func(t *testing.T) {
		strict := NewBruteForce(f.store, WithMinScore(0.98))
		hits, err := strict.Search(ctx, []float32{1, 0}, b, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})
}

func TestBruteForce_NoCandidates(t *testing.T) {
	s := inmemory.New()
	only := newSession(t, s, "only")
	f := fixture{store: s}
	f.add(t, only, "mine", []float32{1, 1})

	hits, err := NewBruteForce(s).Search(context.Background(), []float32{1, 1}, only, 5)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestBruteForce_FavoriteColorAcrossSessions(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	embedder := hashing.New(256)
	embed := func(text string) []float32 {
		vecs, err := embedder.Embed(ctx, []string{text})
		require.NoError(t, err)
		return vecs[0]
	}

	f := fixture{store: s}
	a := newSession(t, s, "a")
	b := newSession(t, s, "b")
	f.add(t, a, "My favorite color is blue.", embed("My favorite color is blue."))
	f.add(t, a, "The train leaves at nine.", embed("The train leaves at nine."))

	question := "What is my favorite color?"
	f.add(t, b, question, embed(question))

	hits, err := NewBruteForce(s).Search(ctx, embed(question), b, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "My favorite color is blue.", hits[0].Content)
	assert.Equal(t, a, hits[0].SessionID)
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) ScanEmbeddings(context.Context, string, func(*store.MessageEmbedding) error) error {
	return f.err
}

func TestBruteForce_ScanError(t *testing.T) {
	cause := errors.New("db down")
	_, err := NewBruteForce(failingStore{err: cause}).Search(context.Background(), []float32{1}, "x", 5)
	assert.ErrorIs(t, err, cause)
}

func TestBruteForce_Cancelled(t *testing.T) {
	s := inmemory.New()
	f := fixture{store: s}
	f.add(t, newSession(t, s, "a"), "x", []float32{1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBruteForce(s).Search(ctx, []float32{1}, "", 5)
	assert.ErrorIs(t, err, context.Canceled)
}

type memoryIndexer struct {
	indexed map[int64]string
	fail    int64
}

func (m *memoryIndexer) Index(_ context.Context, emb *store.MessageEmbedding) error {
	if emb.MessageID == m.fail {
		return errors.New("index unavailable")
	}
	m.indexed[emb.MessageID] = emb.Content
	return nil
}

func (m *memoryIndexer) DeleteSession(context.Context, string) error { return nil }

func TestReindex(t *testing.T) {
	ctx := context.Background()
	s := inmemory.New()
	f := fixture{store: s}
	a, b := newSession(t, s, "a"), newSession(t, s, "b")
	f.add(t, a, "blue", []float32{1, 0})
	f.add(t, b, "dog", []float32{0, 1})
	f.add(t, b, "cat", []float32{1, 1})

	idx := &memoryIndexer{indexed: map[int64]string{}}
	n, err := Reindex(ctx, s, idx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []string{"blue", "dog", "cat"}, []string{idx.indexed[1], idx.indexed[2], idx.indexed[3]})

	n, err = Reindex(ctx, s, idx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, idx.indexed, 3)
}

func TestReindex_IndexError(t *testing.T) {
	s := inmemory.New()
	f := fixture{store: s}
	f.add(t, newSession(t, s, "a"), "blue", []float32{1, 0})

	_, err := Reindex(context.Background(), s, &memoryIndexer{indexed: map[int64]string{}, fail: 1})
	assert.ErrorContains(t, err, "failed to index message 1")
}
