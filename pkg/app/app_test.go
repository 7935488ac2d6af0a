package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/barekit/ragchat/pkg/config"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RAGCHAT_STORE_TYPE", "inmemory")
	t.Setenv("RAGCHAT_EMBEDDING_PROVIDER", "hashing")
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.Load(config.NewViper(), "")
	require.NoError(t, err)
	return cfg
}

func TestBuild(t *testing.T) {
	for _, engine := range []string{"bruteforce", "chromem"} {
		t.Run(engine, func(t *testing.T) {
			cfg := testConfig(t, map[string]string{"RAGCHAT_RETRIEVAL_ENGINE": engine})

			a, err := Build(context.Background(), cfg, nil)
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, a.Close()) })

			sess, err := a.Sessions.Create(context.Background(), "wired")
			require.NoError(t, err)
			assert.Equal(t, "wired", sess.Name)

			rec := httptest.NewRecorder()
			a.Server().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestBuild_SQLite(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"RAGCHAT_STORE_TYPE": "sqlite",
		"RAGCHAT_STORE_DSN":  ":memory:",
		"RAGCHAT_LOCK_TYPE":  "none",
	})

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Sessions.Create(context.Background(), "")
	require.NoError(t, err)
	sessions, err := a.Sessions.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestBuild_UnsupportedEmbedding(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Embedding.Provider = "word2vec"

	a, err := Build(context.Background(), cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "session_id", "s1")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"session_id":"s1"`)

	_, err = NewLogger(config.LogConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}

func TestBuild_RebuildsIndexFromStore(t *testing.T) {
	ctx := context.Background()
	env := map[string]string{
		"RAGCHAT_STORE_TYPE": "sqlite",
		"RAGCHAT_STORE_DSN":  filepath.Join(t.TempDir(), "chat.db"),
	}

	first, err := Build(ctx, testConfig(t, env), nil)
	require.NoError(t, err)
	sess, err := first.Store.CreateSession(ctx, "colors")
	require.NoError(t, err)
	msg := &store.Message{SessionID: sess.ID, Role: store.RoleUser, Content: "My favorite color is blue"}
	require.NoError(t, first.Store.CreateMessage(ctx, msg))
	require.NoError(t, first.Store.CreateEmbedding(ctx, &store.MessageEmbedding{
		MessageID: msg.ID,
		SessionID: sess.ID,
		Content:   msg.Content,
		Role:      msg.Role,
		Embedding: []float32{0.6, 0.8},
	}))
	require.NoError(t, first.Close())

	env["RAGCHAT_RETRIEVAL_ENGINE"] = "chromem"
	second, err := Build(ctx, testConfig(t, env), nil)
	require.NoError(t, err)
	defer second.Close()

	hits, err := second.Engine.Search(ctx, []float32{0.6, 0.8}, "another-session", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, msg.ID, hits[0].MessageID)
	assert.Equal(t, sess.ID, hits[0].SessionID)
}

func TestNewTokenCounter_Offline(t *testing.T) {
	// An empty cache forces any download attempt onto the network.
	t.Setenv("TIKTOKEN_CACHE_DIR", t.TempDir())

	counted := make(chan [2]int, 1)
	go func() {
		known := NewTokenCounter("gpt-3.5-turbo", nil)
		unknown := NewTokenCounter("gpt-4o-mini", nil)
		counted <- [2]int{known("hello world"), unknown("hello world")}
	}()

	select {
	case n := <-counted:
		assert.Equal(t, 2, n[0])
		assert.Equal(t, 2, n[1])
	case <-time.After(10 * time.Second):
		t.Fatal("token counter did not resolve without the network")
	}
}
