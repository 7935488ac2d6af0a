package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "sk-from-env", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 1000, cfg.OpenAI.MaxTokens)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "bruteforce", cfg.Retrieval.Engine)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 10000, cfg.Chat.MaxMessageLength)
	assert.Equal(t, 60*time.Second, cfg.Chat.RequestTimeout)
	assert.Equal(t, "local", cfg.Lock.Type)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ragchat.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
openai:
  api_key: sk-file
store:
  type: postgres
  dsn: postgres://localhost/ragchat
retrieval:
  engine: pgvector
  top_k: 8
chat:
  request_timeout: 15s
`), 0o600))

	t.Setenv("RAGCHAT_RETRIEVAL_TOP_K", "3")
	t.Setenv("RAGCHAT_LOG_LEVEL", "debug")

	cfg, err := Load(NewViper(), file)
	require.NoError(t, err)

	assert.Equal(t, "sk-file", cfg.OpenAI.APIKey)
	assert.Equal(t, 3, cfg.Retrieval.TopK, "environment overrides file")
	assert.Equal(t, 15*time.Second, cfg.Chat.RequestTimeout)
	assert.Equal(t, "postgres://localhost/ragchat", cfg.Retrieval.PGVector.DSN, "pgvector reuses the store dsn")

	level, err := ParseLevel(cfg.Log.Level)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	bad := *cfg
	bad.Store.Type = "cassandra"
	bad.Retrieval.TopK = 0
	bad.Lock.Type = "etcd"
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.type")
	assert.Contains(t, err.Error(), "retrieval.top_k")
	assert.Contains(t, err.Error(), "lock.type")

	noKey := *cfg
	noKey.OpenAI.APIKey = ""
	assert.ErrorContains(t, noKey.Validate(), "api_key")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
