// Package app wires configured backends into a ready-to-serve chat service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/barekit/ragchat/pkg/chat"
	"github.com/barekit/ragchat/pkg/config"
	"github.com/barekit/ragchat/pkg/embedding"
	"github.com/barekit/ragchat/pkg/embedding/hashing"
	embedopenai "github.com/barekit/ragchat/pkg/embedding/openai"
	llmopenai "github.com/barekit/ragchat/pkg/llm/openai"
	"github.com/barekit/ragchat/pkg/lock"
	redislock "github.com/barekit/ragchat/pkg/lock/redis"
	"github.com/barekit/ragchat/pkg/prompt"
	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/retrieval/chromem"
	"github.com/barekit/ragchat/pkg/retrieval/pgvector"
	"github.com/barekit/ragchat/pkg/retrieval/qdrant"
	"github.com/barekit/ragchat/pkg/server"
	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/factory"
	gormstore "github.com/barekit/ragchat/pkg/store/gorm"
	"github.com/labstack/echo/v4"
	"github.com/openai/openai-go/option"
)

// App holds the wired components of a running chat service.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        store.Store
	Engine       retrieval.Engine
	Orchestrator *chat.Orchestrator
	Sessions     *chat.Sessions

	closers []func() error
}

// Build connects to every configured backend. On error, whatever was already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	s, err := factory.New(ctx, factory.Config{
		Type:             factory.Type(cfg.Store.Type),
		ConnectionString: cfg.Store.DSN,
		Username:         cfg.Store.Username,
		Password:         cfg.Store.Password,
		DBName:           cfg.Store.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	requestOpts := openAIOptions(cfg.OpenAI)

	embedder, err := newEmbedder(cfg.Embedding, requestOpts)
	if err != nil {
		return nil, err
	}
	svc := embedding.NewService(embedder,
		embedding.WithMaxInputChars(cfg.Embedding.MaxInputChars),
		embedding.WithMaxChunks(cfg.Embedding.MaxChunks),
		embedding.WithLogger(logger),
	)

	engine, indexer, err := a.newEngine(ctx, cfg.Retrieval, s, logger)
	if err != nil {
		return nil, err
	}

	a.Engine = engine
	if indexer != nil {
		n, err := retrieval.Reindex(ctx, s, indexer)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild %s index: %w", cfg.Retrieval.Engine, err)
		}
		logger.Info("search index rebuilt", "engine", cfg.Retrieval.Engine, "embeddings", n)
	}

	locker, err := a.newLocker(ctx, cfg.Lock)
	if err != nil {
		return nil, err
	}

	provider := llmopenai.New(requestOpts...)
	provider.SetModel(cfg.OpenAI.Model)
	provider.SetMaxTokens(int64(cfg.OpenAI.MaxTokens))
	provider.SetTemperature(cfg.OpenAI.Temperature)

	opts := []chat.Option{
		chat.WithAssembler(prompt.NewAssembler(cfg.Chat.SystemPrompt)),
		chat.WithTopK(cfg.Retrieval.TopK),
		chat.WithMaxMessageLength(cfg.Chat.MaxMessageLength),
		chat.WithRequestTimeout(cfg.Chat.RequestTimeout),
		chat.WithTokenCounter(NewTokenCounter(cfg.OpenAI.Model, logger)),
		chat.WithLogger(logger),
	}
	if indexer != nil {
		opts = append(opts, chat.WithIndexer(indexer))
	}
	if locker != nil {
		opts = append(opts, chat.WithLocker(locker))
	}

	a.Orchestrator = chat.New(s, svc, engine, provider, opts...)
	sessionOpts := []chat.SessionsOption{chat.WithSessionLogger(logger)}
	if indexer != nil {
		sessionOpts = append(sessionOpts, chat.WithSessionIndexer(indexer))
	}
	if locker != nil {
		sessionOpts = append(sessionOpts, chat.WithSessionLocker(locker))
	}
	a.Sessions = chat.NewSessions(s, sessionOpts...)

	logger.Info("chat service ready",
		"store", cfg.Store.Type,
		"embedding", cfg.Embedding.Provider,
		"retrieval", cfg.Retrieval.Engine,
		"lock", cfg.Lock.Type,
		"model", cfg.OpenAI.Model,
	)
	return a, nil
}

// Server returns an echo server exposing the service.
func (a *App) Server() *echo.Echo {
	h := server.NewHandler(a.Orchestrator, a.Sessions, a.Logger)
	return server.New(h, a.Config.Server.StaticDir)
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openAIOptions(cfg config.OpenAIConfig) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return opts
}

func newEmbedder(cfg config.EmbeddingConfig, opts []option.RequestOption) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		e := embedopenai.NewEmbedder(opts...)
		if cfg.Model != "" {
			e.SetModel(cfg.Model)
		}
		if cfg.Dimensions > 0 {
			e.SetDimensions(cfg.Dimensions)
		}
		return e, nil
	case "hashing":
		return hashing.New(cfg.HashingDimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// newEngine returns the search engine and, for engines keeping their own
// copy of the vectors, the indexer that must see every write.
func (a *App) newEngine(ctx context.Context, cfg config.RetrievalConfig, s store.Store, logger *slog.Logger) (retrieval.Engine, retrieval.Indexer, error) {
	switch cfg.Engine {
	case "bruteforce":
		var opts []retrieval.Option
		if cfg.MinScore > 0 {
			opts = append(opts, retrieval.WithMinScore(cfg.MinScore))
		}
		opts = append(opts, retrieval.WithLogger(logger))
		return retrieval.NewBruteForce(s, opts...), nil, nil
	case "pgvector":
		var (
			e   *pgvector.Engine
			err error
		)
		// Reuse the store's pool when both live in the same database.
		if gs, ok := s.(*gormstore.Store); ok && a.Config.Store.Type == "postgres" && cfg.PGVector.DSN == a.Config.Store.DSN {
			e, err = pgvector.NewWithDB(gs.DB())
		} else {
			e, err = pgvector.New(cfg.PGVector.DSN)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open pgvector: %w", err)
		}
		a.closers = append(a.closers, e.Close)
		return e, e, nil
	case "qdrant":
		e, err := qdrant.New(ctx, qdrant.Config{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			APIKey:         cfg.Qdrant.APIKey,
			UseTLS:         cfg.Qdrant.UseTLS,
			CollectionName: cfg.Qdrant.Collection,
			VectorSize:     uint64(cfg.Qdrant.VectorSize),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open qdrant: %w", err)
		}
		a.closers = append(a.closers, e.Close)
		return e, e, nil
	case "chromem":
		e, err := chromem.New(cfg.Chromem.Dir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open chromem: %w", err)
		}
		return e, e, nil
	default:
		return nil, nil, fmt.Errorf("unsupported retrieval engine: %s", cfg.Engine)
	}
}

func (a *App) newLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "local":
		return lock.NewLocal(), nil
	case "redis":
		l, client, err := redislock.NewFromURL(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
	}
}

// NewLogger builds a text or JSON slog logger at the configured level.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
