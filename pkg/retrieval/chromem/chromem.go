package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/barekit/ragchat/pkg/retrieval"
	"github.com/barekit/ragchat/pkg/store"
	chromem "github.com/philippgille/chromem-go"
)

const collectionPrefix = "session_"

var errNoEmbeddingFunc = errors.New("chromem: documents must carry precomputed embeddings")

// Engine implements retrieval.Engine and retrieval.Indexer with chromem-go,
// keeping one collection per session. Excluding a session is skipping its
// collection.
type Engine struct {
	mu     sync.RWMutex
	db     *chromem.DB
	logger *slog.Logger
}

// New creates an Engine. An empty dir keeps the index in memory only;
// otherwise it is persisted under dir.
func New(dir string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return &Engine{db: chromem.NewDB(), logger: logger}, nil
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &Engine{db: db, logger: logger}, nil
}

func collectionName(sessionID string) string {
	return collectionPrefix + sessionID
}

// Vectors are always supplied, so the embedding func only guards misuse.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (e *Engine) Index(ctx context.Context, emb *store.MessageEmbedding) error {
	if retrieval.IsZero(emb.Embedding) {
		e.logger.Debug("skipping zero vector", "message_id", emb.MessageID)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	col, err := e.db.GetOrCreateCollection(collectionName(emb.SessionID), nil, noEmbed)
	if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}

	return col.AddDocument(ctx, chromem.Document{
		ID:        strconv.FormatInt(emb.MessageID, 10),
		Content:   emb.Content,
		Embedding: append([]float32(nil), emb.Embedding...),
		Metadata: map[string]string{
			"session_id": emb.SessionID,
			"role":       string(emb.Role),
			"created_at": emb.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.DeleteCollection(collectionName(sessionID))
}

func (e *Engine) Search(ctx context.Context, query []float32, excludingSessionID string, topK int) ([]retrieval.Hit, error) {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	hits := []retrieval.Hit{}
	if retrieval.IsZero(query) {
		return hits, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	excluded := collectionName(excludingSessionID)
	for name, col := range e.db.ListCollections() {
		if name == excluded || !strings.HasPrefix(name, collectionPrefix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := col.Count()
		if n == 0 {
			continue
		}
		if n > topK {
			n = topK
		}
		results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", name, err)
		}
		for _, r := range results {
			hit, err := toHit(r)
			if err != nil {
				return nil, err
			}
			hits = append(hits, hit)
		}
	}
	return retrieval.Rank(hits, topK), nil
}

func toHit(r chromem.Result) (retrieval.Hit, error) {
	id, err := strconv.ParseInt(r.ID, 10, 64)
	if err != nil {
		return retrieval.Hit{}, fmt.Errorf("bad document id %q: %w", r.ID, err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
	return retrieval.Hit{
		MessageID: id,
		SessionID: r.Metadata["session_id"],
		Role:      store.Role(r.Metadata["role"]),
		Content:   r.Content,
		Score:     float64(r.Similarity),
		CreatedAt: createdAt,
	}, nil
}
