package retrieval

import (
	"context"
	"log/slog"
	"math"

	"github.com/barekit/ragchat/pkg/store"
)

// BruteForce scores every stored embedding outside the excluded session with
// a single ScanEmbeddings pass. Suitable for small stores only.
type BruteForce struct {
	store    store.Store
	minScore float64
	logger   *slog.Logger
}

// Option configures a BruteForce engine.
type Option func(*BruteForce)

// WithMinScore drops candidates scoring below min.
func WithMinScore(min float64) Option {
	return func(b *BruteForce) {
		b.minScore = min
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *BruteForce) {
		b.logger = logger
	}
}

// NewBruteForce creates a brute-force engine over s.
func NewBruteForce(s store.Store, opts ...Option) *BruteForce {
	b := &BruteForce{
		store:    s,
		minScore: math.Inf(-1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BruteForce) Search(ctx context.Context, query []float32, excludingSessionID string, topK int) ([]Hit, error) {
	hits := []Hit{}
	scanned := 0
	err := b.store.ScanEmbeddings(ctx, excludingSessionID, func(e *store.MessageEmbedding) error {
		scanned++
		// Backends already filter; this keeps the guarantee local.
		if e.SessionID == excludingSessionID {
			return nil
		}
		score := CosineSimilarity(query, e.Embedding)
		if score < b.minScore {
			return nil
		}
		hits = append(hits, Hit{
			MessageID: e.MessageID,
			SessionID: e.SessionID,
			Role:      e.Role,
			Content:   e.Content,
			Score:     score,
			CreatedAt: e.CreatedAt,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	hits = Rank(hits, topK)
	b.logger.Debug("retrieval scan finished", "scanned", scanned, "hits", len(hits))
	return hits, nil
}
