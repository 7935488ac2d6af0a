package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/barekit/ragchat/pkg/store"
)

const DefaultTopK = 5

// Hit is one retrieved message from another session.
type Hit struct {
	MessageID int64      `json:"message_id"`
	SessionID string     `json:"session_id"`
	Role      store.Role `json:"role"`
	Content   string     `json:"content"`
	Score     float64    `json:"score"`
	CreatedAt time.Time  `json:"created_at"`
}

// Engine finds the stored messages most similar to a query vector.
type Engine interface {
	// Search returns at most topK hits ordered by descending similarity,
	// never including embeddings of excludingSessionID. No candidates yields
	// an empty slice and a nil error.
	Search(ctx context.Context, query []float32, excludingSessionID string, topK int) ([]Hit, error)
}

// Indexer is implemented by engines that keep their own copy of the
// embeddings and must be told about writes and session deletions.
type Indexer interface {
	Index(ctx context.Context, emb *store.MessageEmbedding) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Reindex feeds every embedding held by s to idx and reports how many were
// indexed. Index upserts by message ID, so running it over a populated index
// only fills the gaps.
func Reindex(ctx context.Context, s store.Store, idx Indexer) (int, error) {
	var n int
	err := s.ScanEmbeddings(ctx, "", func(emb *store.MessageEmbedding) error {
		if err := idx.Index(ctx, emb); err != nil {
			return fmt.Errorf("failed to index message %d: %w", emb.MessageID, err)
		}
		n++
		return nil
	})
	return n, err
}

// CosineSimilarity returns dot(a,b)/(|a||b|). It is 0 when either vector has
// zero magnitude or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Less reports whether a ranks before b: higher score first, then the more
// recent message, then the higher message id.
func Less(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.MessageID > b.MessageID
}

// Rank sorts hits and keeps the first topK. A non-positive topK uses DefaultTopK.
func Rank(hits []Hit, topK int) []Hit {
	if topK <= 0 {
		topK = DefaultTopK
	}
	sort.SliceStable(hits, func(i, j int) bool { return Less(hits[i], hits[j]) })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// IsZero reports whether v has zero magnitude.
func IsZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
