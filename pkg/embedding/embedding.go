package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

var (
	// ErrEmptyInput is returned for blank text.
	ErrEmptyInput = errors.New("embedding: empty input")
	// ErrUnavailable reports that no embedding could be produced. Callers
	// treat it as a degraded, non-fatal condition.
	ErrUnavailable = errors.New("embedding: unavailable")
)

// Embedder turns a batch of texts into vectors, one per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

const (
	DefaultMaxInputChars = 8000
	DefaultMaxChunks     = 16
)

// Service embeds single messages. Long inputs are split into chunks that fit
// the provider's input limit and mean-pooled back into one vector.
type Service struct {
	embedder      Embedder
	maxInputChars int
	maxChunks     int
	splitter      textsplitter.TextSplitter
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxInputChars sets the largest input, in runes, sent as one provider input.
func WithMaxInputChars(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxInputChars = n
		}
	}
}

// WithMaxChunks caps how many chunks of a long input are embedded.
func WithMaxChunks(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxChunks = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service around embedder.
func NewService(embedder Embedder, opts ...Option) *Service {
	s := &Service{
		embedder:      embedder,
		maxInputChars: DefaultMaxInputChars,
		maxChunks:     DefaultMaxChunks,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.splitter = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.maxInputChars),
		textsplitter.WithChunkOverlap(s.maxInputChars/20),
	)
	return s
}

// Embed returns the vector for text. Provider failures are wrapped in
// ErrUnavailable; the provider is called once.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	chunks, err := s.chunk(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d inputs", ErrUnavailable, len(vectors), len(chunks))
	}

	vec, err := meanPool(vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return vec, nil
}

func (s *Service) chunk(text string) ([]string, error) {
	if utf8.RuneCountInString(text) <= s.maxInputChars {
		return []string{text}, nil
	}

	chunks, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split input: %w", err)
	}
	if len(chunks) == 0 {
		return nil, errors.New("splitter produced no chunks")
	}
	if len(chunks) > s.maxChunks {
		s.logger.Debug("truncating long input", "chunks", len(chunks), "kept", s.maxChunks)
		chunks = chunks[:s.maxChunks]
	}
	return chunks, nil
}

func meanPool(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("provider returned an empty vector")
	}
	if len(vectors) == 1 {
		return vectors[0], nil
	}

	dim := len(vectors[0])
	out := make([]float32, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("inconsistent vector dimensions %d and %d", dim, len(v))
		}
		for i, f := range v {
			out[i] += f
		}
	}
	n := float32(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}
