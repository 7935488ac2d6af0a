package openai

import (
	"context"
	"fmt"

	llmopenai "github.com/barekit/ragchat/pkg/llm/openai"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Embedder implements embedding.Embedder using OpenAI.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int64
}

// NewEmbedder creates a new OpenAI Embedder.
func NewEmbedder(opts ...option.RequestOption) *Embedder {
	client := openai.NewClient(opts...)
	return &Embedder{
		client: &client,
		model:  openai.EmbeddingModelTextEmbedding3Small,
	}
}

// SetModel sets the embedding model.
func (e *Embedder) SetModel(model string) {
	if model != "" {
		e.model = openai.EmbeddingModel(model)
	}
}

// SetDimensions shortens returned vectors. Zero keeps the model default.
func (e *Embedder) SetDimensions(n int) {
	e.dimensions = int64(n)
}

// Embed generates embeddings for the given texts. Failures are returned as
// *llm.CompletionError so callers can tell rate limits from outages.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: e.model,
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(e.dimensions)
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, llmopenai.Classify(err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		embeddings[data.Index] = vec
	}
	for i, vec := range embeddings {
		if vec == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}

	return embeddings, nil
}
