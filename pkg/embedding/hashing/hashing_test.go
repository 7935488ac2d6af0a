package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedder_SelfSimilarity(t *testing.T) {
	e := New(128)
	for _, text := range []string{"My favorite color is blue.", "hello", "Ünïcode wörds 123"} {
		vecs, err := e.Embed(context.Background(), []string{text, text})
		require.NoError(t, err)
		require.Len(t, vecs[0], 128)
		assert.InDelta(t, 1.0, cosine(vecs[0], vecs[1]), 1e-6, text)
	}
}

func TestEmbedder_SharedWordsAreCloser(t *testing.T) {
	e := New(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())

	vecs, err := e.Embed(context.Background(), []string{
		"What is my favorite color?",
		"My favorite color is blue.",
		"The weather in Paris is rainy today.",
	})
	require.NoError(t, err)
	assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))
}

func TestEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	vecs, err := New(8).Embed(context.Background(), []string{"  ?! "})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vecs[0])
}
