package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestStaticEmbedderBasics(t *testing.T) {
	e := NewStaticEmbedder(384)
	assert.Equal(t, 384, e.Dimensions())
	assert.Equal(t, "static-384", e.ModelName())

	vec, err := e.Embed(context.Background(), "retry with exponential backoff")
	require.NoError(t, err)
	require.Len(t, vec, 384)
	assert.InDelta(t, 1.0, norm(vec), 1e-4, "embeddings are unit length")
}

func TestStaticEmbedderDeterminism(t *testing.T) {
	e := NewStaticEmbedder(128)
	a, err := e.Embed(context.Background(), "the same text")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := e.Embed(context.Background(), "completely different words")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder(64)
	vec, err := e.Embed(context.Background(), "   \n ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 64), vec, "whitespace embeds to the zero vector")
}

func TestStaticEmbedderSimilarTextsAreCloser(t *testing.T) {
	e := NewStaticEmbedder(256)
	ctx := context.Background()

	handler, err := e.Embed(ctx, "def error_handler(e): log.warning(e); return fallback()")
	require.NoError(t, err)
	query, err := e.Embed(ctx, "error handler logging warning fallback")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "grocery list apples oranges bananas")
	require.NoError(t, err)

	assert.Greater(t, dot(handler, query), dot(handler, unrelated))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	e := NewStaticEmbedder(64)
	texts := []string{"first text", "second text", "third text"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, vectors[i], "batch position %d", i)
	}
}

func TestStaticEmbedderClosed(t *testing.T) {
	e := NewStaticEmbedder(64)
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
}

func TestSplitCodeToken(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"camelCase", []string{"camel", "Case"}},
		{"snake_case", []string{"snake", "case"}},
		{"HTTPServer", []string{"HTTP", "Server"}},
		{"plain", []string{"plain"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitCodeToken(tt.in), tt.in)
	}
}
