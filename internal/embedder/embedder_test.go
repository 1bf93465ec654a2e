package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	a := ComputeHash(ProviderLocal, LocalModel, "disk full")
	assert.Equal(t, a, ComputeHash(ProviderLocal, LocalModel, "disk full"))
	assert.NotEqual(t, a, ComputeHash(ProviderLocal, LocalModel, "disk empty"))
	assert.NotEqual(t, a, ComputeHash(ProviderOpenAI, LocalModel, "disk full"))
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr bool
	}{
		{"valid", []string{"a", "b"}, false},
		{"empty batch", nil, true},
		{"empty text", []string{"a", ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(BatchEmbeddingRequest{Texts: tt.texts})
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidInput))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.True(t, errors.Is(ValidateRequest(EmbeddingRequest{}), ErrEmptyText))
}

func TestCache(t *testing.T) {
	cache := NewCache(2)
	emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3}
	cache.Set("a", emb)

	got, ok := cache.Get("a")
	require.True(t, ok)
	got.Vector[0] = 99
	again, _ := cache.Get("a")
	assert.Equal(t, float32(1), again.Vector[0], "cached vectors are copied out")

	cache.Set("b", emb)
	cache.Set("c", emb)
	assert.Equal(t, 2, cache.Size())
	_, ok = cache.Get("a")
	assert.False(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(0, NewCache(100))
	require.NoError(t, err)

	assert.Equal(t, LocalDimension, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())
	assert.Equal(t, LocalModel, p.Model())

	a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "User <NUM> logged in"})
	require.NoError(t, err)
	assert.Len(t, a.Vector, LocalDimension)
	assert.InDelta(t, 1.0, norm(a.Vector), 1e-5)

	again, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "User <NUM> logged in"})
	require.NoError(t, err)
	assert.Equal(t, a.Vector, again.Vector, "embedding is deterministic")

	similar, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "User <NUM> logged out"})
	require.NoError(t, err)
	unrelated, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "fan speed critical on board"})
	require.NoError(t, err)

	assert.Greater(t, dot(a.Vector, similar.Vector), dot(a.Vector, unrelated.Vector))
	assert.InDelta(t, 1.0, dot(a.Vector, again.Vector), 1e-5)
}

func TestLocalProviderBatch(t *testing.T) {
	p, err := NewLocalProvider(64, nil)
	require.NoError(t, err)

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a b", "c d"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	vectors := resp.Vectors()
	assert.Len(t, vectors[0], 64)
	assert.NotEqual(t, vectors[0], vectors[1])

	_, err = NewLocalProvider(4, nil)
	assert.Error(t, err)
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"user", "<num>", "logged", "in"}, words("User <NUM> logged in"))
	assert.Equal(t, []string{"open", "<*>", "failed", "a", "b"}, words("open <*> failed: a<b"))
	assert.Equal(t, []string{"x", "y"}, words("x<>y"))
}
