package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer answers OpenAI-style requests with vectors of dim
func embeddingServer(t *testing.T, dim int, calls *atomic.Int32, status func(n int32) int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if code := status(n); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		resp := struct {
			Data  []item `json:"data"`
			Model string `json:"model"`
		}{Model: req.Model}

		// reverse order to exercise index mapping
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dim)
			vec[i%dim] = float32(2 + i)
			resp.Data = append(resp.Data, item{Embedding: vec, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func ok(int32) int { return http.StatusOK }

func testRemote(t *testing.T, url string, dim int, cache *Cache) *RemoteProvider {
	t.Helper()
	p, err := NewRemoteProvider(RemoteConfig{
		Provider:  ProviderOpenAI,
		Endpoint:  url,
		Model:     "test-model",
		APIKey:    "test-key",
		Dimension: dim,
		Retry:     RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	}, cache)
	require.NoError(t, err)
	return p
}

func TestRemoteProviderBatch(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, 8, &calls, ok)
	defer server.Close()

	p := testRemote(t, server.URL, 8, NewCache(10))
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b", "c"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)

	for i, emb := range resp.Embeddings {
		assert.InDelta(t, 1.0, emb.Vector[i], 1e-6, "vectors are normalized and keep request order")
		assert.Equal(t, "test-model", emb.Model)
	}
	assert.Equal(t, int32(1), calls.Load())

	// Cached texts are not requested again
	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	single, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "d"})
	require.NoError(t, err)
	assert.Len(t, single.Vector, 8)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemoteProviderRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, 4, &calls, func(n int32) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	})
	defer server.Close()

	p := testRemote(t, server.URL, 4, nil)
	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoteProviderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, 4, &calls, func(int32) int { return http.StatusUnauthorized })
	defer server.Close()

	p := testRemote(t, server.URL, 4, nil)
	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderFailed))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemoteProviderDimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	server := embeddingServer(t, 4, &calls, ok)
	defer server.Close()

	p := testRemote(t, server.URL, 8, nil)
	_, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrDimensionMismatch.Error())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRemoteProviderLimits(t *testing.T) {
	p := testRemote(t, "http://127.0.0.1:1", 4, nil)

	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = "t"
	}
	_, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: texts})
	assert.True(t, errors.Is(err, ErrBatchTooLarge))

	_, err = NewRemoteProvider(RemoteConfig{Provider: ProviderJina, Endpoint: "x", Model: "m", Dimension: 4}, nil)
	assert.True(t, errors.Is(err, ErrNoProviderEnabled))
}

func TestRetryWithBackoffContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := retryWithBackoff(ctx, RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1},
		func() (int, error) {
			attempts++
			cancel()
			return 0, errors.New("transient")
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoffPermanent(t *testing.T) {
	attempts := 0
	_, err := retryWithBackoff(context.Background(), RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		func() (int, error) {
			attempts++
			return 0, permanent(errors.New("bad request"))
		})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
