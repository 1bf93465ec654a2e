package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"

	// Endpoints
	JinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	OpenAIEndpoint = "https://api.openai.com/v1/embeddings"

	// API key environment variables
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// RemoteConfig describes an OpenAI-compatible embeddings endpoint
type RemoteConfig struct {
	Provider  string
	Endpoint  string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
	Retry     RetryConfig
}

// RemoteProvider implements Embedder against an OpenAI-compatible API
type RemoteProvider struct {
	cfg        RemoteConfig
	httpClient *http.Client
	cache      *Cache
}

// NewRemoteProvider creates an embedder for cfg
func NewRemoteProvider(cfg RemoteConfig, cache *Cache) (*RemoteProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrapf(ErrNoProviderEnabled, "%s: api key not set", cfg.Provider)
	}
	if cfg.Endpoint == "" || cfg.Model == "" || cfg.Dimension <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "%s: endpoint, model and dimension are required", cfg.Provider)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &RemoteProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
	}, nil
}

// NewOpenAIProvider creates an OpenAI embedder. An empty apiKey falls back to
// OPENAI_API_KEY, an empty model to DefaultOpenAIModel.
func NewOpenAIProvider(apiKey, model string, cache *Cache) (*RemoteProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return NewRemoteProvider(RemoteConfig{
		Provider:  ProviderOpenAI,
		Endpoint:  OpenAIEndpoint,
		Model:     model,
		APIKey:    apiKey,
		Dimension: OpenAIDimension,
	}, cache)
}

// NewJinaProvider creates a Jina AI embedder. An empty apiKey falls back to
// JINA_API_KEY, an empty model to DefaultJinaModel.
func NewJinaProvider(apiKey, model string, cache *Cache) (*RemoteProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if model == "" {
		model = DefaultJinaModel
	}
	return NewRemoteProvider(RemoteConfig{
		Provider:  ProviderJina,
		Endpoint:  JinaEndpoint,
		Model:     model,
		APIKey:    apiKey,
		Dimension: JinaDimension,
	}, cache)
}

func (p *RemoteProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.Wrap(ErrProviderFailed, "no embeddings returned")
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds texts, calling the API only for cache misses
func (p *RemoteProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, errors.Wrapf(ErrBatchTooLarge, "max %d texts allowed", MaxBatchSize)
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		if p.cache != nil {
			if emb, ok := p.cache.Get(ComputeHash(p.cfg.Provider, p.cfg.Model, text)); ok {
				embeddings[i] = emb
				continue
			}
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = req.Texts[i]
		}

		fetched, err := retryWithBackoff(ctx, p.cfg.Retry, func() ([]*Embedding, error) {
			return p.callAPI(ctx, texts)
		})
		if err != nil {
			return nil, errors.Wrapf(ErrProviderFailed, "%s after %d attempts: %v", p.cfg.Provider, p.cfg.Retry.MaxRetries, err)
		}

		for j, i := range missing {
			emb := fetched[j]
			emb.Hash = ComputeHash(p.cfg.Provider, p.cfg.Model, req.Texts[i])
			if p.cache != nil {
				p.cache.Set(emb.Hash, emb)
			}
			embeddings[i] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.cfg.Provider,
		Model:      p.cfg.Model,
	}, nil
}

func (p *RemoteProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": p.cfg.Model,
	})
	if err != nil {
		return nil, permanent(errors.Wrap(err, "marshal request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(errors.Wrap(err, "create request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "api call")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := errors.Newf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return nil, permanent(apiErr)
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if len(apiResp.Data) != len(texts) {
		return nil, permanent(errors.Newf("expected %d embeddings, got %d", len(texts), len(apiResp.Data)))
	}

	embeddings := make([]*Embedding, len(texts))
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, permanent(errors.Newf("embedding index %d out of range", data.Index))
		}
		if len(data.Embedding) != p.cfg.Dimension {
			return nil, permanent(errors.Wrapf(ErrDimensionMismatch, "expected %d, got %d", p.cfg.Dimension, len(data.Embedding)))
		}
		embeddings[data.Index] = &Embedding{
			Vector:    NormalizeVector(data.Embedding),
			Dimension: len(data.Embedding),
			Provider:  p.cfg.Provider,
			Model:     p.cfg.Model,
		}
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, permanent(errors.Newf("missing embedding for text %d", i))
		}
	}
	return embeddings, nil
}

func (p *RemoteProvider) Dimension() int {
	return p.cfg.Dimension
}

func (p *RemoteProvider) Provider() string {
	return p.cfg.Provider
}

func (p *RemoteProvider) Model() string {
	return p.cfg.Model
}

func (p *RemoteProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
