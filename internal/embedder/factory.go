package embedder

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Config holds embedder configuration
type Config struct {
	Provider  string // local, openai, jina
	Model     string // remote model; empty selects the provider default
	APIKey    string // remote API key; empty falls back to the provider env var
	Endpoint  string // overrides the remote provider endpoint
	Dimension int    // local vector size; remote sizes are fixed by the provider
	CacheSize int
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cfg.Model, cache)
		if err != nil {
			return nil, err
		}
		return p.override(cfg), nil
	case ProviderJina:
		p, err := NewJinaProvider(cfg.APIKey, cfg.Model, cache)
		if err != nil {
			return nil, err
		}
		return p.override(cfg), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedModel, "unknown provider %s", cfg.Provider)
	}
}

func (p *RemoteProvider) override(cfg Config) *RemoteProvider {
	if cfg.Endpoint != "" {
		p.cfg.Endpoint = cfg.Endpoint
	}
	return p
}
