package pipeline

import (
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/config"
	"github.com/dshills/logsift/internal/embedder"
	"github.com/dshills/logsift/internal/filelock"
	"github.com/dshills/logsift/internal/miner"
	"github.com/dshills/logsift/internal/scheduler"
	"github.com/dshills/logsift/internal/vectorindex"
)

// OptionsFromConfig translates loaded configuration into pipeline options
func OptionsFromConfig(cfg *config.Config) Options {
	minerCfg := miner.DefaultConfig()
	minerCfg.Depth = cfg.Miner.Depth
	minerCfg.SimThreshold = cfg.Miner.SimThreshold
	minerCfg.MaxChildren = cfg.Miner.MaxChildren
	minerCfg.MaxClusters = cfg.Miner.MaxClusters
	minerCfg.ExtraDelimiters = cfg.Miner.ExtraDelimiters

	return Options{
		DataDir:   cfg.DataDir,
		AutoIndex: cfg.Scheduler.AutoIndex,
		Scheduler: scheduler.Config{
			Workers:          cfg.Scheduler.Workers,
			QueuedStaleAfter: cfg.Scheduler.QueuedStaleAfter,
		},
		Miner: minerCfg,
		Lock: filelock.Options{
			StaleAfter:    cfg.Lock.StaleAfter,
			RetryInterval: cfg.Lock.RetryInterval,
			Attempts:      cfg.Lock.Attempts,
		},
		Index: vectorindex.Config{
			TopK: cfg.Search.TopK,
		},
	}
}

// EmbedderConfig selects the embedding model from configuration
func EmbedderConfig(cfg *config.Config) embedder.Config {
	return embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Endpoint:  cfg.Embedding.Endpoint,
		Dimension: cfg.Embedding.Dimension,
		CacheSize: cfg.Embedding.CacheSize,
	}
}

// FromConfig builds the embedder and pipeline described by cfg
func FromConfig(cfg *config.Config, logger *zap.SugaredLogger) (*Pipeline, error) {
	emb, err := embedder.New(EmbedderConfig(cfg))
	if err != nil {
		return nil, err
	}
	p, err := New(OptionsFromConfig(cfg), emb, logger)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}
	return p, nil
}
