// Package config loads logsift configuration using Viper.
//
// Sources, lowest precedence first: built-in defaults, a config file
// (logsift.yaml / logsift.toml in the working directory, or an explicit path),
// and LOGSIFT_* environment variables (dots become underscores, so
// scheduler.workers is LOGSIFT_SCHEDULER_WORKERS).
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "LOGSIFT"

// Config is the complete logsift configuration
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Lock      LockConfig      `mapstructure:"lock"`
	Miner     MinerConfig     `mapstructure:"miner"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

// LogConfig controls logger output
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// SchedulerConfig sizes the parse worker pool
type SchedulerConfig struct {
	Workers          int           `mapstructure:"workers"`
	AutoIndex        bool          `mapstructure:"auto_index"`
	QueuedStaleAfter time.Duration `mapstructure:"queued_stale_after"`
}

// LockConfig tunes advisory file locks
type LockConfig struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Attempts      int           `mapstructure:"attempts"`
}

// MinerConfig holds the template clustering parameters
type MinerConfig struct {
	Depth           int      `mapstructure:"depth"`
	SimThreshold    float64  `mapstructure:"sim_threshold"`
	MaxChildren     int      `mapstructure:"max_children"`
	MaxClusters     int      `mapstructure:"max_clusters"`
	ExtraDelimiters []string `mapstructure:"extra_delimiters"`
}

// EmbeddingConfig selects the embedding model
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	Endpoint  string `mapstructure:"endpoint"`
	Dimension int    `mapstructure:"dimension"`
	CacheSize int    `mapstructure:"cache_size"`
}

// SearchConfig holds search defaults
type SearchConfig struct {
	TopK int `mapstructure:"top_k"`
}

// HTTPConfig configures the HTTP API
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// WatchConfig configures the upload directory watcher
type WatchConfig struct {
	Dir          string        `mapstructure:"dir"`
	Project      string        `mapstructure:"project"`
	Debounce     time.Duration `mapstructure:"debounce"`
	ScanExisting bool          `mapstructure:"scan_existing"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	// Mining is CPU and memory heavy, keep the pool small
	v.SetDefault("scheduler.workers", 2)
	v.SetDefault("scheduler.auto_index", true)
	v.SetDefault("scheduler.queued_stale_after", 30*time.Minute)

	v.SetDefault("lock.stale_after", 10*time.Minute)
	v.SetDefault("lock.retry_interval", 100*time.Millisecond)
	v.SetDefault("lock.attempts", 300)

	v.SetDefault("miner.depth", 4)
	v.SetDefault("miner.sim_threshold", 0.4)
	v.SetDefault("miner.max_children", 100)
	v.SetDefault("miner.max_clusters", 100000)
	v.SetDefault("miner.extra_delimiters", []string{})

	v.SetDefault("embedding.provider", "local")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.endpoint", "")
	v.SetDefault("embedding.dimension", 384)
	v.SetDefault("embedding.cache_size", 10000)

	v.SetDefault("search.top_k", 5)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("watch.dir", "")
	v.SetDefault("watch.project", "")
	v.SetDefault("watch.debounce", 500*time.Millisecond)
	v.SetDefault("watch.scan_existing", true)
}

// NewViper returns a Viper instance with defaults and env binding applied
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from defaults, an optional file and the environment.
// An empty configPath searches the working directory for logsift.{yaml,toml}.
func Load(configPath string) (*Config, error) {
	v := NewViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
	} else {
		v.SetConfigName("logsift")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "failed to read config file")
			}
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates configuration from a prepared Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration values
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Scheduler.Workers < 1 {
		return errors.Newf("scheduler.workers must be >= 1, got %d", c.Scheduler.Workers)
	}
	if c.Lock.Attempts < 1 {
		return errors.Newf("lock.attempts must be >= 1, got %d", c.Lock.Attempts)
	}
	if c.Miner.Depth < 3 {
		return errors.Newf("miner.depth must be >= 3, got %d", c.Miner.Depth)
	}
	if c.Miner.SimThreshold < 0 || c.Miner.SimThreshold > 1 {
		return errors.Newf("miner.sim_threshold must be within [0,1], got %v", c.Miner.SimThreshold)
	}
	if c.Embedding.Dimension < 1 {
		return errors.Newf("embedding.dimension must be >= 1, got %d", c.Embedding.Dimension)
	}
	if c.Watch.Debounce < 0 {
		return errors.Newf("watch.debounce must be >= 0, got %v", c.Watch.Debounce)
	}
	if c.Search.TopK < 1 {
		return errors.Newf("search.top_k must be >= 1, got %d", c.Search.TopK)
	}
	return nil
}

// ProjectDir returns the directory holding a project's artifacts
func (c *Config) ProjectDir(project string) string {
	return filepath.Join(c.DataDir, project)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logsift"
	}
	return filepath.Join(home, ".logsift", "projects")
}
