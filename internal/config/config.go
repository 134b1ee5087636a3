package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Classify  ClassifyConfig  `yaml:"classify" mapstructure:"classify"`
	Jobs      JobsConfig      `yaml:"jobs" mapstructure:"jobs"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SearchConfig configures the company directory search endpoint.
type SearchConfig struct {
	// BaseURL is the directory root the search and profile URLs live under.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// MirrorPrefix enables the one-shot cached-copy fallback for failed
	// search page fetches. Empty disables the fallback.
	MirrorPrefix string `yaml:"mirror_prefix" mapstructure:"mirror_prefix"`
	// APIKey authenticates search requests. Required by the discovery
	// stage; there is no default.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// DiscoveryConfig configures the discovery stage.
type DiscoveryConfig struct {
	ResultsPerPage      int     `yaml:"results_per_page" mapstructure:"results_per_page"`
	MaxConsecutiveEmpty int     `yaml:"max_consecutive_empty" mapstructure:"max_consecutive_empty"`
	PageBuffer          int     `yaml:"page_buffer" mapstructure:"page_buffer"`
	FetchTimeoutSecs    int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	HostRateLimit       float64 `yaml:"host_rate_limit" mapstructure:"host_rate_limit"`
	// SubfetchConcurrency bounds concurrent contact-page fetches across
	// all in-flight entities.
	SubfetchConcurrency int `yaml:"subfetch_concurrency" mapstructure:"subfetch_concurrency"`
	// Inline runs discovery in-process instead of spawning the discover
	// subcommand as a child process.
	Inline bool `yaml:"inline" mapstructure:"inline"`
}

// ClassifyConfig configures the sector classification stage.
type ClassifyConfig struct {
	// APIKey is the Anthropic API key. Required by the classify stage;
	// there is no default.
	APIKey            string `yaml:"api_key" mapstructure:"api_key"`
	Model             string `yaml:"model" mapstructure:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxRetries        int    `yaml:"max_retries" mapstructure:"max_retries"`
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxTokens         int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// JobsConfig configures job bookkeeping.
type JobsConfig struct {
	StdoutTailBytes int `yaml:"stdout_tail_bytes" mapstructure:"stdout_tail_bytes"`
	StderrTailBytes int `yaml:"stderr_tail_bytes" mapstructure:"stderr_tail_bytes"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "postgres://localhost:5432/leadscout")
	v.SetDefault("search.base_url", "https://www.linkedin.com")
	v.SetDefault("search.mirror_prefix", "https://webcache.googleusercontent.com/search?q=cache:")
	v.SetDefault("discovery.results_per_page", 10)
	v.SetDefault("discovery.max_consecutive_empty", 10)
	v.SetDefault("discovery.page_buffer", 2)
	v.SetDefault("discovery.fetch_timeout_secs", 20)
	v.SetDefault("discovery.host_rate_limit", 2.0)
	v.SetDefault("discovery.subfetch_concurrency", 10)
	v.SetDefault("classify.model", "claude-haiku-4-5-20251001")
	v.SetDefault("classify.requests_per_minute", 50)
	v.SetDefault("classify.max_retries", 3)
	v.SetDefault("classify.batch_size", 15)
	v.SetDefault("classify.max_tokens", 4096)
	v.SetDefault("jobs.stdout_tail_bytes", 16384)
	v.SetDefault("jobs.stderr_tail_bytes", 16384)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
