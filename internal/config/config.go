// Package config defines all configuration for the market intelligence
// backend. Config is loaded from a YAML file (default: configs/config.yaml)
// with every field overridable via INTEL_* environment variables.
// DATABASE_URL is honored directly for deployment platforms that inject it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Host     string         `mapstructure:"host"`
	Port     int            `mapstructure:"port"`
	Database DatabaseConfig `mapstructure:"database"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// SourceConfig is the per-upstream settings shared by all adapters.
// RateLimitInterval is the minimum spacing between calls to the host.
type SourceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	RateLimitInterval time.Duration `mapstructure:"rate_limit_interval"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// SourcesConfig holds one entry per external source.
type SourcesConfig struct {
	Edgar       SourceConfig `mapstructure:"edgar"`
	Gamma       SourceConfig `mapstructure:"gamma"`
	CLOB        SourceConfig `mapstructure:"clob"`
	CLOBWSURL   string       `mapstructure:"clob_ws_url"`
	DataHist    SourceConfig `mapstructure:"data_hist"`
	News        SourceConfig `mapstructure:"news"`
	Transcripts SourceConfig `mapstructure:"transcripts"`
	UserAgent   string       `mapstructure:"user_agent"`
}

// StorageConfig selects and configures the blob store. Type is "s3" or "fs".
type StorageConfig struct {
	Type      string `mapstructure:"type"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	DataDir   string `mapstructure:"data_dir"`
}

// SyncConfig drives the periodic jobs.
type SyncConfig struct {
	FullInterval        time.Duration `mapstructure:"full_interval"`
	IncrementalInterval time.Duration `mapstructure:"incremental_interval"`
	LifecycleInterval   time.Duration `mapstructure:"lifecycle_interval"`
	SignalsInterval     time.Duration `mapstructure:"signals_interval"`
	MetricsInterval     time.Duration `mapstructure:"metrics_interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	BackfillBatchSize   int           `mapstructure:"backfill_batch_size"`
}

// StreamConfig tunes the live market-data stream.
type StreamConfig struct {
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	SnapshotTTL        time.Duration `mapstructure:"snapshot_ttl"`
	DeactivateOnNoBook bool          `mapstructure:"deactivate_on_no_book"`
}

// CacheConfig bounds the process-local caches.
type CacheConfig struct {
	MarketSize    int           `mapstructure:"market_size"`
	MarketTTL     time.Duration `mapstructure:"market_ttl"`
	OrderbookSize int           `mapstructure:"orderbook_size"`
	OrderbookTTL  time.Duration `mapstructure:"orderbook_ttl"`
}

// SignalsConfig sets the thresholds that gate signal emission.
type SignalsConfig struct {
	MinConfidence float64       `mapstructure:"min_confidence"`
	MinDensity    float64       `mapstructure:"min_density"` // matches per 1000 words
	Expiry        time.Duration `mapstructure:"expiry"`
	Lookback      time.Duration `mapstructure:"lookback"`
}

// WorkersConfig gates the optional periodic workers.
type WorkersConfig struct {
	Filings     bool `mapstructure:"filings"`
	News        bool `mapstructure:"news"`
	Transcripts bool `mapstructure:"transcripts"`
	Signals     bool `mapstructure:"signals"`
	EtfMetrics  bool `mapstructure:"etf_metrics"`
}

// AuthConfig controls wallet nonce authentication and tx encoding.
type AuthConfig struct {
	NonceTTL time.Duration `mapstructure:"nonce_ttl"`
	ChainID  int64         `mapstructure:"chain_id"`
	Exchange string        `mapstructure:"exchange"` // exchange contract address
}

// CORSConfig holds the allowed front-end origin.
type CORSConfig struct {
	Origin string `mapstructure:"origin"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when everything comes from the environment.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Platform-injected variables take precedence over the file.
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if key := os.Getenv("INTEL_NEWS_API_KEY"); key != "" {
		cfg.Sources.News.APIKey = key
	}
	if key := os.Getenv("INTEL_TRANSCRIPTS_API_KEY"); key != "" {
		cfg.Sources.Transcripts.APIKey = key
	}
	if key := os.Getenv("INTEL_DATA_HIST_API_KEY"); key != "" {
		cfg.Sources.DataHist.APIKey = key
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.query_timeout", 30*time.Second)

	v.SetDefault("sources.edgar.base_url", "https://www.sec.gov")
	v.SetDefault("sources.edgar.rate_limit_interval", 150*time.Millisecond)
	v.SetDefault("sources.gamma.rate_limit_interval", 200*time.Millisecond)
	v.SetDefault("sources.clob.rate_limit_interval", 100*time.Millisecond)
	v.SetDefault("sources.data_hist.rate_limit_interval", 250*time.Millisecond)
	v.SetDefault("sources.news.rate_limit_interval", 500*time.Millisecond)
	v.SetDefault("sources.transcripts.rate_limit_interval", 500*time.Millisecond)
	v.SetDefault("sources.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")

	v.SetDefault("storage.type", "fs")
	v.SetDefault("storage.data_dir", "data/blobs")

	v.SetDefault("sync.full_interval", time.Hour)
	v.SetDefault("sync.incremental_interval", 5*time.Minute)
	v.SetDefault("sync.lifecycle_interval", time.Minute)
	v.SetDefault("sync.signals_interval", 15*time.Minute)
	v.SetDefault("sync.metrics_interval", 6*time.Hour)
	v.SetDefault("sync.batch_size", 25)
	v.SetDefault("sync.backfill_batch_size", 5000)

	v.SetDefault("stream.heartbeat_interval", 30*time.Second)
	v.SetDefault("stream.snapshot_ttl", 5*time.Minute)
	v.SetDefault("stream.deactivate_on_no_book", false)

	v.SetDefault("cache.market_size", 1024)
	v.SetDefault("cache.market_ttl", time.Minute)
	v.SetDefault("cache.orderbook_size", 2048)
	v.SetDefault("cache.orderbook_ttl", 10*time.Second)

	v.SetDefault("signals.min_confidence", 0.5)
	v.SetDefault("signals.min_density", 0.5)
	v.SetDefault("signals.expiry", 90*24*time.Hour)
	v.SetDefault("signals.lookback", 60*24*time.Hour)

	v.SetDefault("auth.nonce_ttl", 300*time.Second)
	v.SetDefault("auth.chain_id", 137)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in (0, 65535]")
	}
	switch c.Storage.Type {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for s3 storage")
		}
	case "fs":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for fs storage")
		}
	default:
		return fmt.Errorf("storage.type must be one of: s3, fs")
	}
	if c.Sources.Gamma.BaseURL == "" {
		return fmt.Errorf("sources.gamma.base_url is required")
	}
	if c.Sources.CLOB.BaseURL == "" {
		return fmt.Errorf("sources.clob.base_url is required")
	}
	if c.Sources.CLOBWSURL == "" {
		return fmt.Errorf("sources.clob_ws_url is required")
	}
	if c.Signals.MinConfidence < 0 || c.Signals.MinConfidence > 1 {
		return fmt.Errorf("signals.min_confidence must be in [0,1]")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be > 0")
	}
	return nil
}
