package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for modaflow.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"  yaml:"archive"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"  yaml:"fetcher"`
	Browser  BrowserConfig  `mapstructure:"browser"  yaml:"browser"`
	Import   ImportConfig   `mapstructure:"import"   yaml:"import"`
	Enrich   EnrichConfig   `mapstructure:"enrich"   yaml:"enrich"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             yaml:"addr"`
	AccessKey       string        `mapstructure:"access_key"       yaml:"access_key"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig controls the Postgres catalog store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"               yaml:"url"`
	MaxConns        int32         `mapstructure:"max_conns"         yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"         yaml:"min_conns"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"   yaml:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// ArchiveConfig controls the optional raw-snapshot archive.
type ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"    yaml:"enabled"`
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// FetcherConfig controls the HTTP fetcher.
type FetcherConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"  yaml:"request_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"  yaml:"connect_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"      yaml:"max_retries"`
	MinDelay        time.Duration `mapstructure:"min_delay"        yaml:"min_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"        yaml:"max_delay"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"  yaml:"rate_per_second"`
	RateBurst       int           `mapstructure:"rate_burst"       yaml:"rate_burst"`
	MaxBodySize     int64         `mapstructure:"max_body_size"    yaml:"max_body_size"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"   yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"        yaml:"cache_ttl"`
	UserAgents      []string      `mapstructure:"user_agents"      yaml:"user_agents"`
	Proxies         []string      `mapstructure:"proxies"          yaml:"proxies"`
}

// BrowserConfig controls the optional headless-browser fetch mode, used when
// plain HTTP yields no candidates on script-rendered pages.
type BrowserConfig struct {
	Enabled     bool          `mapstructure:"enabled"      yaml:"enabled"`
	Headless    bool          `mapstructure:"headless"     yaml:"headless"`
	PageTimeout time.Duration `mapstructure:"page_timeout" yaml:"page_timeout"`
	WaitStable  time.Duration `mapstructure:"wait_stable"  yaml:"wait_stable"`
}

// ImportConfig controls batch import behavior.
type ImportConfig struct {
	Domain       string        `mapstructure:"domain"        yaml:"domain"` // kz, ru, by
	DefaultLimit int           `mapstructure:"default_limit" yaml:"default_limit"`
	MaxLimit     int           `mapstructure:"max_limit"     yaml:"max_limit"`
	ChunkSize    int           `mapstructure:"chunk_size"    yaml:"chunk_size"`
	ChunkDelay   time.Duration `mapstructure:"chunk_delay"   yaml:"chunk_delay"`
	PriceMin     float64       `mapstructure:"price_min"     yaml:"price_min"`
	PriceMax     float64       `mapstructure:"price_max"     yaml:"price_max"`
	MinCategory  float64       `mapstructure:"min_category_score" yaml:"min_category_score"`
	RunHistory   int           `mapstructure:"run_history"   yaml:"run_history"`
}

// EnrichConfig controls the enrichment collaborator.
type EnrichConfig struct {
	APIKey      string        `mapstructure:"api_key"     yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"    yaml:"endpoint"`
	Model       string        `mapstructure:"model"       yaml:"model"`
	Timeout     time.Duration `mapstructure:"timeout"     yaml:"timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"  yaml:"max_tokens"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        8,
			MinConns:        1,
			ConnectTimeout:  5 * time.Second,
			MaxConnLifetime: 30 * time.Minute,
		},
		Archive: ArchiveConfig{
			Enabled:    false,
			Database:   "modaflow",
			Collection: "snapshots",
		},
		Fetcher: FetcherConfig{
			RequestTimeout:  30 * time.Second,
			ConnectTimeout:  15 * time.Second,
			MaxRetries:      3,
			MinDelay:        500 * time.Millisecond,
			MaxDelay:        1500 * time.Millisecond,
			RatePerSecond:   1,
			RateBurst:       2,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			MaxIdleConns:    100,
			IdleConnTimeout: 90 * time.Second,
			CacheTTL:        5 * time.Minute,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Browser: BrowserConfig{
			Enabled:     false,
			Headless:    true,
			PageTimeout: 45 * time.Second,
			WaitStable:  2 * time.Second,
		},
		Import: ImportConfig{
			Domain:       "kz",
			DefaultLimit: 20,
			MaxLimit:     200,
			ChunkSize:    10,
			ChunkDelay:   100 * time.Millisecond,
			PriceMin:     100,
			PriceMax:     10_000_000,
			MinCategory:  0.3,
			RunHistory:   100,
		},
		Enrich: EnrichConfig{
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo-1106",
			Timeout:     20 * time.Second,
			Temperature: 0.3,
			MaxTokens:   1500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
