package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("MODAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("modaflow")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".modaflow"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("database.min_conns", cfg.Database.MinConns)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("database.max_conn_lifetime", cfg.Database.MaxConnLifetime)

	v.SetDefault("archive.enabled", cfg.Archive.Enabled)
	v.SetDefault("archive.database", cfg.Archive.Database)
	v.SetDefault("archive.collection", cfg.Archive.Collection)

	v.SetDefault("fetcher.request_timeout", cfg.Fetcher.RequestTimeout)
	v.SetDefault("fetcher.connect_timeout", cfg.Fetcher.ConnectTimeout)
	v.SetDefault("fetcher.max_retries", cfg.Fetcher.MaxRetries)
	v.SetDefault("fetcher.min_delay", cfg.Fetcher.MinDelay)
	v.SetDefault("fetcher.max_delay", cfg.Fetcher.MaxDelay)
	v.SetDefault("fetcher.rate_per_second", cfg.Fetcher.RatePerSecond)
	v.SetDefault("fetcher.rate_burst", cfg.Fetcher.RateBurst)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.cache_ttl", cfg.Fetcher.CacheTTL)
	v.SetDefault("fetcher.user_agents", cfg.Fetcher.UserAgents)

	v.SetDefault("browser.enabled", cfg.Browser.Enabled)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.page_timeout", cfg.Browser.PageTimeout)
	v.SetDefault("browser.wait_stable", cfg.Browser.WaitStable)

	v.SetDefault("import.domain", cfg.Import.Domain)
	v.SetDefault("import.default_limit", cfg.Import.DefaultLimit)
	v.SetDefault("import.max_limit", cfg.Import.MaxLimit)
	v.SetDefault("import.chunk_size", cfg.Import.ChunkSize)
	v.SetDefault("import.chunk_delay", cfg.Import.ChunkDelay)
	v.SetDefault("import.price_min", cfg.Import.PriceMin)
	v.SetDefault("import.price_max", cfg.Import.PriceMax)
	v.SetDefault("import.min_category_score", cfg.Import.MinCategory)
	v.SetDefault("import.run_history", cfg.Import.RunHistory)

	v.SetDefault("enrich.endpoint", cfg.Enrich.Endpoint)
	v.SetDefault("enrich.model", cfg.Enrich.Model)
	v.SetDefault("enrich.timeout", cfg.Enrich.Timeout)
	v.SetDefault("enrich.temperature", cfg.Enrich.Temperature)
	v.SetDefault("enrich.max_tokens", cfg.Enrich.MaxTokens)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
