package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Import.ChunkSize < 1 {
		return fmt.Errorf("import.chunk_size must be >= 1, got %d", cfg.Import.ChunkSize)
	}
	if cfg.Import.ChunkSize > 100 {
		return fmt.Errorf("import.chunk_size must be <= 100, got %d", cfg.Import.ChunkSize)
	}
	if cfg.Import.ChunkDelay < 0 {
		return fmt.Errorf("import.chunk_delay must be >= 0")
	}
	if cfg.Import.DefaultLimit < 1 {
		return fmt.Errorf("import.default_limit must be >= 1, got %d", cfg.Import.DefaultLimit)
	}
	if cfg.Import.MaxLimit < cfg.Import.DefaultLimit {
		return fmt.Errorf("import.max_limit must be >= import.default_limit")
	}
	switch cfg.Import.Domain {
	case "kz", "ru", "by":
	default:
		return fmt.Errorf("import.domain must be one of kz/ru/by, got %q", cfg.Import.Domain)
	}
	if cfg.Import.PriceMin < 0 || cfg.Import.PriceMax <= cfg.Import.PriceMin {
		return fmt.Errorf("import price bounds are invalid: min=%v max=%v",
			cfg.Import.PriceMin, cfg.Import.PriceMax)
	}
	if cfg.Import.MinCategory < 0 || cfg.Import.MinCategory > 1 {
		return fmt.Errorf("import.min_category_score must be in [0,1], got %v", cfg.Import.MinCategory)
	}

	if cfg.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if cfg.Fetcher.ConnectTimeout <= 0 {
		return fmt.Errorf("fetcher.connect_timeout must be > 0")
	}
	if cfg.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("fetcher.max_retries must be >= 0, got %d", cfg.Fetcher.MaxRetries)
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MinDelay < 0 || cfg.Fetcher.MaxDelay < cfg.Fetcher.MinDelay {
		return fmt.Errorf("fetcher delay range is invalid: min=%v max=%v",
			cfg.Fetcher.MinDelay, cfg.Fetcher.MaxDelay)
	}
	for _, proxyURL := range cfg.Fetcher.Proxies {
		if _, err := url.Parse(proxyURL); err != nil {
			return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
		}
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.URI == "" {
			return fmt.Errorf("archive.uri is required when archive.enabled")
		}
		if cfg.Archive.Database == "" || cfg.Archive.Collection == "" {
			return fmt.Errorf("archive.database and archive.collection must be set")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}
