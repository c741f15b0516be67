package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Config holds all runtime configuration parameters
type Config struct {
	PageURL            string  `json:"page_url"`
	OutputDir          string  `json:"output_dir"`
	ConcurrentWorkers  int     `json:"concurrent_workers"`
	MaxAttempts        int     `json:"max_attempts"`
	RequestTimeoutMs   int     `json:"request_timeout_ms"`
	RetryDelayMs       int     `json:"retry_delay_ms"`
	MaxRetryDelayMs    int     `json:"max_retry_delay_ms"`
	MaxRetryAfterMs    int     `json:"max_retry_after_ms"`
	MaxPageBytes       int     `json:"max_page_bytes"`
	MaxPerHost         int     `json:"max_per_host"`
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	Overwrite          bool    `json:"overwrite"`
	Resume             bool    `json:"resume"`
	Extension          string  `json:"extension"`
	UserAgent          string  `json:"user_agent"`
	DBPath             string  `json:"db_path"`
	MetricsPath        string  `json:"metrics_path"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadConfig reads configuration from a JSON file and applies defaults.
// The page URL may come from the command line, so callers run Validate
// once every source has been merged.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "pdfs"
	}
	if cfg.ConcurrentWorkers == 0 {
		cfg.ConcurrentWorkers = 4
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 30000
	}
	if cfg.RetryDelayMs == 0 {
		cfg.RetryDelayMs = 500
	}
	if cfg.MaxRetryDelayMs == 0 {
		cfg.MaxRetryDelayMs = 30000
	}
	if cfg.MaxRetryAfterMs == 0 {
		cfg.MaxRetryAfterMs = 60000
	}
	if cfg.MaxPageBytes == 0 {
		cfg.MaxPageBytes = 64 << 20
	}
	if cfg.Extension == "" {
		cfg.Extension = ".pdf"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "harvest-report.json"
	}
}

// Validate checks that required fields are present and values are sensible
func (cfg *Config) Validate() error {
	if cfg.PageURL == "" {
		return fmt.Errorf("page_url is required")
	}
	u, err := url.Parse(cfg.PageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("page_url must be an absolute http(s) URL")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if cfg.ConcurrentWorkers < 1 {
		return fmt.Errorf("concurrent_workers must be >= 1")
	}
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.RetryDelayMs < 0 || cfg.MaxRetryDelayMs < 0 || cfg.MaxRetryAfterMs < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if cfg.MaxRetryDelayMs < cfg.RetryDelayMs {
		return fmt.Errorf("max_retry_delay_ms must be >= retry_delay_ms")
	}
	if cfg.MaxPageBytes < 1 {
		return fmt.Errorf("max_page_bytes must be >= 1")
	}
	if cfg.MaxPerHost < 0 {
		return fmt.Errorf("max_per_host must be >= 0")
	}
	if cfg.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate_limit_per_second must be >= 0")
	}
	if !strings.HasPrefix(cfg.Extension, ".") {
		return fmt.Errorf("extension must start with a dot")
	}
	if cfg.Resume && cfg.DBPath == "" {
		return fmt.Errorf("resume requires db_path")
	}
	return nil
}
