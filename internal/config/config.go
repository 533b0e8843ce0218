package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Tier maps an activity score ceiling to how many keywords may share a query.
// A zero MaxScore marks the unbounded tier.
type Tier struct {
	MaxScore float64 `json:"max_score"`
	Combine  int     `json:"combine"`
}

// TickerSource configures the market pages scraped when the keyword table is empty
type TickerSource struct {
	BaseURL   string   `json:"base_url"`
	Markets   []string `json:"markets"`
	Selector  string   `json:"selector"`
	Blacklist []string `json:"blacklist"`
}

// Config holds all runtime configuration parameters
type Config struct {
	DBPath                 string       `json:"db_path"`
	ArchiveDir             string       `json:"archive_dir"`
	KeywordsFile           string       `json:"keywords_file"`
	CredentialsPath        string       `json:"credentials_path"`
	APIBaseURL             string       `json:"api_base_url"`
	QueryLengthBudget      int          `json:"query_length_budget"`
	PageSize               int          `json:"page_size"`
	Tiers                  []Tier       `json:"tiers"`
	ReservedKeywords       []string     `json:"reserved_keywords"`
	RateLimitFallbackSec   int          `json:"rate_limit_fallback_sec"`
	RateLimitBufferSec     int          `json:"rate_limit_buffer_sec"`
	RequestsPerSecond      float64      `json:"requests_per_second"`
	RequestTimeoutMs       int          `json:"request_timeout_ms"`
	CyclePauseSec          int          `json:"cycle_pause_sec"`
	TransportErrorPauseSec int          `json:"transport_error_pause_sec"`
	ErrorPauseSec          int          `json:"error_pause_sec"`
	TickerSource           TickerSource `json:"ticker_source"`
	MetricsAddr            string       `json:"metrics_addr"`
	MetricsPath            string       `json:"metrics_path"`
	LogLevel               string       `json:"log_level"`
}

// DefaultTiers returns the activity tiers used when the config file has none
func DefaultTiers() []Tier {
	return []Tier{
		{MaxScore: 3, Combine: 50},
		{MaxScore: 10, Combine: 10},
		{MaxScore: 20, Combine: 4},
		{MaxScore: 40, Combine: 2},
		{MaxScore: 0, Combine: 1},
	}
}

// LoadConfig reads and validates configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults sets default values for unspecified fields
func ApplyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "search_stats.db"
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "tweets"
	}
	if cfg.CredentialsPath == "" {
		cfg.CredentialsPath = "twitter_keys.json"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.twitter.com"
	}
	if cfg.QueryLengthBudget == 0 {
		cfg.QueryLengthBudget = 450
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.ReservedKeywords == nil {
		cfg.ReservedKeywords = []string{"OR", "$OR"}
	}
	if cfg.RateLimitFallbackSec == 0 {
		cfg.RateLimitFallbackSec = 15 * 60
	}
	if cfg.RateLimitBufferSec == 0 {
		cfg.RateLimitBufferSec = 10
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 15000
	}
	if cfg.CyclePauseSec == 0 {
		cfg.CyclePauseSec = 3 * 60
	}
	if cfg.TransportErrorPauseSec == 0 {
		cfg.TransportErrorPauseSec = 15 * 60
	}
	if cfg.ErrorPauseSec == 0 {
		cfg.ErrorPauseSec = 5 * 60
	}
	if cfg.TickerSource.BaseURL == "" {
		cfg.TickerSource.BaseURL = "http://www.netfonds.no/quotes/kurs.php?exchange="
	}
	if len(cfg.TickerSource.Markets) == 0 {
		cfg.TickerSource.Markets = []string{"O", "N", "A"}
	}
	if cfg.TickerSource.Selector == "" {
		cfg.TickerSource.Selector = "div.hcontent tr td:first-child a[href]"
	}
	if cfg.TickerSource.Blacklist == nil {
		cfg.TickerSource.Blacklist = []string{"OR"}
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "last_run.json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks that values are sensible
func Validate(cfg *Config) error {
	if cfg.QueryLengthBudget < 1 {
		return fmt.Errorf("query_length_budget must be >= 1")
	}
	if cfg.PageSize < 1 || cfg.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100")
	}
	if cfg.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.RateLimitFallbackSec < 1 || cfg.RateLimitBufferSec < 0 {
		return fmt.Errorf("rate limit timings must be positive")
	}
	if len(cfg.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	if cfg.Tiers[len(cfg.Tiers)-1].MaxScore != 0 {
		return fmt.Errorf("the last tier must be unbounded (max_score 0)")
	}
	for i, tier := range cfg.Tiers {
		if tier.Combine < 1 {
			return fmt.Errorf("tiers[%d].combine must be >= 1", i)
		}
		if tier.MaxScore < 0 {
			return fmt.Errorf("tiers[%d].max_score must be >= 0", i)
		}
		if tier.MaxScore == 0 && i != len(cfg.Tiers)-1 {
			return fmt.Errorf("tiers[%d]: only the last tier may be unbounded", i)
		}
		if i > 0 && tier.MaxScore != 0 && tier.MaxScore <= cfg.Tiers[i-1].MaxScore {
			return fmt.Errorf("tiers must be in ascending max_score order")
		}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "warning":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn")
	}
	return nil
}

// RequestTimeout returns the HTTP timeout for search and ticker requests
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Seconds converts one of the *_sec fields to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
