// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level generation core configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Admin      AdminConfig     `yaml:"admin"`
	Cache      CacheConfig     `yaml:"cache"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Chat       ChatConfig      `yaml:"chat"`
	Generation GenerationConfig `yaml:"generation"`
	Broadcast  BroadcastConfig `yaml:"broadcast"`
	Pricing    PricingConfig   `yaml:"pricing"`
	Providers  []ProviderEntry `yaml:"providers"`
	Models     []ModelEntry    `yaml:"models"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// CacheConfig holds soft-state cache settings (provider balance, alert
// dedup).
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AdminConfig holds the admin API boundary settings.
type AdminConfig struct {
	AdminKey      string  `yaml:"admin_key"`       // bootstrap admin key, compared as-is against X-Admin-Key
	NotifyChatIDs []int64 `yaml:"notify_chat_ids"` // admin chat ids alerted on low balance / broadcast completion
}

// ChatConfig holds chat-platform client settings.
type ChatConfig struct {
	BotToken string        `yaml:"bot_token"`
	BaseURL  string        `yaml:"base_url"` // override for testing
	Timeout  time.Duration `yaml:"timeout"`
}

// GenerationConfig holds the Submission Gateway and Status Poller tunables.
type GenerationConfig struct {
	MaxActivePerUser     int           `yaml:"max_active_per_user"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	MaxPollDuration      time.Duration `yaml:"max_poll_duration"`
	StuckJobThreshold    time.Duration `yaml:"stuck_job_threshold"`
	ReaperSweepInterval  time.Duration `yaml:"reaper_sweep_interval"`
	TrialCredits         int64         `yaml:"trial_credits"`
	ReferralBonusPercent int64         `yaml:"referral_bonus_percent"` // whole-number % of a deposit credited to the referrer
}

// BroadcastConfig holds the Broadcast Scheduler tunables.
type BroadcastConfig struct {
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"`
	WorkerCount        int           `yaml:"worker_count"`
	SendTimeout        time.Duration `yaml:"send_timeout"`
}

// PricingConfig holds catalog-wide pricing settings.
type PricingConfig struct {
	CreditsPerUSD     int64 `yaml:"credits_per_usd"`
	MinProviderBalanceUSD float64 `yaml:"min_provider_balance_usd"`
}

// ProviderEntry is an upstream image-generation provider definition.
type ProviderEntry struct {
	Name      string `yaml:"name"` // dispatcher key, e.g. "wavespeed"
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Enabled   *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the provider is enabled (defaults to true when nil).
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ModelEntry is a model catalog seed in the config file.
type ModelEntry struct {
	Key             string              `yaml:"key"`
	DisplayName     string              `yaml:"display_name"`
	Provider        string              `yaml:"provider"`
	UpstreamModelID string              `yaml:"upstream_model_id"`
	SupportsT2I     bool                `yaml:"supports_t2i"`
	SupportsI2I     bool                `yaml:"supports_i2i"`
	SupportedParams []string            `yaml:"supported_params"`
	OptionSets      map[string][]string `yaml:"option_sets"` // enumerated allowed values, e.g. aspect_ratio/resolution/quality
	BasePriceUSD    string              `yaml:"base_price_usd"`
	MarkupCredits   int64               `yaml:"markup_credits"`
	Enabled         *bool               `yaml:"enabled"`
}

// IsEnabled reports whether the model is enabled (defaults to true when nil).
func (m ModelEntry) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "bananapics.db",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 5 * time.Minute,
		},
		Generation: GenerationConfig{
			MaxActivePerUser:     3,
			PollInterval:         5 * time.Second,
			MaxPollDuration:      10 * time.Minute,
			StuckJobThreshold:    20 * time.Minute,
			ReaperSweepInterval:  5 * time.Minute,
			TrialCredits:         0, // trial grants one free generation, not credits
			ReferralBonusPercent: 10,
		},
		Broadcast: BroadcastConfig{
			RateLimitPerSecond: 20,
			WorkerCount:        8,
			SendTimeout:        10 * time.Second,
		},
		Pricing: PricingConfig{
			CreditsPerUSD:         1000,
			MinProviderBalanceUSD: 5,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
