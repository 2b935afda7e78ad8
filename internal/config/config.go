// Package config handles TOML configuration for skyquery.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// MinTokenBudget is the smallest usable model token budget.
const MinTokenBudget = 2000

// Config is the root configuration structure.
type Config struct {
	AWS       AWSConfig       `toml:"aws"`
	Model     ModelConfig     `toml:"model"`
	Collector CollectorConfig `toml:"collector"`
	Storage   StorageConfig   `toml:"storage"`
	OTEL      OTELConfig      `toml:"otel"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Log       LogConfig       `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `toml:"region"`
	Profile string `toml:"profile"`
}

// ModelConfig holds language model settings.
type ModelConfig struct {
	ID                     string  `toml:"id"`
	TokenBudget            int     `toml:"token_budget"`
	MaxTokens              int     `toml:"max_tokens"`
	Temperature            float64 `toml:"temperature"`
	TimeoutStr             string  `toml:"timeout"`
	Timeout                time.Duration
	MaxRetries             int    `toml:"max_retries"`
	OpenAIBaseURL          string `toml:"openai_base_url"`
	OpenAIAPIKeyEnv        string `toml:"openai_api_key_env"`
	SkipAccessVerification bool   `toml:"skip_access_verification"`
	Tokenizer              string `toml:"tokenizer"`
}

// CollectorConfig holds collection settings.
type CollectorConfig struct {
	RatePerSecond     float64           `toml:"rate_per_second"`
	Burst             int               `toml:"burst"`
	ExcludeCategories []string          `toml:"exclude_categories"`
	IncludeTags       map[string]string `toml:"include_tags"`
	ExcludeTags       map[string]string `toml:"exclude_tags"`
}

// StorageConfig holds snapshot and history storage settings.
type StorageConfig struct {
	Dir           string `toml:"dir"`
	KeepSnapshots int    `toml:"keep_snapshots"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string       `toml:"endpoint"`
	Insecure    bool         `toml:"insecure"`
	ServiceName string       `toml:"service_name"`
	Traces      TracesConfig `toml:"traces"`
	Metrics     OTLPMetrics  `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// OTLPMetrics holds OTLP metric export settings.
type OTLPMetrics struct {
	Enabled bool `toml:"enabled"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseTimeout(cfg)
	return cfg
}

// DefaultPath returns ~/.skyquery/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "skyquery.toml"
	}
	return filepath.Join(home, ".skyquery", "config.toml")
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseTimeout(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.AWS.Profile == "" {
		cfg.AWS.Profile = "default"
	}
	if cfg.Model.ID == "" {
		cfg.Model.ID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if cfg.Model.TokenBudget == 0 {
		cfg.Model.TokenBudget = 8000
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 2000
	}
	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = 0.1
	}
	if cfg.Model.TimeoutStr == "" {
		cfg.Model.TimeoutStr = "60s"
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 3
	}
	if cfg.Model.OpenAIAPIKeyEnv == "" {
		cfg.Model.OpenAIAPIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Model.Tokenizer == "" {
		cfg.Model.Tokenizer = "chars"
	}
	if cfg.Collector.RatePerSecond == 0 {
		cfg.Collector.RatePerSecond = 5
	}
	if cfg.Collector.Burst == 0 {
		cfg.Collector.Burst = 1
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Dir(DefaultPath())
	}
	if cfg.Storage.KeepSnapshots == 0 {
		cfg.Storage.KeepSnapshots = 10
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "skyquery"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseTimeout(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Model.TimeoutStr)
	if err != nil {
		return fmt.Errorf("parse timeout %q: %w", cfg.Model.TimeoutStr, err)
	}
	cfg.Model.Timeout = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws: region required")
	}
	if c.Model.TokenBudget < MinTokenBudget {
		return fmt.Errorf("model: token_budget must be at least %d (got %d)", MinTokenBudget, c.Model.TokenBudget)
	}
	if c.Model.Temperature < 0.0 || c.Model.Temperature > 1.0 {
		return fmt.Errorf("model: temperature must be between 0.0 and 1.0 (got %v)", c.Model.Temperature)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model: timeout must be positive")
	}
	if c.Collector.RatePerSecond <= 0 {
		return fmt.Errorf("collector: rate_per_second must be positive (got %v)", c.Collector.RatePerSecond)
	}
	switch c.Model.Tokenizer {
	case "chars", "tiktoken":
	default:
		return fmt.Errorf("model: tokenizer must be \"chars\" or \"tiktoken\" (got %q)", c.Model.Tokenizer)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
