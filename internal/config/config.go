// Package config loads the engine's YAML configuration file, overlays
// environment-variable overrides for secrets, and validates the result
// before the daemon starts, with the usual Load/Validate split.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"signalengine/pkg/model"
)

// Config is the top-level application configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Thresholds model.Thresholds `yaml:"thresholds"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Providers ProvidersConfig `yaml:"providers"`
	Push      PushConfig      `yaml:"push"`
	Admin     AdminConfig     `yaml:"admin"`
}

// DaemonConfig holds scheduled-invocation settings.
type DaemonConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// ProvidersConfig holds the price-adapter endpoints, rate limits, and the
// curated fund display-name→code mapping.
type ProvidersConfig struct {
	CSVBaseURL     string            `yaml:"csv_base_url"`
	CSVRateLimit   int               `yaml:"csv_rate_limit"`
	QuoteBaseURL   string            `yaml:"quote_base_url"`
	QuoteRateLimit int               `yaml:"quote_rate_limit"`
	FundBaseURL    string            `yaml:"fund_base_url"`
	FundRateLimit  int               `yaml:"fund_rate_limit"`
	FundCodes      map[string]string `yaml:"fund_codes"`
}

// PushConfig holds the outbound notification transport's secrets.
type PushConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	Recipient string `yaml:"recipient"`
}

// AdminConfig holds the administrative HTTP server's settings.
type AdminConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

// DefaultConfig returns the built-in configuration, with conservative
// threshold defaults and a 5-minute tick.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data",
		Thresholds: model.DefaultThresholds(),
		Daemon: DaemonConfig{
			TickInterval: 5 * time.Minute,
		},
		Providers: ProvidersConfig{
			CSVBaseURL:     os.Getenv("SIGNALENGINE_CSV_BASE_URL"),
			CSVRateLimit:   60,
			QuoteBaseURL:   os.Getenv("SIGNALENGINE_QUOTE_BASE_URL"),
			QuoteRateLimit: 60,
			FundBaseURL:    os.Getenv("SIGNALENGINE_FUND_BASE_URL"),
			FundRateLimit:  30, // ~2s between requests
			FundCodes:      map[string]string{},
		},
		Push: PushConfig{
			Endpoint:  os.Getenv("SIGNALENGINE_PUSH_ENDPOINT"),
			Token:     os.Getenv("SIGNALENGINE_PUSH_TOKEN"),
			Recipient: os.Getenv("SIGNALENGINE_PUSH_RECIPIENT"),
		},
		Admin: AdminConfig{
			Addr:      ":8090",
			JWTSecret: os.Getenv("SIGNALENGINE_ADMIN_JWT_SECRET"),
		},
	}
}

// Load reads YAML configuration from path, falling back to defaults if the
// file does not exist, then applies environment-variable overrides for
// secrets so they never need to live in the file on disk.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if v := os.Getenv("SIGNALENGINE_PUSH_TOKEN"); v != "" {
		cfg.Push.Token = v
	}
	if v := os.Getenv("SIGNALENGINE_PUSH_RECIPIENT"); v != "" {
		cfg.Push.Recipient = v
	}
	if v := os.Getenv("SIGNALENGINE_ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}
	if v := os.Getenv("SIGNALENGINE_CSV_BASE_URL"); v != "" {
		cfg.Providers.CSVBaseURL = v
	}
	if v := os.Getenv("SIGNALENGINE_QUOTE_BASE_URL"); v != "" {
		cfg.Providers.QuoteBaseURL = v
	}
	if v := os.Getenv("SIGNALENGINE_FUND_BASE_URL"); v != "" {
		cfg.Providers.FundBaseURL = v
	}

	return cfg, nil
}

// Validate checks the invariants the daemon needs before it starts.
func (c *Config) Validate() error {
	if c.Providers.CSVBaseURL == "" && c.Providers.QuoteBaseURL == "" && c.Providers.FundBaseURL == "" {
		return fmt.Errorf("at least one price provider endpoint must be configured")
	}
	if c.Push.Endpoint == "" || c.Push.Token == "" {
		return fmt.Errorf("push endpoint and token are required")
	}
	if c.Daemon.TickInterval <= 0 {
		return fmt.Errorf("daemon.tick_interval must be positive")
	}
	if c.Thresholds.MaxPerDay < 1 {
		return fmt.Errorf("thresholds.max_per_day must be at least 1")
	}
	return nil
}
