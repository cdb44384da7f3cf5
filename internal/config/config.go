package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Feeds       []FeedConfig              `mapstructure:"feeds"`
	Alerts      AlertsConfig              `mapstructure:"alerts"`
	Instruments map[string]InstrumentInfo `mapstructure:"instruments"`
	Session     SessionConfig             `mapstructure:"session"`
	Archive     ArchiveConfig             `mapstructure:"archive"`
	Telegram    TelegramConfig            `mapstructure:"telegram"`
	HTTP        HTTPConfig                `mapstructure:"http"`
	Logging     LoggingConfig             `mapstructure:"logging"`
}

// FeedConfig describes one websocket tick feed. Each feed runs its own
// adapter, engine, and alert log; feeds share no mutable state.
type FeedConfig struct {
	Name          string        `mapstructure:"name"`
	URL           string        `mapstructure:"url"`
	FreezeTimeout time.Duration `mapstructure:"freeze_timeout"`
	ReconnectMin  time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax  time.Duration `mapstructure:"reconnect_max"`
}

// PolicyConfig mirrors models.AlertConfig at the configuration boundary.
type PolicyConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Deviation          float64       `mapstructure:"deviation"`
	Duration           time.Duration `mapstructure:"duration"`
	RespectMarketHours bool          `mapstructure:"respect_market_hours"`
}

// AlertsConfig holds the alert log capacity, the process-wide default policy,
// and per-instrument overrides applied before the first tick arrives.
type AlertsConfig struct {
	LogCapacity int                     `mapstructure:"log_capacity"`
	Default     PolicyConfig            `mapstructure:"default"`
	Overrides   map[string]PolicyConfig `mapstructure:"overrides"`
}

// InstrumentInfo is the static name/exchange lookup entry for one key.
type InstrumentInfo struct {
	Name     string `mapstructure:"name"`
	Exchange string `mapstructure:"exchange"`
}

// SessionConfig holds market session oracle behavior configuration
type SessionConfig struct {
	FailPolicy string `mapstructure:"fail_policy"` // fail_open or fail_closed
}

// ArchiveConfig holds the optional SQLite audit sink configuration
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
	MaxRows int    `mapstructure:"max_rows"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// HTTPConfig holds the read-side API server configuration
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("STILLWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Alert defaults
	v.SetDefault("alerts.log_capacity", 50)
	v.SetDefault("alerts.default.enabled", true)
	v.SetDefault("alerts.default.deviation", 0.5)
	v.SetDefault("alerts.default.duration", "30s")
	v.SetDefault("alerts.default.respect_market_hours", true)

	// Session defaults
	v.SetDefault("session.fail_policy", "fail_open")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.db_path", "")
	v.SetDefault("archive.max_rows", 10000)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// HTTP defaults
	v.SetDefault("http.listen_addr", ":8080")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if len(c.Feeds) == 0 {
		return fmt.Errorf("feeds must contain at least one feed")
	}
	seen := make(map[string]bool)
	for i, f := range c.Feeds {
		if f.Name == "" {
			return fmt.Errorf("feeds[%d].name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("feeds[%d].name %q is duplicated", i, f.Name)
		}
		seen[f.Name] = true
		if f.URL == "" {
			return fmt.Errorf("feeds[%d].url is required", i)
		}
		if f.FreezeTimeout < time.Second {
			return fmt.Errorf("feeds[%d].freeze_timeout must be at least 1 second", i)
		}
		if f.ReconnectMin <= 0 {
			return fmt.Errorf("feeds[%d].reconnect_min must be positive", i)
		}
		if f.ReconnectMax < f.ReconnectMin {
			return fmt.Errorf("feeds[%d].reconnect_max must be >= reconnect_min", i)
		}
	}

	if c.Alerts.LogCapacity < 1 {
		return fmt.Errorf("alerts.log_capacity must be at least 1")
	}
	if err := validatePolicy("alerts.default", c.Alerts.Default); err != nil {
		return err
	}
	for key, p := range c.Alerts.Overrides {
		if err := validatePolicy(fmt.Sprintf("alerts.overrides[%s]", key), p); err != nil {
			return err
		}
	}

	if c.Session.FailPolicy != "fail_open" && c.Session.FailPolicy != "fail_closed" {
		return fmt.Errorf("session.fail_policy must be one of: fail_open, fail_closed")
	}

	if c.Archive.Enabled && c.Archive.MaxRows < 1 {
		return fmt.Errorf("archive.max_rows must be at least 1 when archive is enabled")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func validatePolicy(path string, p PolicyConfig) error {
	if p.Deviation <= 0 {
		return fmt.Errorf("%s.deviation must be positive", path)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%s.duration must be positive", path)
	}
	return nil
}
