package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/coefwatch/internal/forecast"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// FeedConfig holds the live coefficient feed configuration
type FeedConfig struct {
	URL            string            `mapstructure:"url"`
	ValuePath      string            `mapstructure:"value_path"`    // gjson path to the coefficient
	RoundIDPath    string            `mapstructure:"round_id_path"` // gjson path to the round identifier (optional)
	Headers        map[string]string `mapstructure:"headers"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	MaxRetries     int               `mapstructure:"max_retries"`
	RetryDelayBase time.Duration     `mapstructure:"retry_delay_base"`
	MaxConcurrent  int               `mapstructure:"max_concurrent"` // in-flight fetches shared by all loops
}

// MonitorConfig holds monitoring loop configuration
type MonitorConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Threshold       int           `mapstructure:"threshold"` // minimum confidence that triggers an alert
	ResumeOnStart   bool          `mapstructure:"resume_on_start"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ForecastConfig holds ensemble parameters
type ForecastConfig struct {
	HistorySize  int    `mapstructure:"history_size"`
	EnsembleSize int    `mapstructure:"ensemble_size"`
	Seed         uint64 `mapstructure:"seed"` // 0 = random
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // per on-demand forecast request
}

// StorageConfig holds subscriber persistence configuration
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envKeyReplacer maps nested keys like telegram.bot_token to TELEGRAM_BOT_TOKEN.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. COEFWATCH_TELEGRAM_BOT_TOKEN
	v.SetEnvPrefix("COEFWATCH")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.value_path", "coefficient")
	v.SetDefault("feed.round_id_path", "round_id")
	v.SetDefault("feed.timeout", "10s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")
	v.SetDefault("feed.max_concurrent", 4)

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "30s")
	v.SetDefault("monitor.threshold", 70)
	v.SetDefault("monitor.resume_on_start", true)
	v.SetDefault("monitor.shutdown_timeout", "15s")

	// Forecast defaults
	v.SetDefault("forecast.history_size", 100)
	v.SetDefault("forecast.ensemble_size", 100)
	v.SetDefault("forecast.seed", 0)

	// Telegram defaults. bot_token is registered so env overrides reach Unmarshal.
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.request_timeout", "20s")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.db_path", "./data/coefwatch.db")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Feed config
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.ValuePath == "" {
		return fmt.Errorf("feed.value_path is required")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if c.Feed.MaxRetries < 1 {
		return fmt.Errorf("feed.max_retries must be at least 1")
	}
	if c.Feed.MaxConcurrent < 1 {
		return fmt.Errorf("feed.max_concurrent must be at least 1")
	}

	// Validate Monitor config
	if c.Monitor.PollInterval < 1*time.Second {
		return fmt.Errorf("monitor.poll_interval must be at least 1 second")
	}
	if c.Monitor.ShutdownTimeout <= 0 {
		return fmt.Errorf("monitor.shutdown_timeout must be positive")
	}
	if c.Monitor.Threshold < 1 || c.Monitor.Threshold > 99 {
		return fmt.Errorf("monitor.threshold must be between 1 and 99")
	}

	// Validate Forecast config
	if c.Forecast.HistorySize < forecast.MinHistory || c.Forecast.HistorySize > forecast.DefaultCapacity {
		return fmt.Errorf("forecast.history_size must be between %d and %d", forecast.MinHistory, forecast.DefaultCapacity)
	}
	if c.Forecast.EnsembleSize < 100 {
		return fmt.Errorf("forecast.ensemble_size must be at least 100")
	}

	// Validate Telegram config
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required when storage is enabled")
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	// Validate Logging config
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
