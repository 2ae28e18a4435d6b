// Package config provides configuration management for the broker bridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Bridge      BridgeConfig `mapstructure:"bridge"`
	Risk        RiskConfig   `mapstructure:"risk"`
	Feed        FeedConfig   `mapstructure:"feed"`
	Log         LogConfig    `mapstructure:"log"`
	Credentials Credentials  `mapstructure:"-"` // Loaded separately
}

// BridgeConfig holds bridge-wide settings.
type BridgeConfig struct {
	Mode            string        `mapstructure:"mode"`             // "live", "sim"
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"` // per REST call
	JournalPath     string        `mapstructure:"journal_path"`     // SQLite order journal, "" disables
}

// RiskConfig holds pre-trade risk limits.
type RiskConfig struct {
	MaxOrderQuantity int     `mapstructure:"max_order_quantity"`
	MaxOrderValue    float64 `mapstructure:"max_order_value"`
}

// FeedConfig holds market-data stream settings.
type FeedConfig struct {
	BufferSize           int           `mapstructure:"buffer_size"`
	SubscriberBufferSize int           `mapstructure:"subscriber_buffer_size"`
	ReconnectMaxRetries  int           `mapstructure:"reconnect_max_retries"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// Credentials holds Shoonya API credentials.
type Credentials struct {
	UserID     string `mapstructure:"user_id"`
	Password   string `mapstructure:"password"`
	TOTPSecret string `mapstructure:"totp_secret"` // base32 secret for the 2FA factor
	VendorCode string `mapstructure:"vendor_code"`
	APISecret  string `mapstructure:"api_secret"`
	IMEI       string `mapstructure:"imei"`
}

// ToModel converts the configured credentials to the domain form.
func (c Credentials) ToModel() models.Credentials {
	return models.Credentials{
		UserID:     c.UserID,
		Password:   c.Password,
		TwoFA:      c.TOTPSecret,
		VendorCode: c.VendorCode,
		APISecret:  c.APISecret,
		IMEI:       c.IMEI,
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/shoonya-bridge"
	}
	return filepath.Join(home, ".config", "shoonya-bridge")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := createTemplateConfig(configDir); err != nil {
				return err
			}
			// Fall through with defaults only.
			return v.Unmarshal(target)
		}
		return err
	}

	return v.Unmarshal(target)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bridge.mode", "live")
	v.SetDefault("bridge.upstream_timeout", "10s")
	v.SetDefault("bridge.journal_path", filepath.Join(DefaultConfigDir(), "journal.db"))
	v.SetDefault("risk.max_order_quantity", 100000)
	v.SetDefault("risk.max_order_value", 5000000.0)
	v.SetDefault("feed.buffer_size", 1000)
	v.SetDefault("feed.subscriber_buffer_size", 100)
	v.SetDefault("feed.reconnect_max_retries", 5)
	v.SetDefault("feed.reconnect_base_delay", "1s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
	v.SetDefault("log.file_path", filepath.Join(DefaultConfigDir(), "logs", "bridge.log"))
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.UnmarshalKey("shoonya", creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHOONYA_USER_ID"); v != "" {
		cfg.Credentials.UserID = v
	}
	if v := os.Getenv("SHOONYA_PASSWORD"); v != "" {
		cfg.Credentials.Password = v
	}
	if v := os.Getenv("SHOONYA_TOTP_SECRET"); v != "" {
		cfg.Credentials.TOTPSecret = v
	}
	if v := os.Getenv("SHOONYA_VENDOR_CODE"); v != "" {
		cfg.Credentials.VendorCode = v
	}
	if v := os.Getenv("SHOONYA_API_SECRET"); v != "" {
		cfg.Credentials.APISecret = v
	}
	if v := os.Getenv("SHOONYA_IMEI"); v != "" {
		cfg.Credentials.IMEI = v
	}
	if v := os.Getenv("BRIDGE_MODE"); v != "" {
		cfg.Bridge.Mode = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Bridge.Mode != "" && c.Bridge.Mode != "live" && c.Bridge.Mode != "sim" {
		return fmt.Errorf("%w: bridge mode %q (must be 'live' or 'sim')", apierrors.ErrConfigInvalid, c.Bridge.Mode)
	}
	if c.Bridge.UpstreamTimeout <= 0 {
		return fmt.Errorf("%w: upstream_timeout must be positive", apierrors.ErrConfigInvalid)
	}
	if c.Risk.MaxOrderQuantity <= 0 {
		return fmt.Errorf("%w: max_order_quantity must be positive", apierrors.ErrConfigInvalid)
	}
	if c.Risk.MaxOrderValue <= 0 {
		return fmt.Errorf("%w: max_order_value must be positive", apierrors.ErrConfigInvalid)
	}
	if c.Feed.BufferSize <= 0 || c.Feed.SubscriberBufferSize <= 0 {
		return fmt.Errorf("%w: feed buffer sizes must be positive", apierrors.ErrConfigInvalid)
	}
	return nil
}

// IsSimMode returns true if the simulated broker is selected.
func (c *Config) IsSimMode() bool {
	return c.Bridge.Mode == "sim"
}
