// Package config provides configuration management for the trading core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"tradegate/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Log       LogConfig                 `mapstructure:"log"`
	Store     StoreConfig               `mapstructure:"store"`
	Hub       HubConfig                 `mapstructure:"hub"`
	Scheduler SchedulerConfig           `mapstructure:"scheduler"`
	Brokers   map[string]BrokerEndpoint `mapstructure:"brokers"`
	Crypto    CryptoConfig              `mapstructure:"crypto"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// HubConfig holds market data hub configuration.
type HubConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	MaxDrops         int `mapstructure:"max_drops"`
}

// SchedulerConfig holds strategy scheduler configuration.
type SchedulerConfig struct {
	PeriodSeconds    int `mapstructure:"period_seconds"`
	StopGraceSeconds int `mapstructure:"stop_grace_seconds"`
}

// Period returns the scheduler tick period.
func (s SchedulerConfig) Period() time.Duration {
	if s.PeriodSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.PeriodSeconds) * time.Second
}

// StopGrace returns how long Stop waits for an in-flight execution.
func (s SchedulerConfig) StopGrace() time.Duration {
	if s.StopGraceSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.StopGraceSeconds) * time.Second
}

// BrokerEndpoint holds one broker's wire endpoints.
type BrokerEndpoint struct {
	BaseURL       string `mapstructure:"base_url"`
	AuthPath      string `mapstructure:"auth_path"`
	OrderPath     string `mapstructure:"order_path"`
	PositionsPath string `mapstructure:"positions_path"`
	CandlesPath   string `mapstructure:"candles_path"`
	WSURL         string `mapstructure:"ws_url"`
}

// CryptoConfig holds the credential encryption key source.
type CryptoConfig struct {
	// Key is the base64-encoded 256-bit AES key. Normally supplied via
	// the TRADEGATE_CRYPTO_KEY environment variable, not the file.
	Key string `mapstructure:"key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/tradegate"
	}
	return filepath.Join(home, ".config", "tradegate")
}

// Load loads configuration from the specified directory. If configDir is
// empty, the default config directory is used. Missing files yield the
// built-in defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", false)
	v.SetDefault("store.path", filepath.Join(DefaultConfigDir(), "tradegate.db"))
	v.SetDefault("hub.subscriber_buffer", 100)
	v.SetDefault("hub.max_drops", 10)
	v.SetDefault("scheduler.period_seconds", 60)
	v.SetDefault("scheduler.stop_grace_seconds", 5)

	v.SetDefault("brokers.angelone.base_url", "https://apiconnect.angelbroking.com")
	v.SetDefault("brokers.angelone.auth_path", "/rest/auth/angelbroking/user/v1/loginByPassword")
	v.SetDefault("brokers.angelone.order_path", "/rest/secure/angelbroking/order/v1/placeOrder")
	v.SetDefault("brokers.angelone.positions_path", "/rest/secure/angelbroking/order/v1/getPosition")
	v.SetDefault("brokers.angelone.candles_path", "/rest/secure/angelbroking/historical/v1/getCandleData")
	v.SetDefault("brokers.angelone.ws_url", "wss://smartapisocket.angelone.in/smart-stream")

	v.SetDefault("brokers.dhan.base_url", "https://api.dhan.co")
	v.SetDefault("brokers.dhan.order_path", "/v2/orders")
	v.SetDefault("brokers.dhan.positions_path", "/v2/positions")
	v.SetDefault("brokers.dhan.candles_path", "/v2/charts/intraday")

	v.SetDefault("brokers.fyers.base_url", "https://api-t1.fyers.in")
	v.SetDefault("brokers.fyers.auth_path", "/api/v3/token")
	v.SetDefault("brokers.fyers.order_path", "/api/v3/orders/sync")
	v.SetDefault("brokers.fyers.positions_path", "/api/v3/positions")
	v.SetDefault("brokers.fyers.candles_path", "/data/history")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADEGATE_CRYPTO_KEY"); v != "" {
		cfg.Crypto.Key = v
	}
	if v := os.Getenv("TRADEGATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRADEGATE_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate validates the configuration. Failures wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(errors.ErrInvalidConfig, "invalid log level: %s", c.Log.Level)
	}

	if c.Hub.SubscriberBuffer < 1 {
		return errors.Wrap(errors.ErrInvalidConfig, "hub.subscriber_buffer must be positive")
	}
	if c.Hub.MaxDrops < 1 {
		return errors.Wrap(errors.ErrInvalidConfig, "hub.max_drops must be positive")
	}
	if c.Scheduler.PeriodSeconds < 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "scheduler.period_seconds must be non-negative")
	}

	for id, ep := range c.Brokers {
		if ep.BaseURL == "" {
			return errors.Wrapf(errors.ErrInvalidConfig, "broker %s: base_url is required", id)
		}
	}

	return nil
}

// Broker returns the endpoint block for a broker id, or an empty endpoint
// when the broker is not configured.
func (c *Config) Broker(id string) BrokerEndpoint {
	return c.Brokers[id]
}
