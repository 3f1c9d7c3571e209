// Package config provides configuration management for the bridge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Settings holds all engine configuration. It is built once at startup and
// passed into the engine by value; nothing mutates it afterwards.
type Settings struct {
	Connection    ConnectionConfig   `mapstructure:"connection"`
	Locates       LocateConfig       `mapstructure:"locates"`
	MarketData    MarketDataConfig   `mapstructure:"market_data"`
	Store         StoreConfig        `mapstructure:"store"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// ConnectionConfig holds transport and session parameters.
type ConnectionConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	UseTLS             bool          `mapstructure:"use_tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	WatchMode          bool          `mapstructure:"watch_mode"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnect_max_delay"`
	MaxReconnects      int           `mapstructure:"max_reconnects"`
}

// LocateConfig holds the short-locate guard thresholds.
type LocateConfig struct {
	MaxVolumePercent float64 `mapstructure:"max_volume_percent"` // fraction of daily volume, in percent
	MaxCostPercent   float64 `mapstructure:"max_cost_percent"`   // of position value
	MaxTotalCost     float64 `mapstructure:"max_total_cost"`     // absolute dollars
	BlockSize        int64   `mapstructure:"block_size"`
}

// MarketDataConfig bounds the in-memory tick history.
type MarketDataConfig struct {
	TimeSalesCap int `mapstructure:"time_sales_cap"`
	DepthCap     int `mapstructure:"depth_cap"`
}

// StoreConfig holds the journal database location.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Level   string        `mapstructure:"level"` // all, trades_only, errors_only
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// Credentials holds the terminal login credentials.
type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Account  string `mapstructure:"account"`
}

// DefaultSettings returns the defaults the terminal documents.
func DefaultSettings() Settings {
	return Settings{
		Connection: ConnectionConfig{
			Host:               "localhost",
			Port:               9910,
			CommandTimeout:     30 * time.Second,
			HeartbeatInterval:  30 * time.Second,
			ReconnectBaseDelay: 5 * time.Second,
			ReconnectMaxDelay:  60 * time.Second,
			MaxReconnects:      10,
		},
		Locates: LocateConfig{
			MaxVolumePercent: 1.0,
			MaxCostPercent:   1.5,
			MaxTotalCost:     2.50,
			BlockSize:        100,
		},
		MarketData: MarketDataConfig{
			TimeSalesCap: 1000,
			DepthCap:     200,
		},
		Store: StoreConfig{
			Enabled: false,
			Path:    filepath.Join(DefaultConfigDir(), "journal.db"),
		},
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/das-bridge"
	}
	return filepath.Join(home, ".config", "das-bridge")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Settings, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := DefaultSettings()

	if err := loadConfigFile(configDir, "config", &cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
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

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Settings) {
	if v := os.Getenv("DAS_HOST"); v != "" {
		cfg.Connection.Host = v
	}
	if v := os.Getenv("DAS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Connection.Port = port
		}
	}
	if v := os.Getenv("DAS_USERNAME"); v != "" {
		cfg.Credentials.Username = v
	}
	if v := os.Getenv("DAS_PASSWORD"); v != "" {
		cfg.Credentials.Password = v
	}
	if v := os.Getenv("DAS_ACCOUNT"); v != "" {
		cfg.Credentials.Account = v
	}
}

// Validate validates the configuration.
func (c *Settings) Validate() error {
	if c.Connection.Host == "" {
		return fmt.Errorf("connection host must not be empty")
	}
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Connection.Port)
	}
	if c.Connection.CommandTimeout <= 0 {
		return fmt.Errorf("command_timeout must be positive")
	}
	if c.Connection.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect_base_delay must be positive")
	}
	if c.Locates.MaxVolumePercent < 0 || c.Locates.MaxVolumePercent > 100 {
		return fmt.Errorf("max_volume_percent must be between 0 and 100")
	}
	if c.Locates.MaxCostPercent < 0 {
		return fmt.Errorf("max_cost_percent must be non-negative")
	}
	if c.Locates.BlockSize <= 0 {
		return fmt.Errorf("block_size must be positive")
	}
	if c.MarketData.TimeSalesCap <= 0 || c.MarketData.DepthCap <= 0 {
		return fmt.Errorf("market data history caps must be positive")
	}
	return nil
}

// Address returns the host:port dial target.
func (c *ConnectionConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
