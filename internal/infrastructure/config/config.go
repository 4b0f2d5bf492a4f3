package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for olarmd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	API         APIConfig         `yaml:"api"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Database    DatabaseConfig    `yaml:"database"`
	History     HistoryConfig     `yaml:"history"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CredentialsConfig contains the vendor account credentials used for login.
// These are only consulted when no valid stored session exists.
type CredentialsConfig struct {
	// UserEmailPhone is the account identifier (email address or phone number).
	UserEmailPhone string `yaml:"user_email_phone"`

	// UserPass is the account password.
	// Prefer the OLARMD_USER_PASS environment variable over the config file.
	UserPass string `yaml:"user_pass"`
}

// APIConfig contains vendor HTTP API settings.
type APIConfig struct {
	// AuthBaseURL is the base URL for the OAuth endpoints.
	AuthBaseURL string `yaml:"auth_base_url"`

	// APIBaseURL is the base URL for the user/device endpoints.
	APIBaseURL string `yaml:"api_base_url"`

	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// MQTTConfig contains vendor MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
// The vendor broker only accepts MQTT over TLS websockets.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// Delays are in seconds. InitialDelay is the minimum interval between
// connect attempts for a device; the delay doubles per failure up to MaxDelay.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite database settings for the session store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig contains InfluxDB settings for area state-history recording.
// Recording is optional; leave Enabled false to run without InfluxDB.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OLARMD_SECTION_KEY
// For example: OLARMD_DATABASE_PATH, OLARMD_USER_PASS
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Broker and API endpoints default to the production vendor cloud.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			AuthBaseURL: "https://auth.olarm.com",
			APIBaseURL:  "https://api-legacy.olarm.com/api/v2",
			Timeout:     15,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "mqtt-ws.olarm.com",
				Port: 443,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 5,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "data/olarmd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies OLARMD_* environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	// Credentials (never require secrets in the config file)
	if v := os.Getenv("OLARMD_USER_EMAIL_PHONE"); v != "" {
		cfg.Credentials.UserEmailPhone = v
	}
	if v := os.Getenv("OLARMD_USER_PASS"); v != "" {
		cfg.Credentials.UserPass = v
	}

	// Database
	if v := os.Getenv("OLARMD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("OLARMD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}

	// API
	if v := os.Getenv("OLARMD_AUTH_BASE_URL"); v != "" {
		cfg.API.AuthBaseURL = v
	}
	if v := os.Getenv("OLARMD_API_BASE_URL"); v != "" {
		cfg.API.APIBaseURL = v
	}

	// InfluxDB
	if v := os.Getenv("OLARMD_HISTORY_TOKEN"); v != "" {
		cfg.History.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Credentials validation
	if c.Credentials.UserEmailPhone == "" {
		errs = append(errs, "credentials.user_email_phone is required (set OLARMD_USER_EMAIL_PHONE)")
	}
	if c.Credentials.UserPass == "" {
		errs = append(errs, "credentials.user_pass is required (set OLARMD_USER_PASS)")
	}

	// API validation
	if c.API.AuthBaseURL == "" {
		errs = append(errs, "api.auth_base_url is required")
	}
	if c.API.APIBaseURL == "" {
		errs = append(errs, "api.api_base_url is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must be >= initial_delay")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// History validation (only when enabled)
	if c.History.Enabled {
		if c.History.URL == "" {
			errs = append(errs, "history.url is required when history is enabled")
		}
		if c.History.Token == "" {
			errs = append(errs, "history.token is required when history is enabled (set OLARMD_HISTORY_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetAPITimeout returns the HTTP request timeout as a Duration.
func (c *Config) GetAPITimeout() time.Duration {
	return time.Duration(c.API.Timeout) * time.Second
}

// GetReconnectInitialDelay returns the initial reconnect delay as a Duration.
func (c *Config) GetReconnectInitialDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.InitialDelay) * time.Second
}

// GetReconnectMaxDelay returns the maximum reconnect delay as a Duration.
func (c *Config) GetReconnectMaxDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.MaxDelay) * time.Second
}
