package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete coapfs configuration.
//
// This structure captures all configurable aspects of the server:
//   - Logging configuration
//   - Endpoint settings (address, port, housekeeping interval)
//   - The served directory and per-request limits
//   - CoAP transmission parameters and rate limiting
//   - Observe (RFC 7641) behavior
//   - Prometheus metrics exposure
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority, passed to Load as overrides)
//  2. Environment variables (COAPFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains endpoint and event loop settings
	Server ServerConfig `mapstructure:"server"`

	// Resources describes the served directory tree
	Resources ResourcesConfig `mapstructure:"resources"`

	// Transport contains CoAP message-layer parameters
	Transport TransportConfig `mapstructure:"transport"`

	// Observe controls resource observation
	Observe ObserveConfig `mapstructure:"observe"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains endpoint and event loop settings.
type ServerConfig struct {
	// Address is the numeric IP address to bind (IPv4 or IPv6)
	Address string `mapstructure:"address" validate:"required,ip"`

	// Port is the UDP port to bind
	Port int `mapstructure:"port" validate:"gte=1,lte=65535"`

	// HousekeepingInterval is the longest the event loop sleeps when no
	// retransmission is due
	HousekeepingInterval time.Duration `mapstructure:"housekeeping_interval" validate:"gt=0"`
}

// ResourcesConfig describes the served directory tree.
type ResourcesConfig struct {
	// Root is the absolute path of the directory to serve
	Root string `mapstructure:"root" validate:"required"`

	// MaxReadSize caps the bytes returned by a single GET
	MaxReadSize int `mapstructure:"max_read_size" validate:"gte=1"`

	// MaxWriteSize caps the payload accepted by a single PUT
	MaxWriteSize int `mapstructure:"max_write_size" validate:"gte=1"`

	// ContentFormat is the CoAP Content-Format advertised for every resource
	// (0 = text/plain)
	ContentFormat uint16 `mapstructure:"content_format"`

	// Exclude lists glob patterns of relative paths left out of the namespace
	Exclude []string `mapstructure:"exclude"`

	// Watch notifies observers of changes made to files outside the server
	Watch bool `mapstructure:"watch"`
}

// TransportConfig contains CoAP message-layer parameters (RFC 7252 §4.8).
type TransportConfig struct {
	// MaxDatagramSize is the receive buffer size and largest datagram sent
	MaxDatagramSize int `mapstructure:"max_datagram_size" validate:"gte=64,lte=65507"`

	// AckTimeout is the initial retransmission timeout
	AckTimeout time.Duration `mapstructure:"ack_timeout" validate:"gt=0"`

	// AckRandomFactor widens the initial timeout randomly
	AckRandomFactor float64 `mapstructure:"ack_random_factor" validate:"gte=1"`

	// MaxRetransmit is the number of retransmissions before giving up
	MaxRetransmit int `mapstructure:"max_retransmit" validate:"gte=0,lte=16"`

	// RateLimit bounds requests per peer
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures the per-peer token bucket.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per peer (0 = unlimited)
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the bucket size (0 = same as RequestsPerSecond)
	Burst uint `mapstructure:"burst"`

	// MaxPeers bounds the number of tracked peers
	MaxPeers int `mapstructure:"max_peers" validate:"gte=0"`
}

// ObserveConfig controls resource observation.
type ObserveConfig struct {
	// Enabled allows clients to register observations with GET + Observe
	Enabled bool `mapstructure:"enabled"`

	// Confirmable sends notifications as CON messages (retransmitted until
	// acknowledged) instead of NON
	Confirmable bool `mapstructure:"confirmable"`

	// MaxObservers bounds observers per resource
	MaxObservers int `mapstructure:"max_observers" validate:"gte=0"`
}

// MetricsConfig controls Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns on collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port serving /metrics
	Port int `mapstructure:"port" validate:"gte=1,lte=65535"`
}

// Load loads configuration from file, environment, overrides and defaults.
//
// Configuration precedence (highest to lowest):
//  1. overrides (keys in dotted viper form, e.g. "server.port")
//  2. Environment variables (COAPFS_*)
//  3. Configuration file
//  4. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//   - overrides: Values set from the command line, may be nil
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string, overrides map[string]any) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use COAPFS_ prefix and underscores
	// Example: COAPFS_SERVER_PORT=5684
	v.SetEnvPrefix("COAPFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key gets a default so that Unmarshal sees environment values
	// for keys that are absent from the config file.
	registerDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/coapfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "coapfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "coapfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
