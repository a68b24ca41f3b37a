package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultPort is the IANA-assigned CoAP port.
	DefaultPort = 5683

	// DefaultAddress binds loopback only.
	DefaultAddress = "127.0.0.1"

	// DefaultHousekeepingInterval bounds how long the event loop sleeps.
	DefaultHousekeepingInterval = 2 * time.Second

	// DefaultMaxReadSize is the per-response read cap.
	DefaultMaxReadSize = 255

	// DefaultMaxWriteSize is the largest PUT payload accepted.
	DefaultMaxWriteSize = 1024

	// DefaultMaxDatagramSize follows RFC 7252 §4.6 (1024 bytes payload plus header room).
	DefaultMaxDatagramSize = 1152

	// RFC 7252 §4.8 transmission parameters.
	DefaultAckTimeout      = 2 * time.Second
	DefaultAckRandomFactor = 1.5
	DefaultMaxRetransmit   = 4

	DefaultMaxPeers     = 1024
	DefaultMaxObservers = 16

	// DefaultMetricsPort is the Prometheus scrape port.
	DefaultMetricsPort = 9090
)

// registerDefaults installs viper defaults for every key.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("server.address", DefaultAddress)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.housekeeping_interval", DefaultHousekeepingInterval)

	v.SetDefault("resources.root", "")
	v.SetDefault("resources.max_read_size", DefaultMaxReadSize)
	v.SetDefault("resources.max_write_size", DefaultMaxWriteSize)
	v.SetDefault("resources.content_format", 0)
	v.SetDefault("resources.exclude", []string{})
	v.SetDefault("resources.watch", false)

	v.SetDefault("transport.max_datagram_size", DefaultMaxDatagramSize)
	v.SetDefault("transport.ack_timeout", DefaultAckTimeout)
	v.SetDefault("transport.ack_random_factor", DefaultAckRandomFactor)
	v.SetDefault("transport.max_retransmit", DefaultMaxRetransmit)
	v.SetDefault("transport.rate_limit.requests_per_second", 0)
	v.SetDefault("transport.rate_limit.burst", 0)
	v.SetDefault("transport.rate_limit.max_peers", DefaultMaxPeers)

	v.SetDefault("observe.enabled", true)
	v.SetDefault("observe.confirmable", true)
	v.SetDefault("observe.max_observers", DefaultMaxObservers)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", DefaultMetricsPort)
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values that are never valid are replaced with defaults
//   - Explicit values are preserved
//   - Fields where zero is meaningful (max_retransmit, rate limit, booleans)
//     are left alone; their defaults come from registerDefaults
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyResourcesDefaults(&cfg.Resources)
	applyTransportDefaults(&cfg.Transport)
	applyObserveDefaults(&cfg.Observe)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.HousekeepingInterval == 0 {
		cfg.HousekeepingInterval = DefaultHousekeepingInterval
	}
}

func applyResourcesDefaults(cfg *ResourcesConfig) {
	if cfg.MaxReadSize == 0 {
		cfg.MaxReadSize = DefaultMaxReadSize
	}
	if cfg.MaxWriteSize == 0 {
		cfg.MaxWriteSize = DefaultMaxWriteSize
	}
	if cfg.Exclude == nil {
		cfg.Exclude = []string{}
	}
}

func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.MaxDatagramSize == 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.AckRandomFactor == 0 {
		cfg.AckRandomFactor = DefaultAckRandomFactor
	}
	if cfg.RateLimit.MaxPeers == 0 {
		cfg.RateLimit.MaxPeers = DefaultMaxPeers
	}
}

func applyObserveDefaults(cfg *ObserveConfig) {
	if cfg.MaxObservers == 0 {
		cfg.MaxObservers = DefaultMaxObservers
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// Root is left empty; it has no sensible default.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Transport: TransportConfig{
			MaxRetransmit: DefaultMaxRetransmit,
		},
		Observe: ObserveConfig{
			Enabled:     true,
			Confirmable: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
