package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false) are replaced with defaults; explicit values are
// preserved. Called after loading configuration from file and environment.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDiscoveryDefaults(&cfg.Discovery)
	applyStorageDefaults(&cfg.Storage)
	applyAPIDefaults(&cfg.API)
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

// applyServerDefaults sets TCP chat listener defaults.
func applyServerDefaults(cfg *ServerConfig) {
	// BindAddress has no default; empty means all interfaces
	if cfg.Port == 0 {
		cfg.Port = 6000
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 256
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDiscoveryDefaults sets multicast discovery defaults.
func applyDiscoveryDefaults(cfg *DiscoveryConfig) {
	// Enabled defaults to false at the zero value; GetDefaultConfig turns
	// it on for generated configs.
	if cfg.Address == "" {
		cfg.Address = "239.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
}

// applyStorageDefaults sets data directory defaults.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/lanchat"
	}
}

// applyAPIDefaults sets HTTP API server defaults.
func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for generating sample configuration files, testing, and
// running without a config file.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Discovery: DiscoveryConfig{Enabled: true},
		API:       APIConfig{Enabled: true},
	}

	ApplyDefaults(cfg)
	return cfg
}
