package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfigTemplate is the commented sample written by InitConfig.
// Values are filled in from GetDefaultConfig so the generated file and the
// in-process defaults cannot drift apart.
const sampleConfigTemplate = `# LAN Chat Server Configuration File
#
# Precedence: environment variables (LANCHAT_*) > this file > built-in defaults.
# Example override: LANCHAT_LOGGING_LEVEL=DEBUG

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: %s
  # Output format: text or json
  format: %s
  # Destination: stdout, stderr, or a file path
  output: %s

server:
  # Address the TCP chat listener binds to. Empty means all interfaces.
  bind_address: ""
  # TCP chat port
  port: %d
  # Maximum concurrent client connections
  max_connections: %d
  # Grace period for draining connections on shutdown
  shutdown_timeout: %s

discovery:
  # Answer DISCOVER probes on the LAN so clients can find this server
  enabled: %t
  # Multicast group the responder joins
  address: %s
  # UDP discovery port
  port: %d

storage:
  # Root directory for users, groups, and message history
  data_dir: %s

metrics:
  # Prometheus metrics, served on the API server at /metrics
  enabled: %t

api:
  # HTTP server for health probes, session listing, and /metrics
  enabled: %t
  port: %d
  read_timeout: %s
  write_timeout: %s
  idle_timeout: %s
`

func renderSampleConfig() []byte {
	cfg := GetDefaultConfig()
	return []byte(fmt.Sprintf(sampleConfigTemplate,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Server.Port,
		cfg.Server.MaxConnections,
		cfg.Server.ShutdownTimeout,
		cfg.Discovery.Enabled,
		cfg.Discovery.Address,
		cfg.Discovery.Port,
		cfg.Storage.DataDir,
		cfg.Metrics.Enabled,
		cfg.API.Enabled,
		cfg.API.Port,
		cfg.API.ReadTimeout,
		cfg.API.WriteTimeout,
		cfg.API.IdleTimeout,
	))
}

// InitConfig writes a commented sample configuration file to the default
// location and returns its path. Fails if the file already exists unless
// force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented sample configuration file to path.
// Fails if the file already exists unless force is set.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, renderSampleConfig(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
