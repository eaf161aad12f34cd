package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("WABRIDGE_BACKEND_URL", &c.Backend.URL)
	envStr("WABRIDGE_BACKEND_TOKEN", &c.Backend.AuthToken)
	envStr("WABRIDGE_BRIDGE_URL", &c.Bridge.URL)

	envStr("WABRIDGE_POSTGRES_DSN", &c.Directory.PostgresDSN)
	envStr("WABRIDGE_DIRECTORY_BACKEND", &c.Directory.Backend)
	envStr("WABRIDGE_SQLITE_PATH", &c.Directory.SQLitePath)
	envStr("WABRIDGE_REDIS_ADDR", &c.Directory.RedisAddr)
	envStr("WABRIDGE_REDIS_PASSWORD", &c.Directory.RedisPassword)

	envStr("WABRIDGE_HOST", &c.Gateway.Host)
	if v := os.Getenv("WABRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			c.Gateway.Port = port
		}
	}

	// Auto-select managed mode when a DSN is provided and the file kept the default.
	if c.Directory.PostgresDSN != "" && c.Directory.Backend == "sqlite" {
		c.Directory.Backend = "postgres"
	}

	envStr("WABRIDGE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("WABRIDGE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("WABRIDGE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
