// Package config holds the root configuration for the WABridge server:
// JSON5 file + environment overlay, with secrets from env only.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/adhocore/gronx"
)

// Config is the root configuration for the bridge.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Bridge    BridgeConfig    `json:"bridge"`
	Backend   BackendConfig   `json:"backend"`
	Directory DirectoryConfig `json:"directory"`
	Tenants   TenantsConfig   `json:"tenants"`
	Debounce  DebounceConfig  `json:"debounce"`
	Sessions  SessionsConfig  `json:"sessions"`
	Replies   RepliesConfig   `json:"replies"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig configures the dashboard-facing WebSocket server.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// RateLimitRPM > 0 enables per-client request rate limiting.
	RateLimitRPM int `json:"rate_limit_rpm"`
}

// BridgeConfig configures the connection to the WhatsApp bridge process.
// The bridge speaks the whatsapp-web.js protocol; we talk JSON over WS to it.
type BridgeConfig struct {
	// URL is the WebSocket endpoint of the bridge. The tenant id is appended
	// as a query parameter so the bridge scopes the device session.
	URL                 string `json:"url"`
	HandshakeTimeoutSec int    `json:"handshake_timeout_sec,omitempty"`
}

// BackendConfig configures the conversational backend HTTP collaborator.
// AuthToken is never read from the config file, only from env WABRIDGE_BACKEND_TOKEN.
type BackendConfig struct {
	URL        string `json:"url"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
	AuthToken  string `json:"-"`
}

// DirectoryConfig selects the tenant directory backend.
// PostgresDSN comes from env WABRIDGE_POSTGRES_DSN only.
type DirectoryConfig struct {
	Backend     string `json:"backend"` // "postgres" (managed), "sqlite" (standalone), "memory"
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`

	// RedisAddr enables a read-through cache in front of the directory.
	RedisAddr        string `json:"redis_addr,omitempty"`
	RedisPassword    string `json:"-"` // env WABRIDGE_REDIS_PASSWORD only
	RedisCacheTTLSec int    `json:"redis_cache_ttl_sec,omitempty"`
}

// TenantsConfig bounds the per-tenant connection state machine.
type TenantsConfig struct {
	MaxQRIssues          int `json:"max_qr_issues"`
	ReconnectMaxAttempts int `json:"reconnect_max_attempts"`
	ReconnectDelaySec    int `json:"reconnect_delay_sec"`
}

// DebounceConfig sets the quiet period that coalesces message bursts into one turn.
type DebounceConfig struct {
	WindowSec int `json:"window_sec"`
}

// SessionsConfig controls conversation session TTL and sweep cadence.
// SweepSchedule, when set, is a cron expression that overrides SweepIntervalMin.
type SessionsConfig struct {
	TTLMin           int    `json:"ttl_min"`
	SweepIntervalMin int    `json:"sweep_interval_min"`
	SweepSchedule    string `json:"sweep_schedule,omitempty"`
}

// RepliesConfig holds the fixed texts sent outside the normal backend path.
type RepliesConfig struct {
	Fallback          string `json:"fallback"`
	Apology           string `json:"apology"`
	MultimediaWarning string `json:"multimedia_warning"`
	Greeting          string `json:"greeting"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults. Reply texts match the
// production deployment this bridge was built for.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         3001,
			RateLimitRPM: 60,
		},
		Bridge: BridgeConfig{
			HandshakeTimeoutSec: 10,
		},
		Backend: BackendConfig{
			TimeoutSec: 60,
		},
		Directory: DirectoryConfig{
			Backend:          "sqlite",
			SQLitePath:       "~/.wabridge/directory.db",
			RedisCacheTTLSec: 30,
		},
		Tenants: TenantsConfig{
			MaxQRIssues:          5,
			ReconnectMaxAttempts: 10,
			ReconnectDelaySec:    5,
		},
		Debounce: DebounceConfig{
			WindowSec: 15,
		},
		Sessions: SessionsConfig{
			TTLMin:           60,
			SweepIntervalMin: 15,
		},
		Replies: RepliesConfig{
			Fallback:          "lo siento no he entendido,por favor explicate mejor.",
			Apology:           "Mi dispiace, c'è stato un errore nell'elaborazione del tuo messaggio. Potresti riprovare?",
			MultimediaWarning: "Por favor, no envíes audios ni archivos multimedia. Solo puedo responder a mensajes de texto.",
			Greeting:          "👋 ¡Hola! Soy el asistente de WhatsApp. Mi número es %s.",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "wabridge",
		},
	}
}

// Validate checks the parts of the config that must be right before the
// bridge accepts any traffic. A missing backend URL is fatal: routing must
// never be attempted against an invalid endpoint.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend.url is required (or set WABRIDGE_BACKEND_URL)")
	}
	if _, err := url.ParseRequestURI(c.Backend.URL); err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if c.Bridge.URL == "" {
		return errors.New("bridge.url is required (WebSocket endpoint of the WhatsApp bridge)")
	}
	switch c.Directory.Backend {
	case "postgres":
		if c.Directory.PostgresDSN == "" {
			return errors.New("directory.backend=postgres requires WABRIDGE_POSTGRES_DSN")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("directory.backend: unknown backend %q", c.Directory.Backend)
	}
	if c.Sessions.SweepSchedule != "" {
		gron := gronx.New()
		if !gron.IsValid(c.Sessions.SweepSchedule) {
			return fmt.Errorf("sessions.sweep_schedule: invalid cron expression %q", c.Sessions.SweepSchedule)
		}
	}
	return nil
}

// BackendTimeout returns the bounded timeout for backend calls.
func (c *Config) BackendTimeout() time.Duration {
	if c.Backend.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSec) * time.Second
}

// DebounceWindow returns the quiet period for the message buffer.
func (c *Config) DebounceWindow() time.Duration {
	if c.Debounce.WindowSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Debounce.WindowSec) * time.Second
}

// SessionTTL returns the idle TTL for conversation sessions.
func (c *Config) SessionTTL() time.Duration {
	if c.Sessions.TTLMin <= 0 {
		return time.Hour
	}
	return time.Duration(c.Sessions.TTLMin) * time.Minute
}

// SweepInterval returns the cadence of the session sweeper.
func (c *Config) SweepInterval() time.Duration {
	if c.Sessions.SweepIntervalMin <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Sessions.SweepIntervalMin) * time.Minute
}

// ReconnectDelay returns the fixed backoff before a reconnection attempt.
func (c *Config) ReconnectDelay() time.Duration {
	if c.Tenants.ReconnectDelaySec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Tenants.ReconnectDelaySec) * time.Second
}
