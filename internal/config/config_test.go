package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Backend.URL = "https://backend.example.com/query"
	cfg.Bridge.URL = "ws://localhost:8088/ws"
	return cfg
}

func TestDefault_Durations(t *testing.T) {
	cfg := Default()

	if got := cfg.DebounceWindow(); got != 15*time.Second {
		t.Errorf("debounce window = %v", got)
	}
	if got := cfg.SessionTTL(); got != time.Hour {
		t.Errorf("session ttl = %v", got)
	}
	if got := cfg.SweepInterval(); got != 15*time.Minute {
		t.Errorf("sweep interval = %v", got)
	}
	if got := cfg.ReconnectDelay(); got != 5*time.Second {
		t.Errorf("reconnect delay = %v", got)
	}
	if got := cfg.BackendTimeout(); got != 60*time.Second {
		t.Errorf("backend timeout = %v", got)
	}
}

func TestValidate_RequiresBackendURL(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing backend URL must be fatal")
	}
}

func TestValidate_RequiresBridgeURL(t *testing.T) {
	cfg := validConfig()
	cfg.Bridge.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing bridge URL must be fatal")
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Directory.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("postgres without DSN must be rejected")
	}
	cfg.Directory.PostgresDSN = "postgres://localhost/wabridge"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidate_SweepSchedule(t *testing.T) {
	cfg := validConfig()
	cfg.Sessions.SweepSchedule = "*/15 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.Sessions.SweepSchedule = "not a cron"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad cron expression must be rejected")
	}
}

func TestLoad_MissingFileUsesDefaultsPlusEnv(t *testing.T) {
	t.Setenv("WABRIDGE_BACKEND_URL", "https://env.example.com")
	t.Setenv("WABRIDGE_PORT", "4500")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.URL != "https://env.example.com" {
		t.Errorf("backend url = %q", cfg.Backend.URL)
	}
	if cfg.Gateway.Port != 4500 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestLoad_FileWithEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// json5: comments are fine
		backend: { url: "https://file.example.com" },
		bridge: { url: "ws://file:8088/ws" },
		debounce: { window_sec: 20 },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WABRIDGE_BACKEND_URL", "https://env.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.URL != "https://env.example.com" {
		t.Error("env must override the file")
	}
	if cfg.Bridge.URL != "ws://file:8088/ws" {
		t.Errorf("bridge url = %q", cfg.Bridge.URL)
	}
	if cfg.DebounceWindow() != 20*time.Second {
		t.Errorf("debounce window = %v", cfg.DebounceWindow())
	}
}

func TestLoad_DSNSelectsPostgres(t *testing.T) {
	t.Setenv("WABRIDGE_POSTGRES_DSN", "postgres://localhost/wabridge")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Directory.Backend != "postgres" {
		t.Errorf("backend = %q, want postgres auto-selected", cfg.Directory.Backend)
	}
}

func TestLoad_SecretsNeverFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		backend: { url: "https://x.example.com", AuthToken: "leaked" },
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.AuthToken != "" {
		t.Errorf("auth token read from file: %q", cfg.Backend.AuthToken)
	}
}
