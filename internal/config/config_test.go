package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

// TestDefaults verifies that a missing config file yields defaults and no
// error, even without backend URLs or keys.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Env != EnvDevelopment {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Client.MaxRetries != 3 {
		t.Errorf("Client.MaxRetries = %d, want 3", cfg.Client.MaxRetries)
	}
	if cfg.Gateway.HealthCacheTTL != 5*time.Minute {
		t.Errorf("HealthCacheTTL = %v, want 5m", cfg.Gateway.HealthCacheTTL)
	}
	if cfg.Health.InitialDelay != 5*time.Second || cfg.Health.Interval != time.Minute || cfg.Health.MinSpacing != 5*time.Second {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if cfg.Target().BaseURL != "" {
		t.Errorf("Target().BaseURL = %q, want empty", cfg.Target().BaseURL)
	}
}

// TestTOMLParsing verifies that fields are read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
[app]
env = "production"

[upstream]
prod_url = "https://reports.example.com"
prod_api_key = "ignored-in-file"
chat_timeout = "90s"

[server]
port = 8080
allowed_origins = ["https://chat.example.com", "http://localhost:3000"]

[client]
max_retries = 5

[health]
interval = "30s"

[storage]
data_dir = "/tmp/finchat-test"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.IsProduction() {
		t.Errorf("Env = %q, want production", cfg.Env)
	}
	if cfg.Upstream.ProdURL != "https://reports.example.com" {
		t.Errorf("ProdURL = %q", cfg.Upstream.ProdURL)
	}
	if cfg.Upstream.ProdAPIKey != "" {
		t.Errorf("secret read from file: %q", cfg.Upstream.ProdAPIKey)
	}
	if cfg.Upstream.ChatTimeout != 90*time.Second {
		t.Errorf("ChatTimeout = %v", cfg.Upstream.ChatTimeout)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	want := []string{"https://chat.example.com", "http://localhost:3000"}
	if !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	if cfg.Client.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.Client.MaxRetries)
	}
	if cfg.Health.Interval != 30*time.Second {
		t.Errorf("Health.Interval = %v", cfg.Health.Interval)
	}
	if cfg.Storage.DataDir != "/tmp/finchat-test" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
}

// TestEnvOverride verifies environment variables beat the config file.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "[server]\nport = 8080\n")

	t.Setenv("FINCHAT_SERVER_PORT", "9090")
	t.Setenv("FINCHAT_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DEV_API_URL", "http://localhost:8000")
	t.Setenv("DEV_API_KEY", "dev-secret")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}

	target := cfg.Target()
	if target.Environment != EnvDevelopment || target.BaseURL != "http://localhost:8000" || target.APIKey != "dev-secret" {
		t.Errorf("Target() = %+v", target)
	}
}

// TestEnvironmentSelection verifies APP_ENV picks the production or
// development pair.
func TestEnvironmentSelection(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROD_API_URL", "https://prod")
	t.Setenv("PROD_API_KEY", "prod-key")
	t.Setenv("DEV_API_URL", "http://dev")
	t.Setenv("DEV_API_KEY", "dev-key")

	for env, wantURL := range map[string]string{
		"production":  "https://prod",
		"Production":  "https://prod",
		"development": "http://dev",
		"staging":     "http://dev",
	} {
		t.Setenv("APP_ENV", env)
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "none.toml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := cfg.Target().BaseURL; got != wantURL {
			t.Errorf("APP_ENV=%s: BaseURL = %q, want %q", env, got, wantURL)
		}
	}
}

// TestInvalidValuesKeepDefaults mirrors the warn-and-default behavior for
// unparsable values.
func TestInvalidValuesKeepDefaults(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "[health]\ninterval = \"soon\"\n")
	t.Setenv("FINCHAT_SERVER_PORT", "not-a-number")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want default 3000", cfg.Server.Port)
	}
	if cfg.Health.Interval != time.Minute {
		t.Errorf("Health.Interval = %v, want default 1m", cfg.Health.Interval)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("FINCHAT_CLIENT_MAX_RETRIES", "0")

	_, err := LoadFile(filepath.Join(t.TempDir(), "none.toml"))
	if err == nil || !strings.Contains(err.Error(), "client.max_retries") {
		t.Fatalf("err = %v, want max_retries validation error", err)
	}
}

func TestMalformedFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "[server\nport = ")

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	t.Setenv(ConfigFileEnv, path)

	if err := SetKey("server.port", "4100"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("health.interval", "2m"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := SetKey("upstream.prod_api_key", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := SetKey("no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Health.Interval != 2*time.Minute {
		t.Errorf("Health.Interval = %v, want 2m", cfg.Health.Interval)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Upstream.ProdAPIKey = "very-secret"

	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "very-secret") {
			t.Errorf("%s leaks secret", ki.Key)
		}
		if ki.Key == "upstream.prod_api_key" && ki.Value != "(set)" {
			t.Errorf("prod key value = %q, want (set)", ki.Value)
		}
		if ki.Key == "upstream.dev_api_key" && ki.Value != "(unset)" {
			t.Errorf("dev key value = %q, want (unset)", ki.Value)
		}
	}
}

func TestValidKeysExcludeSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if strings.HasSuffix(k, "api_key") {
			t.Errorf("ValidKeys contains secret %q", k)
		}
	}
}
