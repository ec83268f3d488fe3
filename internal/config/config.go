package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/finchat/internal/proxy"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Env      string
	Upstream UpstreamConfig
	Server   ServerConfig
	Gateway  GatewayConfig
	Client   ClientConfig
	Health   HealthConfig
	Storage  StorageConfig
	Prompts  PromptsConfig
	Log      LogConfig
}

// UpstreamConfig holds both backend targets; Env picks one.
type UpstreamConfig struct {
	ProdURL       string
	ProdAPIKey    string
	DevURL        string
	DevAPIKey     string
	ChatTimeout   time.Duration
	HealthTimeout time.Duration
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type GatewayConfig struct {
	HealthCacheTTL time.Duration
}

type ClientConfig struct {
	GatewayURL     string
	MaxRetries     int
	BackoffBase    time.Duration
	RequestTimeout time.Duration
}

type HealthConfig struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MinSpacing   time.Duration
}

type StorageConfig struct {
	DataDir string
}

type PromptsConfig struct {
	File string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Env: EnvDevelopment,
		Upstream: UpstreamConfig{
			ChatTimeout:   120 * time.Second,
			HealthTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Gateway: GatewayConfig{
			HealthCacheTTL: 5 * time.Minute,
		},
		Client: ClientConfig{
			GatewayURL:     "http://127.0.0.1:3000",
			MaxRetries:     3,
			BackoffBase:    time.Second,
			RequestTimeout: 150 * time.Second,
		},
		Health: HealthConfig{
			InitialDelay: 5 * time.Second,
			Interval:     60 * time.Second,
			MinSpacing:   5 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load resolves configuration from defaults, the TOML config file at
// FilePath(), and environment variables, in increasing precedence.
//
// Backend URLs and keys are not required here: the gateway refuses chat
// requests while they are missing.
func Load() (Config, error) {
	return LoadFile(FilePath())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (Config, error) {
	b, err := newFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. Missing backend settings are not errors.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Client.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("client.max_retries must be at least 1, got %d", c.Client.MaxRetries))
	}
	if c.Health.Interval <= 0 {
		errs = append(errs, errors.New("health.interval must be positive"))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"upstream.chat_timeout", c.Upstream.ChatTimeout},
		{"upstream.health_timeout", c.Upstream.HealthTimeout},
		{"gateway.health_cache_ttl", c.Gateway.HealthCacheTTL},
		{"client.backoff_base", c.Client.BackoffBase},
		{"client.request_timeout", c.Client.RequestTimeout},
		{"health.initial_delay", c.Health.InitialDelay},
		{"health.min_spacing", c.Health.MinSpacing},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.key))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), EnvProduction)
}

// Target returns the backend for the active environment: PROD_* in
// production, DEV_* otherwise.
func (c Config) Target() proxy.Target {
	if c.IsProduction() {
		return proxy.Target{Environment: EnvProduction, BaseURL: c.Upstream.ProdURL, APIKey: c.Upstream.ProdAPIKey}
	}
	return proxy.Target{Environment: EnvDevelopment, BaseURL: c.Upstream.DevURL, APIKey: c.Upstream.DevAPIKey}
}

// ListenAddr is the gateway's bind address.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
