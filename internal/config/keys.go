package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
	kStrings
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func durationKey(key, env string, field func(cfg *Config) *time.Duration) keySpec {
	return keySpec{
		key: key, typ: kDuration, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(time.Duration) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

var specs = []keySpec{
	{
		key: "app.env", typ: kString, env: "APP_ENV",
		apply:   func(cfg *Config, v any) { cfg.Env = v.(string) },
		extract: func(cfg Config) any { return cfg.Env },
	},
	{
		key: "upstream.prod_url", typ: kString, env: "PROD_API_URL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.ProdURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.ProdURL },
	},
	{
		key: "upstream.prod_api_key", typ: kString, env: "PROD_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Upstream.ProdAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.ProdAPIKey },
	},
	{
		key: "upstream.dev_url", typ: kString, env: "DEV_API_URL",
		apply:   func(cfg *Config, v any) { cfg.Upstream.DevURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.DevURL },
	},
	{
		key: "upstream.dev_api_key", typ: kString, env: "DEV_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Upstream.DevAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Upstream.DevAPIKey },
	},
	durationKey("upstream.chat_timeout", "FINCHAT_UPSTREAM_CHAT_TIMEOUT",
		func(cfg *Config) *time.Duration { return &cfg.Upstream.ChatTimeout }),
	durationKey("upstream.health_timeout", "FINCHAT_UPSTREAM_HEALTH_TIMEOUT",
		func(cfg *Config) *time.Duration { return &cfg.Upstream.HealthTimeout }),
	{
		key: "server.host", typ: kString, env: "FINCHAT_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "FINCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.allowed_origins", typ: kStrings, env: "FINCHAT_ALLOWED_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.AllowedOrigins = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Server.AllowedOrigins, ",") },
	},
	durationKey("gateway.health_cache_ttl", "FINCHAT_HEALTH_CACHE_TTL",
		func(cfg *Config) *time.Duration { return &cfg.Gateway.HealthCacheTTL }),
	{
		key: "client.gateway_url", typ: kString, env: "FINCHAT_GATEWAY_URL",
		apply:   func(cfg *Config, v any) { cfg.Client.GatewayURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.GatewayURL },
	},
	{
		key: "client.max_retries", typ: kInt, env: "FINCHAT_CLIENT_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Client.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Client.MaxRetries },
	},
	durationKey("client.backoff_base", "FINCHAT_CLIENT_BACKOFF_BASE",
		func(cfg *Config) *time.Duration { return &cfg.Client.BackoffBase }),
	durationKey("client.request_timeout", "FINCHAT_CLIENT_REQUEST_TIMEOUT",
		func(cfg *Config) *time.Duration { return &cfg.Client.RequestTimeout }),
	durationKey("health.initial_delay", "FINCHAT_HEALTH_INITIAL_DELAY",
		func(cfg *Config) *time.Duration { return &cfg.Health.InitialDelay }),
	durationKey("health.interval", "FINCHAT_HEALTH_INTERVAL",
		func(cfg *Config) *time.Duration { return &cfg.Health.Interval }),
	durationKey("health.min_spacing", "FINCHAT_HEALTH_MIN_SPACING",
		func(cfg *Config) *time.Duration { return &cfg.Health.MinSpacing }),
	{
		key: "storage.data_dir", typ: kString, env: "FINCHAT_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "prompts.file", typ: kString, env: "FINCHAT_PROMPTS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Prompts.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Prompts.File },
	},
	{
		key: "log.level", typ: kString, env: "FINCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw to the Go type of s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kDuration:
		return time.ParseDuration(strings.TrimSpace(raw))
	case kStrings:
		return splitList(raw), nil
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kStrings {
			v, ok, err := b.GetStrings(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
