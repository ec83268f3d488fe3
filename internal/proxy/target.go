package proxy

import (
	"fmt"
	"strings"
)

// Target is the upstream backend selected for the running environment.
type Target struct {
	Environment string
	BaseURL     string
	APIKey      string
}

// Validate reports a *ConfigError when the base URL is missing, or when
// requireKey is set and the API key is missing.
func (t Target) Validate(requireKey bool) error {
	if strings.TrimSpace(t.BaseURL) == "" {
		return &ConfigError{Environment: t.Environment, Setting: "API URL"}
	}
	if requireKey && strings.TrimSpace(t.APIKey) == "" {
		return &ConfigError{Environment: t.Environment, Setting: "API key"}
	}
	return nil
}

// ConfigError means the gateway cannot reach the backend because a setting
// is missing. It never carries the credential itself.
type ConfigError struct {
	Environment string
	Setting     string
}

func (e *ConfigError) Error() string {
	env := e.Environment
	if env == "" {
		env = "current"
	}
	return fmt.Sprintf("%s is not configured for %s environment", e.Setting, env)
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend responded with status: %d", e.StatusCode)
}
