package config

import (
	"os"
	"path/filepath"
)

const appName = "finchat"

// ConfigFileEnv overrides the config file location.
const ConfigFileEnv = "FINCHAT_CONFIG"

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return appName + "-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, appName)
}

// FilePath returns the config file location: $FINCHAT_CONFIG, else
// $XDG_CONFIG_HOME/finchat/config.toml.
func FilePath() string {
	if p := os.Getenv(ConfigFileEnv); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, appName, "config.toml")
}
