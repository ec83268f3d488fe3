package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kalambet/finchat/internal/config"
)

var version = "dev"

var (
	noColor    bool
	envFile    string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:           "finchat",
	Short:         "Chat with IKEA, Volvo and H&M financial reports",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDotEnv(envFile); err != nil {
			return err
		}
		if configFile != "" {
			os.Setenv(config.ConfigFileEnv, configFile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $XDG_CONFIG_HOME/finchat/config.toml)")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd, chatCmd, askCmd, historyCmd, mcpCmd, configCmd)
}

// loadDotEnv loads path, or ./.env when path is empty. Variables already set
// in the environment win. A missing default .env is not an error.
func loadDotEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}
		slog.Debug("no .env file found")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
