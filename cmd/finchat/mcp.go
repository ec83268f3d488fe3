package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/finchat/internal/api"
	"github.com/kalambet/finchat/internal/chat"
	"github.com/kalambet/finchat/internal/config"
	"github.com/kalambet/finchat/internal/health"
	"github.com/kalambet/finchat/internal/prompts"
	"github.com/kalambet/finchat/internal/storage"
)

var mcpNoHistory bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the report assistant as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runMCP(ctx, cfg)
	},
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpNoHistory, "no-history", false, "do not store the MCP conversation")
}

func runMCP(ctx context.Context, cfg config.Config) error {
	// stdout carries the protocol; everything else goes to stderr.
	logger := newLogger(cfg.Log.Level, "text", os.Stderr)

	conv := chat.NewConversation(chat.Greeting())
	if !mcpNoHistory {
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()
		if err := store.CreateConversation(conv.ID(), ""); err != nil {
			return err
		}
		if err := store.SaveMessage(conv.ID(), 0, chat.Greeting()); err != nil {
			return err
		}
		recordHistory(store, conv, logger)
	}

	examples, err := prompts.Resolve(cfg.Prompts.File)
	if err != nil {
		logger.Warn("example questions unavailable, using built-in list", "error", err)
		examples = prompts.Defaults()
	}

	gw := newGatewayClient(cfg)
	// Probes only run when the server_status tool asks for one.
	monitor, err := health.NewMonitor(gw.prober, health.Config{
		Interval:   cfg.Health.Interval,
		MinSpacing: cfg.Health.MinSpacing,
	}, health.WithLogger(logger))
	if err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Pipeline:     newPipeline(cfg, conv, gw.sender, logger),
		Conversation: conv,
		Monitor:      monitor,
		Prompts:      examples,
		Version:      version,
	})

	logger.Info("MCP server started (stdio transport)", "conversation", conv.ID())
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
