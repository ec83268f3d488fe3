package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/finchat/internal/api"
	"github.com/kalambet/finchat/internal/config"
	"github.com/kalambet/finchat/internal/health"
	"github.com/kalambet/finchat/internal/proxy"
)

const shutdownTimeout = 5 * time.Second

var logFormat string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateway (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, newLogger(cfg.Log.Level, logFormat, os.Stderr))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			// Still show partial status even if config fails.
			printError("config error: %v", err)
			return nil
		}
		showStatus(cmd.Context(), cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch strings.ToLower(level) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn", "warning":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "finchat.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// newGatewayServer wires the upstream client, health cache and router for cfg.
func newGatewayServer(cfg config.Config, logger *slog.Logger) *http.Server {
	target := cfg.Target()
	if err := target.Validate(true); err != nil {
		logger.Warn("upstream backend not configured; chat requests will fail", "environment", target.Environment)
	}

	upstream := proxy.NewClient(target,
		proxy.WithChatTimeout(cfg.Upstream.ChatTimeout),
		proxy.WithHealthTimeout(cfg.Upstream.HealthTimeout),
	)
	handler := api.NewGatewayHandler(api.Deps{
		Upstream:       upstream,
		Cache:          api.NewHealthCache(cfg.Gateway.HealthCacheTTL),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	return &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting finchat gateway", "version", version, "environment", cfg.Target().Environment)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	gw := newGatewayClient(cfg)
	if err := gw.liveness(ctx); err == nil {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("finchat is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("finchat is already running at %s", gw.baseURL)
		return fmt.Errorf("server already running at %s", gw.baseURL)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	srv := newGatewayServer(cfg, logger)
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	}
	return serve(ctx, srv, ln, logger)
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("finchat is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop finchat (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to finchat (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context, w io.Writer, cfg config.Config) {
	gw := newGatewayClient(cfg)

	if err := gw.liveness(ctx); err != nil {
		printStatus(w, "Gateway", "stopped (%s)", gw.baseURL)
	} else {
		printStatus(w, "Gateway", "running at %s", gw.baseURL)
	}

	// One guarded probe, the same path the chat client uses.
	monitor, err := health.NewMonitor(gw.prober, health.Config{Interval: cfg.Health.Interval},
		health.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err == nil {
		monitor.Tick(ctx)
		printStatus(w, "Backend", "%s", monitor.State())
	}

	target := cfg.Target()
	printStatus(w, "Environment", "%s", target.Environment)
	printStatus(w, "Upstream URL", "%s", configuredLabel(target.BaseURL != ""))
	printStatus(w, "Upstream key", "%s", configuredLabel(target.APIKey != ""))
	printStatus(w, "Data dir", "%s", cfg.Storage.DataDir)
}

func configuredLabel(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
