package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/internal/adapter/inbound/http"
	"github.com/toolbridge/toolbridge/internal/adapter/outbound/cel"
	"github.com/toolbridge/toolbridge/internal/adapter/outbound/store"
	"github.com/toolbridge/toolbridge/internal/adapter/outbound/upstream"
	"github.com/toolbridge/toolbridge/internal/config"
	"github.com/toolbridge/toolbridge/internal/domain/auth"
	"github.com/toolbridge/toolbridge/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the ToolBridge server.

The server exposes every configured tool server under /api/mcp/{slug}
with its OAuth surface under /api/oauth/{slug}/, plus /healthz and
/metrics for operations.

Examples:
  # Start with config file settings
  toolbridge serve

  # Start with a specific config file
  toolbridge --config /path/to/config.yaml serve

  # Start in dev mode (in-memory store, generated secrets)
  toolbridge serve --dev`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, in-memory store, generated secrets)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Signal context for graceful shutdown. stop() restores default signal
	// handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	if cfg.DevMode {
		logger.Warn("dev mode enabled; secrets are generated and the store may be in-memory")
	}
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("toolbridge stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := store.New(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	elevated := st.Elevated()

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("creating expression evaluator: %w", err)
	}

	invoker := upstream.NewInvoker(logger, upstream.WithTimeout(cfg.UpstreamTimeout()))

	registry := prometheus.NewRegistry()
	stats := service.NewStatsService(elevated, registry, logger,
		service.WithEventBuffer(cfg.Usage.BufferSize))
	defer stats.Close()

	gate := auth.NewGate(elevated)
	tokens := service.NewTokenService([]byte(cfg.Auth.SigningSecret), elevated, logger)
	authorize := service.NewAuthorizeService(elevated, gate, tokens, logger)
	dispatcher := service.NewDispatchService(elevated, evaluator, invoker, stats, logger)

	mcpHandler := http.NewMCPHandler(elevated, gate, tokens, dispatcher, cfg.Server.BaseURL, logger)
	oauthHandler := http.NewOAuthHandler(elevated, elevated, authorize, cfg.Server.BaseURL,
		[]byte(cfg.Auth.LoginSecret), logger)
	healthChecker := http.NewHealthChecker(st, stats, Version)

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithRegistry(registry),
		http.WithHealthChecker(healthChecker),
	}
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}

	server := http.NewServer(mcpHandler, oauthHandler, opts...)
	return server.Start(ctx)
}

// parseLogLevel converts a config log level string to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
