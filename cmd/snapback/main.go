// Command snapback runs the code-safety MCP server, either on stdio
// (default) or as an HTTP+SSE service with --listen.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapback-dev/snapback-go/internal/analyzer"
	"github.com/snapback-dev/snapback-go/internal/auth"
	"github.com/snapback-dev/snapback-go/internal/config"
	"github.com/snapback-dev/snapback-go/internal/docs"
	"github.com/snapback-dev/snapback-go/internal/httpapi"
	"github.com/snapback-dev/snapback-go/internal/logs"
	"github.com/snapback-dev/snapback-go/internal/perf"
	"github.com/snapback-dev/snapback-go/internal/resilience"
	"github.com/snapback-dev/snapback-go/internal/router"
	"github.com/snapback-dev/snapback-go/internal/sanitize"
	"github.com/snapback-dev/snapback-go/internal/security"
	"github.com/snapback-dev/snapback-go/internal/server"
	"github.com/snapback-dev/snapback-go/internal/storage"
	"github.com/snapback-dev/snapback-go/internal/telemetry"
	"github.com/snapback-dev/snapback-go/internal/tools"
	"github.com/snapback-dev/snapback-go/internal/upstream"
)

// Exit codes.
const (
	exitOK        = 0
	exitConfig    = 1
	exitTransport = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		listen     string
		mode       string
	)

	exitCode := exitOK
	rootCmd := &cobra.Command{
		Use:          "snapback",
		Short:        "Code-safety coprocessor speaking the Model Context Protocol",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := serve(configPath, listen, mode)
			exitCode = code
			return err
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (JSON)")
	rootCmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (e.g. :8080); empty = stdio transport")
	rootCmd.Flags().StringVar(&mode, "mode", "", "development or production (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		if exitCode == exitOK {
			exitCode = exitConfig
		}
		fmt.Fprintln(os.Stderr, "snapback:", err)
	}
	return exitCode
}

// prober aggregates dependency health for /health.
type prober struct {
	db      *storage.DB
	backend *upstream.AnalyzeClient
	flags   *config.FlagStore
}

func (p prober) Probes() map[string]string {
	probes := map[string]string{"database": "ok", "feature_flags": "ok"}
	if err := p.db.Ping(); err != nil {
		probes["database"] = "unavailable"
	}
	if p.backend != nil {
		probes["upstream_breaker"] = p.backend.State()
	}
	if loaded := p.flags.Snapshot().LoadedAt(); !loaded.IsZero() {
		probes["feature_flags_loaded_at"] = loaded.UTC().Format(time.RFC3339)
	}
	return probes
}

func serve(configPath, listen, mode string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitConfig, err
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return exitConfig, err
	}

	logger, err := logs.Setup(cfg.Logging)
	if err != nil {
		return exitConfig, err
	}
	defer func() { _ = logger.Sync() }()

	dataDir, err := cfg.DataDir()
	if err != nil {
		return exitConfig, err
	}

	sink := telemetry.NewSink(logger)
	defer sink.Close()

	db, err := storage.Open(dataDir, logger)
	if err != nil {
		return exitConfig, err
	}
	defer db.Close()

	validator := security.NewValidator(sink)
	snapshots := storage.NewSnapshotStore(db, validator, logger)

	vulnDB, err := analyzer.LoadVulnDB(cfg.VulnDBPath)
	if err != nil {
		return exitConfig, err
	}

	var backend *upstream.AnalyzeClient
	var routerBackend router.Backend
	if cfg.UpstreamBaseURL != "" {
		pipeline := resilience.NewPipeline("upstream-analyze", resilience.Options{}, logger)
		backend = upstream.NewAnalyzeClient(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, pipeline, logger)
		routerBackend = backend
	}

	flags := config.NewFlagStore(filepath.Join(dataDir, "flags.json"), logger)
	defer flags.Close()

	var verifier auth.Verifier
	if cfg.UpstreamBaseURL != "" {
		verifier = auth.NewHTTPVerifier(cfg.UpstreamBaseURL)
	} else {
		verifier = rejectAllVerifier{}
	}

	docsProxy := docs.NewProxy(cfg.DocsBaseURL, cfg.DocsAPIKey,
		storage.NewDocCache(db, logger), cfg.SearchCacheTTL, cfg.DocsCacheTTL, logger)
	defer docsProxy.Close()

	registry, err := tools.NewRegistry(nil)
	if err != nil {
		return exitConfig, err
	}

	srv := server.New(server.Deps{
		Config:    cfg,
		Registry:  registry,
		Resolver:  auth.NewResolver(verifier, logger, sink),
		Router:    router.New(analyzer.DefaultFacade(vulnDB), routerBackend, flags, logger, sink),
		Snapshots: snapshots,
		Docs:      docsProxy,
		VulnDB:    vulnDB,
		Validator: validator,
		Sanitizer: sanitize.New(sanitize.Mode(cfg.Mode), logger),
		Perf:      perf.NewTracker(cfg.PerfBudgetsMS, logger, sink),
		Sink:      sink,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Listen == "" {
		logger.Info("starting stdio transport")
		if err := mcpserver.ServeStdio(srv.MCPServer()); err != nil && !errors.Is(err, context.Canceled) {
			return exitTransport, fmt.Errorf("stdio transport: %w", err)
		}
		return exitOK, nil
	}

	handler := httpapi.NewRouter(httpapi.Options{
		Config: cfg,
		MCP:    srv.MCPServer(),
		Prober: prober{db: db, backend: backend, flags: flags},
		Logger: logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP transport", zap.String("listen", cfg.Listen))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitTransport, fmt.Errorf("http transport: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forced shutdown", zap.Error(err))
		}
	}
	logger.Info("snapback stopped")
	return exitOK, nil
}

// rejectAllVerifier is used when no identity endpoint is configured; every
// key is invalid and callers degrade to the free tier.
type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(context.Context, string) (*auth.Verification, error) {
	return &auth.Verification{Valid: false}, nil
}
