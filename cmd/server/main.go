package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/hubspot-mcp/internal/api"
	"github.com/developer-mesh/hubspot-mcp/internal/auth"
	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/internal/config"
	"github.com/developer-mesh/hubspot-mcp/internal/embedding"
	"github.com/developer-mesh/hubspot-mcp/internal/hubspot"
	"github.com/developer-mesh/hubspot-mcp/internal/mcp"
	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	"github.com/developer-mesh/hubspot-mcp/internal/middleware"
	"github.com/developer-mesh/hubspot-mcp/internal/tools"
	"github.com/developer-mesh/hubspot-mcp/internal/tracing"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

// Overridden at build time via -ldflags.
var (
	version = "1.0.0"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		transport   = flag.String("transport", "", "Transport: stdio or sse (overrides config)")
		port        = flag.Int("port", 0, "SSE listen port (overrides config)")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("HubSpot MCP v%s (commit: %s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubspot-mcp: %v\n", err)
		return 2
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "hubspot-mcp: %v\n", err)
		return 2
	}

	logger := buildLogger(cfg)

	m := metrics.New()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.TracingEnabled
	tracingCfg.ServiceVersion = version
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tracingCfg.ZipkinEndpoint = cfg.ZipkinEndpoint
	tracer, err := tracing.New(tracingCfg)
	if err != nil {
		logger.Warn("Could not initialize tracing, continuing without it", map[string]interface{}{
			"error": err.Error(),
		})
		tracer = nil
	}

	crm, err := hubspot.NewClient(hubspot.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.CRMTimeout(),
	}, logger, m)
	if err != nil {
		return fail(logger, "CRM client initialization failed", err)
	}

	store, err := cache.New(cfg.CacheCapacity, cfg.CacheTTL(), logger, m)
	if err != nil {
		return fail(logger, "Cache initialization failed", err)
	}

	var embedder embedding.Embedder
	switch {
	case cfg.EmbeddingsEnabled && cfg.EmbeddingAPIURL != "":
		embedder = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			Endpoint: cfg.EmbeddingAPIURL,
			APIKey:   cfg.EmbeddingAPIKey,
			Model:    cfg.EmbeddingModel,
		}, logger)
	case cfg.EmbeddingsEnabled:
		logger.Warn("embeddings_enabled is set but no embedding endpoint is configured; semantic tools stay disabled", nil)
	}
	manager := embedding.NewManager(crm, embedder, embedding.ManagerConfig{
		Enabled: cfg.EmbeddingsEnabled,
	}, logger, m)

	registry := tools.NewRegistry(logger, m)
	providers := []tools.Provider{
		tools.NewContactsTool(crm, store, logger),
		tools.NewCompaniesTool(crm, store, logger),
		tools.NewDealsTool(crm, store, logger),
		tools.NewEngagementsTool(crm, store, logger),
		tools.NewSemanticTool(crm, manager, logger),
		tools.NewAdminTool(crm, store, manager, logger),
	}
	for _, p := range providers {
		if err := registry.RegisterProvider(p); err != nil {
			return fail(logger, "Tool registration failed", err)
		}
	}

	dispatcher := mcp.NewDispatcher(registry, cfg.ToolTimeout(), logger, m)

	logger.Info("HubSpot MCP server starting", map[string]interface{}{
		"version":    version,
		"transport":  cfg.Transport,
		"tools":      registry.Count(),
		"auth":       cfg.AuthEnabled(),
		"embeddings": manager.Enabled(),
		"cache_ttl":  cfg.CacheTTL().String(),
	})

	if cfg.Transport == config.TransportStdio {
		return runStdio(dispatcher, logger, tracer)
	}
	return runSSE(cfg, *configFile, dispatcher, manager, store, logger, m, tracer)
}

// runStdio serves JSON-RPC over stdin/stdout until EOF or a signal.
func runStdio(dispatcher *mcp.Dispatcher, logger observability.Logger, tracer *tracing.Provider) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := mcp.NewStdioServer(dispatcher, os.Stdin, os.Stdout, logger).Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if terr := tracer.Shutdown(flushCtx); terr != nil {
		logger.Warn("Tracer shutdown error", map[string]interface{}{"error": terr.Error()})
	}

	if err != nil {
		logger.Error("Stdio transport failed", map[string]interface{}{"error": err.Error()})
		return 1
	}
	return 0
}

// runSSE serves the HTTP+SSE transport with hot-reloaded auth settings.
func runSSE(cfg *config.Config, configFile string, dispatcher *mcp.Dispatcher, manager *embedding.Manager, store *cache.Cache, logger observability.Logger, m *metrics.Metrics, tracer *tracing.Provider) int {
	gin.SetMode(gin.ReleaseMode)

	authMW := auth.NewMiddleware(authSettings(cfg), logger)

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		}, authMW.ClientKey, logger, m)
	}

	srv := api.NewServer(api.Config{
		Addr:    cfg.ListenAddr(),
		Version: version,
	}, api.Deps{
		Dispatcher: dispatcher,
		Manager:    manager,
		Cache:      store,
		Auth:       authMW,
		Limiter:    limiter,
		Logger:     logger,
		Metrics:    m,
	})

	var watcher *config.Watcher
	if configFile != "" {
		w, err := config.NewWatcher(configFile, cfg, logger)
		if err != nil {
			logger.Warn("Config watcher unavailable, auth settings are fixed for this run", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			w.RegisterCallback(func(oldCfg, newCfg *config.Config) error {
				authMW.Update(authSettings(newCfg))
				return nil
			})
			w.Start()
			watcher = w
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	exit := 0
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP transport failed", map[string]interface{}{"error": err.Error()})
			exit = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", map[string]interface{}{"error": err.Error()})
		exit = 1
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("Config watcher stop error", map[string]interface{}{"error": err.Error()})
		}
	}
	if limiter != nil {
		limiter.Close()
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Tracer shutdown error", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Shutdown complete", nil)
	return exit
}

// authSettings maps config keys onto the middleware's settings snapshot.
func authSettings(cfg *config.Config) auth.Settings {
	return auth.Settings{
		Key:                    cfg.AuthKey,
		Header:                 cfg.AuthHeader,
		FaissDataSecure:        cfg.FaissDataSecure,
		DataProtectionDisabled: cfg.DataProtectionDisabled,
	}
}

// levelFor picks the log threshold. In stdio mode stdout carries the
// protocol, so anything below error is suppressed unless debug is requested.
func levelFor(cfg *config.Config) observability.LogLevel {
	level := observability.ParseLogLevel(cfg.LogLevel)
	if cfg.Transport == config.TransportStdio && level != observability.LogLevelDebug {
		return observability.LogLevelError
	}
	return level
}

func buildLogger(cfg *config.Config) observability.Logger {
	logger := observability.NewStandardLogger("hubspot-mcp")
	if std, ok := logger.(*observability.StandardLogger); ok {
		return std.WithLevel(levelFor(cfg))
	}
	return logger
}

// fail logs the error and picks the exit code: configuration mistakes exit 2,
// runtime failures exit 1.
func fail(logger observability.Logger, msg string, err error) int {
	logger.Error(msg, map[string]interface{}{"error": err.Error()})
	if pkgerrors.KindOf(err) == pkgerrors.KindConfig {
		return 2
	}
	return 1
}
