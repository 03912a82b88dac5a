// Package api implements the HTTP transport: the SSE session surface, the
// JSON-RPC message ingress, and the operational and index administration
// endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/developer-mesh/hubspot-mcp/internal/auth"
	"github.com/developer-mesh/hubspot-mcp/internal/cache"
	"github.com/developer-mesh/hubspot-mcp/internal/embedding"
	"github.com/developer-mesh/hubspot-mcp/internal/mcp"
	"github.com/developer-mesh/hubspot-mcp/internal/metrics"
	"github.com/developer-mesh/hubspot-mcp/internal/middleware"
	pkgerrors "github.com/developer-mesh/hubspot-mcp/pkg/errors"
	"github.com/developer-mesh/hubspot-mcp/pkg/observability"
)

const (
	defaultPingInterval    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds the HTTP transport settings.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string
	// Version is reported by /health and the startup log.
	Version string
	// PingInterval spaces the SSE keep-alive comments. Defaults to 30s.
	PingInterval time.Duration
	// ShutdownTimeout bounds the HTTP drain during Shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration
}

// Deps carries the wired components the transport serves.
type Deps struct {
	Dispatcher *mcp.Dispatcher
	Manager    *embedding.Manager
	Cache      *cache.Cache
	Auth       *auth.Middleware
	Limiter    *middleware.RateLimiter
	Logger     observability.Logger
	Metrics    *metrics.Metrics
}

// Server is the HTTP+SSE transport.
type Server struct {
	cfg      Config
	deps     Deps
	logger   observability.Logger
	sessions *SessionManager

	httpSrv *http.Server

	// rootCtx parents every session; rootCancel is the shutdown signal.
	rootCtx    context.Context
	rootCancel context.CancelFunc
	dispatches sync.WaitGroup
}

func NewServer(cfg Config, deps Deps) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	logger = logger.WithPrefix("api")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		sessions:   NewSessionManager(logger, deps.Metrics),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.buildRouter(),
		// No write timeout: /sse streams stay open indefinitely.
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	if s.deps.Limiter != nil {
		r.Use(s.deps.Limiter.Handler())
	}
	if s.deps.Auth != nil {
		r.Use(s.deps.Auth.Handler())
	}

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/sse", s.handleSSE)
	r.POST("/messages/:session", s.handleMessage)

	r.GET("/faiss-data", s.handleFaissData)
	r.POST("/force-reindex", s.handleForceReindex)
	return r
}

// Handler exposes the router so tests can drive the server through httptest.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Sessions exposes the session registry for tests and diagnostics.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Run serves until Shutdown is called or the listener fails.
func (s *Server) Run() error {
	s.logger.Info("HTTP transport listening", map[string]interface{}{
		"addr":    s.cfg.Addr,
		"version": s.cfg.Version,
	})
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return pkgerrors.Wrap(err, pkgerrors.KindInternal, "http server failed")
	}
	return nil
}

// Shutdown stops new work, ends every session, waits for in-flight message
// dispatches, then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rootCancel()
	s.sessions.CloseAll()
	s.dispatches.Wait()

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(drainCtx); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.KindInternal, "http server shutdown failed")
	}
	s.logger.Info("HTTP transport stopped", nil)
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   s.cfg.Version,
	})
}

func (s *Server) handleReady(c *gin.Context) {
	authEnabled := false
	authHeader := ""
	if s.deps.Auth != nil {
		st := s.deps.Auth.Current()
		authEnabled = st.Key != ""
		authHeader = st.Header
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ready",
		"authEnabled": authEnabled,
		"authHeader":  authHeader,
		"sessions":    s.sessions.Count(),
		"timestamp":   time.Now().UTC(),
	})
}

// requestLogger logs each request through the structured logger. Probe and
// scrape endpoints log at debug to keep the info stream readable.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"remote":      c.ClientIP(),
		}
		switch c.Request.URL.Path {
		case "/health", "/ready", "/metrics":
			s.logger.Debug("HTTP request", fields)
		default:
			s.logger.Info("HTTP request", fields)
		}
	}
}
