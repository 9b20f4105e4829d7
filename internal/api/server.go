// Package api provides the HTTP server of the playground: the gin engine,
// its middleware chain and the health and metrics endpoints. The playground
// routes themselves live in the handlers package.
package api

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowlab/oauth-playground/internal/api/handlers"
	"github.com/flowlab/oauth-playground/internal/api/middleware"
	"github.com/flowlab/oauth-playground/internal/buildinfo"
	"github.com/flowlab/oauth-playground/internal/config"
	"github.com/flowlab/oauth-playground/internal/controller"
	"github.com/flowlab/oauth-playground/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	sessionStore       sessions.Store
	console            *logging.RingBuffer
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware to the engine.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithSessionStore replaces the signed cookie store, e.g. in tests.
func WithSessionStore(store sessions.Store) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.sessionStore = store
	}
}

// WithConsole sets the log buffer streamed to the browser console.
func WithConsole(console *logging.RingBuffer) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.console = console
	}
}

// Server is the playground HTTP server.
type Server struct {
	// engine is the Gin web framework engine instance.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	// handler serves the pages and the JSON API.
	handler *handlers.Handler

	// cfg holds the current configuration for race-safe reads.
	cfg atomic.Pointer[config.Config]
}

// NewServer creates the server. manager runs the flows; httpClient is used
// for discovery and JWKS requests and may be nil.
func NewServer(cfg *config.Config, manager *controller.Manager, httpClient *http.Client, opts ...ServerOption) (*Server, error) {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	middleware.SetMetricsEnabled(!cfg.DisableMetrics)
	if !cfg.DisableMetrics {
		controller.RegisterMetrics(nil)
	}

	store := optionState.sessionStore
	if store == nil {
		secret, err := sessionSecret(cfg)
		if err != nil {
			return nil, err
		}
		store = middleware.NewSessionStore(secret, cfg.SecureCookies)
	}

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.ConnectionTrackerMiddleware())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(middleware.RequestDecompressionMiddleware())
	engine.Use(middleware.SessionMiddleware(store))
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	tmpl, err := handlers.Templates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse page templates: %w", err)
	}
	engine.SetHTMLTemplate(tmpl)

	s := &Server{
		engine:  engine,
		handler: handlers.NewHandler(cfg, manager, httpClient, optionState.console),
	}
	s.cfg.Store(cfg)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// sessionSecret returns the configured cookie secret or a random one.
func sessionSecret(cfg *config.Config) ([]byte, error) {
	if secret := strings.TrimSpace(cfg.SessionSecret); secret != "" {
		return []byte(secret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	log.Warn("session-secret is not set; browser sessions will not survive a restart")
	return secret, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{
			"status":             "ok",
			"version":            buildinfo.Version,
			"active_connections": middleware.ActiveConnections.Count(),
		})
	})
	s.engine.GET("/metrics", middleware.MetricsHandler())
	s.handler.Register(s.engine)
}

// Engine exposes the Gin engine, e.g. for httptest.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start begins listening for and serving HTTP requests.
// It's a blocking call and will only return on an unrecoverable error.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}
	log.Infof("playground listening on http://%s", displayAddr(s.server.Addr))
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", errServe)
	}
	return nil
}

// Stop gracefully shuts down the server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateConfig applies a reloaded configuration. Listen address, session
// secret and storage changes need a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	old := s.cfg.Swap(cfg)
	middleware.SetMetricsEnabled(!cfg.DisableMetrics)
	if !cfg.DisableMetrics {
		controller.RegisterMetrics(nil)
	}
	s.handler.SetConfig(cfg)
	if old != nil && (old.Host != cfg.Host || old.Port != cfg.Port || old.Storage != cfg.Storage || old.SessionSecret != cfg.SessionSecret) {
		log.Warn("listen address, storage or session secret changed; restart to apply")
	}
	log.Info("configuration reloaded")
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
