// Package server exposes the ladder session over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/server/handler"
	"github.com/alanyoungcy/scalperladder/internal/server/middleware"
	"github.com/alanyoungcy/scalperladder/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
	MetricsPath string
}

// Handlers aggregates the HTTP handlers the server registers. Audit and
// Metrics are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Widgets  *handler.WidgetHandler
	Commands *handler.CommandHandler
	Terminal *handler.TerminalHandler
	Audit    *handler.AuditHandler
	Metrics  http.Handler
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging,
// rate limiting and auth.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, cfg, h, hub)

	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/api/health", cfg.MetricsPath)(root)
	root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

func registerRoutes(mux *http.ServeMux, cfg Config, h Handlers, hub *ws.Hub) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/widgets", h.Widgets.List)
	mux.HandleFunc("POST /api/widgets", h.Widgets.Create)
	mux.HandleFunc("DELETE /api/widgets/{guid}", h.Widgets.Delete)
	mux.HandleFunc("GET /api/widgets/{guid}/settings", h.Widgets.GetSettings)
	mux.HandleFunc("PUT /api/widgets/{guid}/settings", h.Widgets.PutSettings)
	mux.HandleFunc("GET /api/widgets/{guid}/rows", h.Widgets.Rows)
	mux.HandleFunc("POST /api/widgets/{guid}/scroll", h.Widgets.Scroll)
	mux.HandleFunc("POST /api/widgets/{guid}/activate", h.Widgets.Activate)
	mux.HandleFunc("POST /api/widgets/{guid}/click", h.Widgets.Click)
	mux.HandleFunc("POST /api/widgets/{guid}/rows/cancel", h.Widgets.CancelRow)
	mux.HandleFunc("POST /api/widgets/{guid}/volume", h.Widgets.SelectVolume)

	mux.HandleFunc("POST /api/commands", h.Commands.Send)
	mux.HandleFunc("GET /api/terminal/settings", h.Terminal.Get)
	mux.HandleFunc("PUT /api/terminal/settings", h.Terminal.Put)

	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.List)
	}
	if h.Metrics != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, h.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
