// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"dmsrelay/internal/config"
	"dmsrelay/internal/gateway/handlers"
	"dmsrelay/internal/gateway/middleware"
	"dmsrelay/pkg/logger"
)

// RouteRegistrar mounts API routes on the gateway router.
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	watcher     *Watcher
	config      *config.Config
	rateLimiter *middleware.RateLimiter
	log         zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds the router and middleware chain. api may be nil, in
// which case only the static UI (if configured) is served.
func NewServer(cfg *config.Config, api RouteRegistrar) *Server {
	router := mux.NewRouter()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
		Burst:             cfg.Gateway.RateLimit.Burst,
		Enabled:           cfg.Gateway.RateLimit.Enabled,
		CleanupInterval:   cfg.Gateway.RateLimit.CleanupInterval,
	})

	// Recovery -> Logging -> CORS -> RateLimit
	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				rateLimiter.RateLimit(router),
			),
		),
	)

	s := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		router:      router,
		config:      cfg,
		rateLimiter: rateLimiter,
		log:         logger.Component("gateway"),
	}

	if api != nil {
		api.RegisterRoutes(router)
	}
	s.setupStatic()

	return s
}

// setupStatic serves the browser UI from gateway.static_dir at "/".
func (s *Server) setupStatic() {
	dir := s.config.Gateway.StaticDir
	if dir == "" {
		return
	}
	if expanded, err := config.ExpandPath(dir); err == nil {
		dir = expanded
	}
	s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(dir))).Methods(http.MethodGet, http.MethodHead)
	s.log.Info().Str("dir", dir).Msg("serving static UI")
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Gateway.Host, fmt.Sprintf("%d", s.config.Gateway.Port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	handlers.InitStartTime()

	addr := s.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer.Addr = ln.Addr().String()
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("starting gateway server")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the watcher and rate limiter and drains connections for at
// most five seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down gateway server")

	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.rateLimiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// IsReady reports whether the server is listening.
func (s *Server) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// ListenAddr returns the bound address once listening, which differs from
// Addr when port 0 was configured.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// SetWatcher attaches a config watcher that is stopped on Shutdown.
func (s *Server) SetWatcher(w *Watcher) {
	s.watcher = w
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
