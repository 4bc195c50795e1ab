package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/castwright/internal/svcctx"
)

// Server is the castwright HTTP server. It serves the pipeline operations
// and owns the shutdown of the workflow runner and anything registered in
// Config.OnShutdown.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	services   *svcctx.Services
	onShutdown []func(context.Context) error

	mu      sync.RWMutex
	running bool
}

type Config struct {
	Host string // default 127.0.0.1
	Port string // default 8080

	// Services ride on every request context. A nil Pipeline makes the
	// pipeline routes answer 503.
	Services       *svcctx.Services
	MetricsHandler http.Handler

	// OnShutdown hooks run in order once HTTP and the runner have stopped.
	OnShutdown []func(context.Context) error
	Logger     *slog.Logger
}

// New builds the server and its routes. Nothing listens until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Services == nil {
		cfg.Services = &svcctx.Services{}
	}
	if cfg.Services.Logger == nil {
		cfg.Services.Logger = cfg.Logger
	}

	s := &Server{
		logger:     cfg.Logger,
		services:   cfg.Services,
		onShutdown: cfg.OnShutdown,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux, cfg.MetricsHandler)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// content generation holds the request for one provider call per chapter
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start serves HTTP until ctx is cancelled or the listener fails, then shuts
// everything down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown stops accepting requests, cancels background runs, then runs the
// OnShutdown hooks.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.services.Runner != nil {
		s.logger.Info("stopping workflow runs")
		s.services.Runner.Stop()
	}

	var errs []error
	for _, fn := range s.onShutdown {
		if err := fn(shutdownCtx); err != nil {
			s.logger.Error("shutdown hook error", "error", err)
			errs = append(errs, err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := svcctx.WithServices(r.Context(), s.services)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the pipeline is wired.
// Returns 503 Service Unavailable otherwise.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services.Pipeline == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
