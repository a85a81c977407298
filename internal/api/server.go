// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/browser"
	"github.com/xkilldash9x/rover/internal/config"
	"github.com/xkilldash9x/rover/internal/events"
	"github.com/xkilldash9x/rover/internal/observability"
	"github.com/xkilldash9x/rover/internal/service"
	"github.com/xkilldash9x/rover/internal/store"
)

// Sessions manages the process-wide browser session.
type Sessions interface {
	Setup(ctx context.Context, url string) (*browser.Session, error)
	Cleanup(ctx context.Context) error
	Page() (agent.Page, bool)
}

// Runs admits agent runs one at a time.
type Runs interface {
	Start(ctx context.Context, query string) (*service.Run, error)
	// Exclusive runs fn while no run can start.
	Exclusive(fn func() error) error
	Busy() bool
}

// Transcripts reads back stored runs.
type Transcripts interface {
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// Subscriber hands out side-channel subscriptions.
type Subscriber interface {
	Subscribe() (<-chan events.Event, func())
}

// Server is the HTTP front end of the agent.
type Server struct {
	cfg         config.ServerConfig
	sessions    Sessions
	runs        Runs
	events      Subscriber
	transcripts Transcripts // nil when persistence is disabled
	logger      *zap.Logger
	router      *chi.Mux
}

// NewServer builds the router. transcripts may be nil.
func NewServer(cfg config.ServerConfig, sessions Sessions, runs Runs, subscriber Subscriber, transcripts Transcripts, logger *zap.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		sessions:    sessions,
		runs:        runs,
		events:      subscriber,
		transcripts: transcripts,
		logger:      logger.Named("api"),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(s.corsMiddleware)
	router.Use(s.requestLogger)

	router.Post("/setup-browser", s.handleSetupBrowser)
	router.Post("/cleanup", s.handleCleanup)
	router.Post("/query", s.handleQuery)
	router.Get("/browser-events", s.handleBrowserEvents)
	router.Get("/runs", s.handleListRuns)
	router.Get("/runs/{id}", s.handleGetRun)
	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	s.router = router
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	readHeader := s.cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeader,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening.", zap.String("address", ln.Addr().String()))
		serverErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.logger.Info("Shutting down API server.", zap.Duration("timeout", timeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("api server shutdown: %w", err)
	}
	<-serverErr
	return nil
}
