// Package api provides the HTTP API server for thereabout.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aerobless/thereabout/internal/config"
	"github.com/aerobless/thereabout/internal/importer"
	"github.com/aerobless/thereabout/internal/progress"
	"github.com/aerobless/thereabout/internal/store"
)

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	importer    *importer.Importer
	tracker     *progress.Tracker
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, st *store.Store, imp *importer.Importer, tracker *progress.Tracker, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		importer: imp,
		tracker:  tracker,
		logger:   logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	s.rateLimiter = NewRateLimiter(s.cfg.Server.RateLimitQPS, s.cfg.Server.RateLimitBurst)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/import", s.handleImport)
		r.Get("/import/status", s.handleImportStatus)

		r.Get("/messages", s.handleListMessages)
		r.Get("/messages/by-date", s.handleMessagesByDate)

		r.Get("/identities", s.handleListIdentities)
		r.Post("/identities", s.handleCreateIdentity)
		r.Put("/identities/{id}", s.handleUpdateIdentity)

		r.Get("/stats", s.handleStats)
	})

	return r
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the configured port. It blocks until the server
// stops or fails.
func (s *Server) Start() error {
	addr := net.JoinHostPort("", strconv.Itoa(s.cfg.Server.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting HTTP API server", "addr", addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// loggerMiddleware logs each request with method, path, status and duration.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Microsecond))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
