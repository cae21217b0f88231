package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-rag/internal/worker"
)

// HealthCheck probes one backing component for /health
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// WorkerStatus is an ingest worker running in the same process
type WorkerStatus interface {
	Health(ctx context.Context) worker.Health
}

// Services are the collaborators the HTTP layer drives.
// Runtime and Worker are optional.
type Services struct {
	Ingest  driving.IngestService
	Chat    driving.ChatService
	Memory  driving.ConversationMemory
	Queue   driven.IngestQueue
	Auth    driven.AuthAdapter
	Runtime *domain.RuntimeConfig
	Worker  WorkerStatus
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     chi.Router
	version    string

	ingest driving.IngestService
	chat   driving.ChatService
	memory driving.ConversationMemory
	queue  driven.IngestQueue

	runtime *domain.RuntimeConfig
	worker  WorkerStatus

	auth    *AuthMiddleware
	checks  []HealthCheck
	logger  *zap.Logger
	maxBody int64
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	Version      string
	CORSOrigins  []string
	AuthEnabled  bool
	AdminKeyHash string

	// WriteTimeout must cover a full ask, generation included
	WriteTimeout time.Duration

	// MaxUploadBytes bounds document uploads
	MaxUploadBytes int64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Version:        "dev",
		CORSOrigins:    []string{"*"},
		AuthEnabled:    true,
		WriteTimeout:   2 * time.Minute,
		MaxUploadBytes: 50 << 20,
	}
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, svc Services, checks []HealthCheck, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}

	s := &Server{
		router:  chi.NewRouter(),
		version: cfg.Version,
		ingest:  svc.Ingest,
		chat:    svc.Chat,
		memory:  svc.Memory,
		queue:   svc.Queue,
		runtime: svc.Runtime,
		worker:  svc.Worker,
		auth:    NewAuthMiddleware(svc.Auth, cfg.AuthEnabled, cfg.AdminKeyHash),
		checks:  checks,
		logger:  logger,
		maxBody: cfg.MaxUploadBytes,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes(cfg)
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config) {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(s.logger).Handler)
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderAdminKey, HeaderTenantID, HeaderUserID, HeaderRole},
		ExposedHeaders:   []string{"X-Request-ID", "X-Process-Time", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/version", s.handleVersion)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Authenticate)
			r.Post("/ask", s.handleAsk)
			r.Delete("/history", s.handleClearHistory)
			r.Get("/documents", s.handleListDocuments)
			r.Get("/jobs/{id}", s.handleGetJob)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireAdmin)
			r.Post("/documents", s.handleUpload)
			r.Delete("/documents/{source_file}", s.handleDeleteDocument)
			r.Post("/admin/optimize", s.handleOptimize)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "endpoint not found")
	})
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
