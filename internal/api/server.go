package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/recon-backend/internal/api/handlers"
	"github.com/ledgerline/recon-backend/internal/api/middleware"
	"github.com/ledgerline/recon-backend/internal/application/jobs"
	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/application/splits"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	repo       storage.Repository
	worker     *recon.Worker
	splitSvc   *splits.Service
	excSvc     *recon.ExceptionService
	queue      jobs.Queue
}

// NewServer creates a new API server.
// If queue is nil, async reconciliation requests run synchronously.
func NewServer(cfg Config, repo storage.Repository, worker *recon.Worker, splitSvc *splits.Service, excSvc *recon.ExceptionService, queue jobs.Queue, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		logger:   logger,
		repo:     repo,
		worker:   worker,
		splitSvc: splitSvc,
		excSvc:   excSvc,
		queue:    queue,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	// CORS
	corsConfig := middleware.CORSConfig{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}
	s.router.Use(middleware.CORS(corsConfig))

	// Request logging
	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	healthHandler := handlers.NewHealthHandler()
	s.router.Get("/health", healthHandler.ServeHTTP)

	// API routes, scoped per tenant
	s.router.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		// Transactions and their match lifecycle
		txnHandler := handlers.NewTransactionsHandler(s.repo, s.worker, s.queue, s.logger)
		r.Get("/transactions", txnHandler.List)
		r.Get("/transactions/{id}", txnHandler.Get)
		r.Get("/transactions/{id}/reconciliation", txnHandler.Get)
		r.Get("/transactions/{id}/matches", txnHandler.Matches)
		r.Post("/transactions/{id}/reconcile", txnHandler.Reconcile)
		r.Post("/transactions/{id}/reject-suggestion", txnHandler.RejectSuggestion)
		r.Get("/transactions/{id}/events", txnHandler.Events)

		// Split workflow
		splitsHandler := handlers.NewSplitsHandler(s.repo, s.splitSvc, s.logger)
		r.Get("/transactions/{id}/splits", splitsHandler.List)
		r.Put("/transactions/{id}/splits", splitsHandler.Replace)
		r.Delete("/transactions/{id}/splits", splitsHandler.Delete)
		r.Post("/transactions/{id}/splits/submit", splitsHandler.Submit)
		r.Post("/transactions/{id}/splits/approve", splitsHandler.Approve)
		r.Post("/transactions/{id}/splits/reject", splitsHandler.Reject)
		r.Get("/transactions/{id}/splits/audit", splitsHandler.Audit)

		// Exceptions
		excHandler := handlers.NewExceptionsHandler(s.repo, s.excSvc, s.logger)
		r.Get("/exceptions", excHandler.List)
		r.Get("/exceptions/{id}", excHandler.Get)
		r.Post("/exceptions/{id}/resolve", excHandler.Resolve)

		// Batch operations
		adminHandler := handlers.NewAdminHandler(s.repo, s.worker, s.logger)
		r.Post("/reconcile", adminHandler.ReconcileBatch)
		r.Post("/anomalies/run", adminHandler.AnomalyScan)
		r.Get("/dead-letters", adminHandler.DeadLetters)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
