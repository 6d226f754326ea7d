package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coderunr/evaluator/internal/config"
	"github.com/coderunr/evaluator/internal/handler"
	"github.com/coderunr/evaluator/internal/job"
	"github.com/coderunr/evaluator/internal/metrics"
	"github.com/coderunr/evaluator/internal/middleware"
	"github.com/coderunr/evaluator/internal/runtime"
	"github.com/coderunr/evaluator/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Set up logging
	logger := logrus.New()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Component loggers use the standard logger
	logrus.SetLevel(cfg.GetLogLevel())
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logger.Info("Starting CodeRunr evaluator")

	runtimeManager := runtime.NewManager()
	jobManager := job.NewManager(cfg)
	catalog := service.NewCatalogService(cfg, logger)

	if catalog.Enabled() {
		if err := catalog.Refresh(context.Background()); err != nil {
			// The catalog is retried lazily on the next request
			logger.WithError(err).Warn("Failed to load challenge catalog")
		}
	}

	r := newRouter(cfg, logger, jobManager, runtimeManager, catalog)

	// Create HTTP server
	server := &http.Server{
		Addr:    cfg.GetBindAddress(),
		Handler: r,
		// Security settings
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("API server starting on %s", cfg.GetBindAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// newRouter wires the handlers and middleware
func newRouter(cfg *config.Config, logger *logrus.Logger, jobManager *job.Manager,
	runtimeManager *runtime.Manager, catalog *service.CatalogService) http.Handler {

	h := handler.NewHandler(jobManager, runtimeManager, catalog, logger)
	challengeHandler := handler.NewChallengeHandler(h)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS())
	// Limit POST body size
	r.Use(middleware.BodyLimit(cfg.RequestBodyLimit))

	// API routes
	r.Route("/api/v2", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.JSON)
			r.Use(chiMiddleware.Timeout(60 * time.Second))
			r.Post("/evaluate", h.Evaluate)
			challengeHandler.RegisterRoutes(r)
		})

		// WebSocket route (no JSON middleware)
		r.HandleFunc("/connect", h.HandleWebSocket)

		// GET routes
		r.Get("/runtimes", h.GetRuntimes)
	})

	// Root route
	r.Get("/", h.GetVersion)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
