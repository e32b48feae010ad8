// mentorlab - Socratic tutoring dialogue server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkoshel/mentorlab/internal/api"
	"github.com/dkoshel/mentorlab/internal/chat"
	"github.com/dkoshel/mentorlab/internal/config"
	"github.com/dkoshel/mentorlab/internal/identity"
	"github.com/dkoshel/mentorlab/internal/middleware"
	"github.com/dkoshel/mentorlab/internal/model"
	"github.com/dkoshel/mentorlab/internal/store"
	"github.com/dkoshel/mentorlab/internal/tutor"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	if err := repo.EnsureSeedTopics(context.Background(), store.DefaultSeedTopics()); err != nil {
		slog.Error("Failed to seed topics", "error", err)
		os.Exit(1)
	}

	// Initialize the tutoring core shared across sessions.
	modelClient := model.NewClient(model.ClientConfig{
		BaseURL:        cfg.Model.BaseURL,
		APIKey:         cfg.Model.APIKey,
		Model:          cfg.Model.Name,
		RequestTimeout: cfg.Model.RequestTimeout,
	}, logger)

	invoker := tutor.NewRetryingInvoker(cfg.Tutor.MaxAttempts, cfg.Tutor.RetryBackoff, logger)
	judge := tutor.NewProgressJudge(modelClient, invoker, cfg.Tutor.TranscriptWindow)
	mentor := tutor.NewMentorAgent(modelClient, invoker, cfg.Tutor.TranscriptWindow)

	pool := tutor.NewWorkerPool(cfg.Tutor.Workers, cfg.Tutor.Workers*4)
	defer pool.Close()
	slog.Info("Worker pool started", "workers", cfg.Tutor.Workers)

	manager := chat.NewManager()

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo)
	topicHandler := api.NewTopicHandler(repo)
	feedbackHandler := api.NewFeedbackHandler(repo, manager)
	chatHandler := chat.NewHandler(repo, judge, mentor, pool, manager, cfg, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(corsOrigins(cfg)))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)

	r.Route("/api", func(r chi.Router) {
		r.Get("/me", healthHandler.GetMe)
		topicHandler.RegisterRoutes(r)
		feedbackHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint.
	r.Get("/ws/chat", chatHandler.ServeHTTP)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: WebSocket sessions are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start session janitor.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartJanitor(ctx, repo, cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func corsOrigins(cfg *config.Config) []string {
	if cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
