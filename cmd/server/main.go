// DailyStack - Daily Learning Challenge Server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/dailystack/dailystack/internal/api"
	"github.com/dailystack/dailystack/internal/config"
	"github.com/dailystack/dailystack/internal/middleware"
	"github.com/dailystack/dailystack/internal/stackspot"
	"github.com/dailystack/dailystack/internal/state"
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

	creds := config.LoadCredentials()
	if !creds.Complete() {
		slog.Warn("Provider credentials incomplete, waiting for save-credentials", "missing", creds.Missing())
	}

	// Two HTTP clients: a bounded one for auth, provisioning and the
	// challenge fetch, and a streaming one that only limits the time to
	// first response header.
	apiClient := &http.Client{Timeout: cfg.HTTPTimeout}
	streamClient := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.HTTPTimeout,
		},
	}

	auth := stackspot.NewAuthenticator(creds, cfg.Endpoints.Identity, apiClient, logger)
	provisioner := stackspot.NewProvisioner(auth, cfg.Agent, cfg.Endpoints.AgentTools, apiClient, logger)
	fetcher := stackspot.NewChallengeClient(auth, provisioner, cfg.Endpoints.Inference, apiClient, logger)
	relay := stackspot.NewChatClient(auth, cfg.Endpoints.CodeBuddy, streamClient, logger)

	app := state.New(relay, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fetch the daily challenge in the background so startup is not
	// blocked on the slow LLM generation.
	go func() {
		if !auth.HasCredentials() {
			app.SetError("credentials not configured")
			return
		}
		app.LoadChallenge(ctx, fetcher)
	}()

	// Initialize handlers.
	baseHandler := api.NewHandler(app, fetcher, auth, cfg, logger)
	wsHandler := api.NewWebSocketHandler(app, baseHandler, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	baseHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Note: SSE responses require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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
