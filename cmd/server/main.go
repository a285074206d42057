// hostpilot - conversational host agent server
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

	"github.com/ashureev/hostpilot/internal/agent"
	"github.com/ashureev/hostpilot/internal/api"
	"github.com/ashureev/hostpilot/internal/channel"
	"github.com/ashureev/hostpilot/internal/config"
	"github.com/ashureev/hostpilot/internal/executor"
	"github.com/ashureev/hostpilot/internal/identity"
	"github.com/ashureev/hostpilot/internal/middleware"
	"github.com/ashureev/hostpilot/internal/preset"
	"github.com/ashureev/hostpilot/internal/provider"
	"github.com/ashureev/hostpilot/internal/search"
	"github.com/ashureev/hostpilot/internal/store"
	"github.com/ashureev/hostpilot/internal/verify"
	"github.com/ashureev/hostpilot/web"
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

	var exec executor.Executor
	switch cfg.Executor.Backend {
	case "local":
		exec, err = executor.NewLocalExecutor(cfg.Executor.LocalRoot)
	default:
		exec, err = executor.NewDockerExecutor(cfg.Executor.ContainerRuntime)
	}
	if err != nil {
		slog.Error("Failed to initialize command executor", "error", err, "backend", cfg.Executor.Backend)
		os.Exit(1)
	}

	aiClient := provider.New(cfg.Provider)
	if !cfg.HasProviderKey() {
		slog.Warn("AI API key not configured, the agent will explain this to users")
	}

	searchClient := search.NewClient(cfg.Search.BaseURL, cfg.Search.APIKey, cfg.Search.MaxResults)
	if !searchClient.Configured() {
		slog.Info("Search disabled (SEARCH_API_KEY not set)")
	}

	presets := preset.NewLibrary(cfg.Agent.PresetDir)

	hub := channel.NewHub()
	verifier := verify.NewManager(cfg.Agent.VerifyDir, func(userID, text string) {
		hub.Send(userID, "[verify] "+text)
	})

	orch := agent.New(agent.Deps{
		AI:       aiClient,
		Executor: exec,
		Search:   searchClient,
		Presets:  presets,
		Verifier: verifier,
		Repo:     repo,
		Out:      hub,
	}, cfg.Agent, cfg.Provider.SystemPrompt, cfg.Executor.CommandTimeout)
	defer orch.Close()

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, orch, cfg.Provider.Model)
	wsHandler := channel.NewWebSocketHandler(hub, orch, repo, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WebSocket sessions are long-lived, so no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background sweeps.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch.StartSweep(ctx, cfg.Agent.SweepInterval)
	verifier.StartSweep(ctx, cfg.Agent.SweepInterval)
	slog.Info("Sweep workers started", "interval", cfg.Agent.SweepInterval, "idle_timeout", cfg.Agent.IdleTimeout)

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
