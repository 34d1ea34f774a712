// Cloudprinter quote assistant server.
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

	"github.com/Croups/cloudprinter-chatbot/internal/agent"
	"github.com/Croups/cloudprinter-chatbot/internal/api"
	"github.com/Croups/cloudprinter-chatbot/internal/catalog"
	"github.com/Croups/cloudprinter-chatbot/internal/config"
	"github.com/Croups/cloudprinter-chatbot/internal/identity"
	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/Croups/cloudprinter-chatbot/internal/middleware"
	"github.com/Croups/cloudprinter-chatbot/internal/prompt"
	"github.com/Croups/cloudprinter-chatbot/internal/realtime"
	"github.com/Croups/cloudprinter-chatbot/internal/store"
	"github.com/Croups/cloudprinter-chatbot/internal/tools"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", cfg.Version)

	sentryEnabled := initSentry(cfg)

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
	slog.Info("Database connected", "path", cfg.DBPath)

	client, err := catalog.New(cfg.Cloudprinter.APIKey,
		catalog.WithBaseURL(cfg.Cloudprinter.BaseURL),
		catalog.WithHTTPClient(&http.Client{Timeout: cfg.Cloudprinter.Timeout}),
		catalog.WithLogger(logger),
	)
	if err != nil {
		slog.Error("Failed to initialize Cloudprinter client", "error", err)
		os.Exit(1)
	}

	provider, err := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:     cfg.OpenAI.APIKey,
		Model:      cfg.OpenAI.Model,
		BaseURL:    cfg.OpenAI.BaseURL,
		MaxRetries: 2,
	})
	if err != nil {
		slog.Error("Failed to initialize model provider", "error", err)
		os.Exit(1)
	}
	slog.Info("Model provider initialized", "provider", provider.Name(), "model", provider.Model())

	prompts, err := prompt.Load(cfg.PromptFile)
	if err != nil {
		slog.Error("Failed to load prompts", "error", err, "path", cfg.PromptFile)
		os.Exit(1)
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	registry := tools.New(client, provider, tools.WithPrompts(prompts), tools.WithLogger(logger))

	sessionOpts := []agent.SessionOption{
		agent.WithSystemPrompt(prompts.System),
		agent.WithLogger(logger),
		agent.WithConversationLogger(conversationLogger),
	}
	if sentryEnabled {
		sessionOpts = append(sessionOpts, agent.WithFailureHook(captureTurnFailure))
	}
	sessions := agent.NewManager(func(userID, sessionID string) *agent.Session {
		opts := append([]agent.SessionOption{agent.WithUserID(userID)}, sessionOpts...)
		return agent.NewSession(sessionID, provider, registry, opts...)
	}, repo, logger)

	limiter := agent.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	defer limiter.Close()

	sm := realtime.NewSessionManager()

	// Initialize handlers.
	agentHandler := agent.NewHandler(sessions, limiter, cfg.MaxRequestBodySize)
	wsHandler := realtime.NewWebSocketHandler(sessions, sm, limiter, cfg.FrontendURL, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(repo, api.HealthInfo{
		Version:        cfg.Version,
		Model:          provider.Model(),
		CatalogBaseURL: cfg.Cloudprinter.BaseURL,
		Tools:          registry.Names(),
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	agentHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// SSE turns may run for several model round trips, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent.StartTTLWorker(ctx, repo, sessions, cfg.SessionTTL, cfg.SweepInterval, sm.CloseSession)

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

	slog.Info("Shutting down gracefully...", "live_sessions", sessions.Len(), "open_connections", sm.Count())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if sentryEnabled {
		slog.Info("Flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}

	slog.Info("Server stopped successfully")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func initSentry(cfg *config.Config) bool {
	if cfg.Sentry.DSN == "" {
		return false
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Version,
		AttachStacktrace: true,
	})
	if err != nil {
		slog.Warn("Sentry initialization failed", "error", err)
		return false
	}
	slog.Info("Sentry initialized", "environment", cfg.Sentry.Environment, "release", cfg.Version)
	return true
}

// captureTurnFailure reports a failed turn with its session tag.
func captureTurnFailure(ctx context.Context, sessionID string, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", sessionID)
		hub.CaptureException(err)
	})
}
