// Tutor AI - conversational English tutor server
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

	"github.com/ashureev/tutor-ai/internal/api"
	"github.com/ashureev/tutor-ai/internal/chat"
	"github.com/ashureev/tutor-ai/internal/config"
	"github.com/ashureev/tutor-ai/internal/conversation"
	"github.com/ashureev/tutor-ai/internal/events"
	"github.com/ashureev/tutor-ai/internal/gemini"
	"github.com/ashureev/tutor-ai/internal/health"
	"github.com/ashureev/tutor-ai/internal/identity"
	"github.com/ashureev/tutor-ai/internal/middleware"
	"github.com/ashureev/tutor-ai/internal/prompts"
	"github.com/ashureev/tutor-ai/internal/store"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "db_driver", cfg.Database.Driver, "model", cfg.Gemini.Model)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	repo, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Conversation core.
	catalog, err := prompts.Load(cfg.Chat.PromptsFile)
	if err != nil {
		slog.Error("Failed to load prompt catalog", "error", err)
		os.Exit(1)
	}

	client := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout,
		gemini.WithBaseURL(cfg.Gemini.BaseURL),
		gemini.WithLogger(logger),
	)
	convSvc := conversation.NewService(client,
		conversation.WithHistoryWindow(cfg.Chat.HistoryWindow),
		conversation.WithCatalog(catalog),
		conversation.WithLogger(logger),
	)

	// Turn events (optional).
	var (
		publisher events.Publisher = events.NopPublisher{}
		natsPub   *events.NATSPublisher
	)
	if cfg.NATS.URL != "" {
		natsPub, err = events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Token, logger)
		if err != nil {
			slog.Warn("Failed to connect to NATS, turn events disabled", "error", err)
			natsPub = nil
		} else {
			publisher = natsPub
			slog.Info("Turn events enabled", "subject", events.SubjectTurnRecorded)
		}
	}
	defer publisher.Close()

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
		MaxOpenFiles:  cfg.ConversationLog.MaxOpenFiles,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	chatSvc := chat.NewService(repo, convSvc,
		chat.WithPublisher(publisher),
		chat.WithConversationLogger(conversationLogger),
		chat.WithHistoryLimit(cfg.Chat.HistoryWindow),
		chat.WithLogger(logger),
	)
	defer func() {
		if closeErr := chatSvc.Close(); closeErr != nil {
			slog.Error("Failed to flush conversation log", "error", closeErr)
		}
	}()

	// Authentication.
	var verifier identity.TokenVerifier
	if cfg.Auth.JWKSURL != "" {
		jwks, err := identity.NewJWKSVerifier(ctx, cfg.Auth.JWKSURL, logger)
		if err != nil {
			slog.Error("Failed to initialize JWKS verifier", "error", err)
			os.Exit(1)
		}
		verifier = jwks
	} else {
		verifier = identity.NewHMACVerifier([]byte(cfg.Auth.JWTSecret), logger)
	}

	// Handlers.
	rl := chat.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer rl.Stop()

	handlerCfg := chat.HandlerConfig{
		MaxRequestBodySize: cfg.Chat.MaxRequestBodySize,
		MaxMessageLength:   cfg.Chat.MaxMessageLength,
	}
	sm := chat.NewSessionManager()
	chatHandler := chat.NewHandler(chatSvc, sm, rl, catalog.Messages, handlerCfg, logger)
	wsHandler := chat.NewWebSocketHandler(chatSvc, sm, rl, catalog.Messages, handlerCfg, cfg.CORSOrigins, logger)
	profileHandler := api.NewProfileHandler(repo, logger)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	if natsPub != nil {
		healthHandler.WithEvents(natsPub)
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier))
		chatHandler.RegisterRoutes(r)
		profileHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Create server.
	// Note: /ws/chat connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// gRPC health (optional).
	var healthSrv *health.Server
	if cfg.GRPCHealthPort != "" {
		healthSrv = health.NewServer(repo, health.DefaultConfig(), logger)
		go healthSrv.Watch(ctx)
		go func() {
			if err := healthSrv.ListenAndServe(":" + cfg.GRPCHealthPort); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
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

	if healthSrv != nil {
		healthSrv.Stop()
	}
	sm.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
