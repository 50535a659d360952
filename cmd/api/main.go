// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pairlink/chat-backend/internal/apns"
	"github.com/pairlink/chat-backend/internal/config"
	"github.com/pairlink/chat-backend/internal/events"
	"github.com/pairlink/chat-backend/internal/handler"
	"github.com/pairlink/chat-backend/internal/llm"
	"github.com/pairlink/chat-backend/internal/middleware"
	"github.com/pairlink/chat-backend/internal/service"
	"github.com/pairlink/chat-backend/internal/store"
	"github.com/pairlink/chat-backend/pkg/logger"
	"github.com/pairlink/chat-backend/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-backend", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the database
	db, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS when enabled; the publisher degrades to a
	// no-op otherwise.
	var natsClient *events.Client
	if cfg.NATSEnabled {
		natsClient, err = events.Connect(ctx, events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()
	}
	publisher := events.NewPublisher(natsClient, log)
	if err := publisher.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure events stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize LLM client
	llmClient, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), providerKey(cfg))
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		os.Exit(1)
	}

	// Initialize push notifications when configured
	var notifier *apns.Client
	if cfg.APNsKeyFile != "" {
		keyPEM, err := os.ReadFile(cfg.APNsKeyFile)
		if err != nil {
			log.Error("failed to read APNs key", zap.Error(err))
			os.Exit(1)
		}
		signer, err := apns.NewSigner(keyPEM, cfg.APNsKeyID, cfg.APNsTeamID)
		if err != nil {
			log.Error("failed to create APNs signer", zap.Error(err))
			os.Exit(1)
		}
		notifier = apns.NewClient(signer, cfg.APNsTopic, cfg.APNsSandbox, db, log)
	}

	// Initialize services
	conversationSvc := service.NewConversationService(db, log)
	messageSvc := service.NewMessageService(db, llmClient, publisher, cfg.ChatModel, log)
	var partnerNotifier service.Notifier
	var checkinNotifier service.CheckinNotifier
	if notifier != nil {
		partnerNotifier = notifier
		checkinNotifier = notifier
	}
	partnerSvc := service.NewPartnerService(db, publisher, partnerNotifier, log)
	checkinSvc := service.NewCheckinService(db, checkinNotifier, log)
	if err := checkinSvc.Start(); err != nil {
		log.Error("failed to start check-in scheduler", zap.Error(err))
		os.Exit(1)
	}
	defer checkinSvc.Stop()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, natsClient, cfg.NATSEnabled)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	chatHandler := handler.NewChatHandler(messageSvc, log)
	partnerHandler := handler.NewPartnerHandler(partnerSvc, log)
	notificationHandler := handler.NewNotificationHandler(db, checkinSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Streaming chat
		r.Post("/chat/stream", chatHandler.Stream)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Patch("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				r.Get("/messages", messageHandler.List)
			})
		})

		// Partner requests
		r.Route("/partner", func(r chi.Router) {
			r.Post("/requests", partnerHandler.CreateRequest)
			r.Get("/pending", partnerHandler.Pending)
			r.Post("/requests/{id}/delivered", partnerHandler.MarkDelivered)
			r.Post("/requests/{id}/accept", partnerHandler.Accept)
			r.Post("/send", partnerHandler.Send)
		})

		// Notifications
		r.Route("/notifications", func(r chi.Router) {
			r.Post("/register", notificationHandler.RegisterToken)
			r.Post("/unregister", notificationHandler.UnregisterToken)
			r.Get("/daily-checkins", notificationHandler.GetCheckin)
			r.Post("/daily-checkins", notificationHandler.SetCheckin)
		})
	})

	// Create HTTP server. The write timeout must cover a full LLM
	// stream, not just a request/response exchange.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func providerKey(cfg *config.Config) string {
	if llm.Provider(cfg.DefaultLLM) == llm.ProviderOpenAI {
		return cfg.OpenAIAPIKey
	}
	return cfg.AnthropicAPIKey
}
