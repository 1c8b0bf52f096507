package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/config"
	"github.com/zapdesk/chatsync-server/internal/connfeed"
	"github.com/zapdesk/chatsync-server/internal/database"
	"github.com/zapdesk/chatsync-server/internal/gateway"
	"github.com/zapdesk/chatsync-server/internal/handler"
	"github.com/zapdesk/chatsync-server/internal/jobs"
	"github.com/zapdesk/chatsync-server/internal/middleware"
	"github.com/zapdesk/chatsync-server/internal/poller"
	"github.com/zapdesk/chatsync-server/internal/redis"
	"github.com/zapdesk/chatsync-server/internal/repository"
	"github.com/zapdesk/chatsync-server/internal/service"
	"github.com/zapdesk/chatsync-server/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	tenantRepo := repository.NewTenantRepository(db.DB)
	convRepo := repository.NewConversationRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)
	processedRepo := repository.NewProcessedEventRepository(db.DB)
	connRepo := repository.NewConnectionRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)

	ingestService := service.NewIngestService(processedRepo, messageRepo, convRepo, broker)
	sendService := service.NewSendService(db, messageRepo, convRepo, connRepo, gatewayClient, broker)
	handoffService := service.NewHandoffService(convRepo, messageRepo, broker)
	convService := service.NewConversationService(convRepo, messageRepo)

	pollManager := poller.NewManager(gatewayClient, ingestService, cfg.PollInterval(), cfg.PollLookback())
	defer pollManager.Close()

	bootstrapPollers(pollManager, connRepo)

	statusHandler := connfeed.NewStatusHandler(connRepo, pollManager, broker)
	feedSubscriber := connfeed.NewSubscriber(cfg.AMQPURL, statusHandler)

	feedCtx, feedCancel := context.WithCancel(context.Background())
	defer feedCancel()
	go feedSubscriber.Run(feedCtx)

	authMiddleware := middleware.NewAuthMiddleware(tenantRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)
	signatureMiddleware := middleware.NewSignatureMiddleware(cfg.WebhookSignatureSecret)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	webhookHandler := handler.NewWebhookHandler(ingestService)
	convHandler := handler.NewConversationHandler(convService, handoffService, sendService)
	messageHandler := handler.NewMessageHandler(convService)
	eventsHandler := handler.NewEventsHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/channel", func(r chi.Router) {
		r.Use(signatureMiddleware.Handler)
		r.Post("/webhook", webhookHandler.Webhook)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Route("/conversations", func(r chi.Router) {
			r.Mount("/", convHandler.Routes())
		})
		r.Route("/messages", func(r chi.Router) {
			r.Mount("/", messageHandler.Routes())
		})
	})

	retentionJob := jobs.NewRetentionJob(
		processedRepo, cfg.ProcessedEventRetention(), config.RetentionJobInterval,
	)
	retentionJob.Start()
	defer retentionJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// bootstrapPollers resumes polling for connections that were connected when
// the process last stopped. Status events received later adjust the set.
func bootstrapPollers(pollManager *poller.Manager, connRepo repository.ConnectionRepository) {
	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancel()

	conns, err := connRepo.ListConnected(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list connected connections, polling starts on next status event")
		return
	}

	for i := range conns {
		pollManager.StartForConnection(&conns[i])
	}
	if len(conns) > 0 {
		log.Info().Int("count", len(conns)).Msg("resumed polling loops")
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
