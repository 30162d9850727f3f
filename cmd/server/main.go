package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-backend/internal/api"
	"chat-backend/internal/auth"
	"chat-backend/internal/broker"
	"chat-backend/internal/captcha"
	"chat-backend/internal/config"
	"chat-backend/internal/hub"
	"chat-backend/internal/middleware"
	"chat-backend/internal/service"
	"chat-backend/internal/session"
	"chat-backend/internal/ws"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Printf("cannot load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	middleware.InitLogger(cfg.LogFilter)
	logger := middleware.Logger
	defer func() { _ = logger.Sync() }()

	middleware.InitMetrics()

	if err := cfg.ValidateBackends(); err != nil {
		logger.Fatal("invalid backend configuration", zap.Error(err))
	}

	logger.Info("starting chat server",
		zap.String("env", cfg.Environment),
		zap.String("http_address", cfg.HTTPServerAddress))

	// 3. Connect to Database
	dbPool, err := pgxpool.New(context.Background(), cfg.DBSource)
	if err != nil {
		logger.Fatal("cannot connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	// 4. Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("cannot connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	// 5. Setup auth stack
	codec := auth.NewCodec(cfg.GetJWTSigningKey(logger), auth.DefaultAccessTTL, auth.DefaultRefreshTTL)
	hasher := auth.NewArgon2Hasher()
	refreshStore := session.NewRedisStore(redisClient, codec.RefreshTTL())
	authService := service.NewAuthService(dbPool, hasher, codec, refreshStore, logger)

	var captchaService captcha.Service
	switch cfg.CaptchaBackend {
	case "fake":
		logger.Warn("using fake captcha backend")
		captchaService = captcha.NewFakeService()
	default:
		captchaService = captcha.NewRedisService(redisClient)
	}

	// 6. Setup domain services
	userService := service.NewUserService(dbPool, logger)
	relationshipService := service.NewRelationshipService(dbPool, logger)
	conversationService := service.NewConversationService(dbPool, logger)

	// 7. Session hub and broker consumer
	sessionHub := hub.New(conversationService, logger, hub.Config{
		MailboxCap:          cfg.GetHubMailboxCap(logger),
		MaxInflightMessages: cfg.GetHubMaxInflightMessages(logger),
		MaxInflightResults:  cfg.GetHubMaxInflightResults(logger),
		HandlerTimeout:      cfg.GetHubWorkerTimeout(logger),
	})
	fanout := hub.NewFanout(sessionHub, logger)
	consumer := broker.NewConsumer(cfg.GetKafkaBrokers(), cfg.KafkaTopic, cfg.ConsumerGroup, fanout, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			logger.Error("broker consumer stopped", zap.Error(err))
		}
	}()

	// 8. HTTP server
	wsHandler := ws.ServeWS(sessionHub, logger)
	server := api.NewServer(
		authService,
		userService,
		relationshipService,
		conversationService,
		captchaService,
		authService,
		wsHandler,
		logger,
	)

	httpServer := &http.Server{
		Addr:    cfg.HTTPServerAddress,
		Handler: server.Routes(),
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("address", cfg.HTTPServerAddress))
		var err error
		if cfg.HTTPCertPath != "" && cfg.HTTPKeyPath != "" {
			err = httpServer.ListenAndServeTLS(cfg.HTTPCertPath, cfg.HTTPKeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	// 9. Graceful Shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	cancel()
	if err := consumer.Close(); err != nil {
		logger.Error("failed to close broker consumer", zap.Error(err))
	}
	<-consumerDone

	if err := sessionHub.Shutdown(ctxShutdown); err != nil {
		logger.Error("session hub shutdown incomplete", zap.Error(err))
	}

	logger.Info("chat server shutdown complete")
}
