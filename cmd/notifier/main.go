package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chat-backend/internal/broker"
	"chat-backend/internal/config"
	"chat-backend/internal/middleware"
	"chat-backend/internal/outbox"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	logger.Info("starting outbox notifier",
		zap.String("env", cfg.Environment),
		zap.Int("batch_size", cfg.GetOutboxBatchSize(logger)),
		zap.Duration("idle_sleep", cfg.GetOutboxIdleSleep(logger)),
		zap.Duration("backoff", cfg.GetOutboxBackoff(logger)))

	// 3. Connect to Database
	dbPool, err := pgxpool.New(context.Background(), cfg.DBSource)
	if err != nil {
		logger.Fatal("cannot connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	// 4. Kafka publisher
	publisher := broker.NewKafkaPublisher(cfg.GetKafkaBrokers(), cfg.KafkaTopic)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close kafka publisher", zap.Error(err))
		}
	}()

	// 5. Notifier
	notifier := outbox.NewNotifier(dbPool, publisher, logger, outbox.NotifierConfig{
		BatchSize: cfg.GetOutboxBatchSize(logger),
		IdleSleep: cfg.GetOutboxIdleSleep(logger),
		Backoff:   cfg.GetOutboxBackoff(logger),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go notifier.Run(ctx)

	// 6. Metrics endpoint
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.HTTPServerAddress,
		Handler: metricsMux,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("outbox notifier is running")

	// 7. Graceful Shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	notifier.Stop()
	_ = metricsServer.Close()

	logger.Info("outbox notifier shutdown complete")
}
