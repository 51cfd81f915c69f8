package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sabikalabs/sabika/libs/health"
	"github.com/sabikalabs/sabika/libs/httpmiddleware"
	"github.com/sabikalabs/sabika/libs/kafka"
	"github.com/sabikalabs/sabika/libs/logging"
	"github.com/sabikalabs/sabika/libs/metrics"
	"github.com/sabikalabs/sabika/services/archiver/internal/config"
	"github.com/sabikalabs/sabika/services/archiver/internal/consumer"
	"github.com/sabikalabs/sabika/services/archiver/internal/storage"
	"log/slog"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, logging.WithComponent(logger, "storage"))
	if err != nil {
		logger.Error("postgres init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	metrics.Register(promRegistry)
	producerMetrics := kafka.NewProducerMetrics(promRegistry)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logging.WithComponent(logger, "kafka"), producerMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}

	group, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, logging.WithComponent(logger, "consumer"))
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	group.WithDLQ(producer, cfg.Kafka.DLQTopic)

	healthMgr := health.NewManager(false)
	go func() {
		archiver := consumer.NewArchiver(store, cfg.Kafka.TradesTopic, cfg.Kafka.OrdersTopic, logging.WithComponent(logger, "archiver"))
		healthMgr.SetReady(true)
		err := group.Consume(ctx, []string{cfg.Kafka.TradesTopic, cfg.Kafka.OrdersTopic}, archiver)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("archiver consumer stopped", "error", err)
		}
		healthMgr.SetReady(false)
	}()

	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(httpmiddleware.RequestID(), httpmiddleware.Logger(logger), httpmiddleware.Recovery(logger))
	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(healthMgr))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(promRegistry)))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
	go func() {
		logger.Info("archiver listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := group.Close(); err != nil {
		logger.Error("consumer close failed", "error", err)
	}
	if err := producer.Close(); err != nil {
		logger.Error("producer close failed", "error", err)
	}
	logger.Info("shutdown complete")
}
