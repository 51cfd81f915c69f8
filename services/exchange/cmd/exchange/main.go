package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sabikalabs/sabika/libs/auth"
	"github.com/sabikalabs/sabika/libs/health"
	"github.com/sabikalabs/sabika/libs/httpmiddleware"
	"github.com/sabikalabs/sabika/libs/kafka"
	"github.com/sabikalabs/sabika/libs/logging"
	"github.com/sabikalabs/sabika/libs/metrics"
	"github.com/sabikalabs/sabika/libs/trace"
	"github.com/sabikalabs/sabika/services/exchange/internal/asset"
	"github.com/sabikalabs/sabika/services/exchange/internal/config"
	"github.com/sabikalabs/sabika/services/exchange/internal/consumer"
	"github.com/sabikalabs/sabika/services/exchange/internal/engine"
	"github.com/sabikalabs/sabika/services/exchange/internal/events"
	"github.com/sabikalabs/sabika/services/exchange/internal/fees"
	"github.com/sabikalabs/sabika/services/exchange/internal/handlers"
	"github.com/sabikalabs/sabika/services/exchange/internal/ledger"
	"github.com/sabikalabs/sabika/services/exchange/internal/lifecycle"
	"github.com/sabikalabs/sabika/services/exchange/internal/marketdata"
	"github.com/sabikalabs/sabika/services/exchange/internal/service"
	"github.com/shopspring/decimal"
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

	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg.Instruments)
	if err != nil {
		logger.Error("instrument registry invalid", "error", err)
		os.Exit(1)
	}

	schedule, err := fees.NewSchedule(cfg.Fees.TierBps, cfg.Fees.DefaultTier, cfg.Fees.PlatformBps, cfg.Fees.Places)
	if err != nil {
		logger.Error("fee schedule invalid", "error", err)
		os.Exit(1)
	}

	platformID, err := uuid.Parse(cfg.Engine.PlatformFeeAcc)
	if err != nil {
		logger.Error("platform account id invalid", "error", err)
		os.Exit(1)
	}
	wallets := ledger.New(platformID, logging.WithComponent(logger, "ledger"))

	promRegistry := prometheus.NewRegistry()
	metrics.Register(promRegistry)
	engineMetrics := service.NewEngineMetrics(promRegistry)
	producerMetrics := kafka.NewProducerMetrics(promRegistry)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logging.WithComponent(logger, "kafka"), producerMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	publisher := kafka.NewDLQPublisher(producer, producer, cfg.Kafka.DLQTopic, logging.WithComponent(logger, "kafka"))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	priceCache := marketdata.NewCache(redisClient, logging.WithComponent(logger, "marketdata"))

	sink := events.NewAsyncSink(events.MultiSink{
		events.NewKafkaSink(publisher, cfg.Kafka.TradesTopic, cfg.Kafka.OrdersTopic, logging.WithComponent(logger, "events")),
		priceCache,
	}, 1024)
	eng := engine.New(wallets, schedule, sink, logging.WithComponent(logger, "engine"), engineMetrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	priceCache.SeedEngine(ctx, eng, registry.Symbols())

	controller := lifecycle.NewController(registry, wallets, eng, schedule, cfg.Engine.SlippageBps, logging.WithComponent(logger, "lifecycle"))

	priceConsumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, logging.WithComponent(logger, "consumer"))
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	priceConsumer.WithDLQ(publisher, cfg.Kafka.DLQTopic)
	go func() {
		handler := consumer.NewPriceHandler(registry, eng, logging.WithComponent(logger, "prices"))
		if err := priceConsumer.Consume(ctx, []string{cfg.Kafka.PricesTopic}, handler); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("price consumer stopped", "error", err)
		}
	}()

	sweep := cfg.Engine.ExpirySweep
	if sweep <= 0 {
		sweep = time.Second
	}
	go func() {
		ticker := time.NewTicker(sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				controller.ExpireDue(ctx, now.UTC())
			}
		}
	}()

	healthMgr := health.NewManager(false)
	router := buildRouter(cfg, logger, promRegistry, healthMgr, controller, registry, eng, wallets)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("exchange listening", "addr", srv.Addr, "instruments", registry.Symbols())
		healthMgr.SetReady(true)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthMgr.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := priceConsumer.Close(); err != nil {
		logger.Error("consumer close failed", "error", err)
	}
	if err := sink.Close(); err != nil {
		logger.Error("event sink close failed", "error", err)
	}
	if err := publisher.Close(); err != nil {
		logger.Error("producer close failed", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("redis close failed", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", "error", err)
	}
	logger.Info("shutdown complete", "open_orders", eng.OpenOrders())
}

func buildRegistry(instruments []config.InstrumentConfig) (*asset.Registry, error) {
	registry := asset.NewRegistry()
	for _, ic := range instruments {
		inst, err := asset.ParseSymbol(ic.Symbol)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", ic.Symbol, err)
		}
		limits, err := parseLimits(ic)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", ic.Symbol, err)
		}
		if err := registry.Add(inst, limits); err != nil {
			return nil, fmt.Errorf("instrument %q: %w", ic.Symbol, err)
		}
	}
	return registry, nil
}

func parseLimits(ic config.InstrumentConfig) (asset.Limits, error) {
	var limits asset.Limits
	if ic.MinQty != "" {
		min, err := decimal.NewFromString(ic.MinQty)
		if err != nil {
			return asset.Limits{}, fmt.Errorf("min_qty: %w", err)
		}
		limits.MinQty = min
	}
	if ic.MaxQty != "" {
		max, err := decimal.NewFromString(ic.MaxQty)
		if err != nil {
			return asset.Limits{}, fmt.Errorf("max_qty: %w", err)
		}
		limits.MaxQty = max
	}
	return limits, nil
}

func buildRouter(
	cfg *config.Config,
	logger *slog.Logger,
	promRegistry *prometheus.Registry,
	healthMgr *health.Manager,
	controller *lifecycle.Controller,
	registry *asset.Registry,
	eng *engine.Engine,
	wallets *ledger.Ledger,
) *gin.Engine {
	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.Logger(logger),
		httpmiddleware.Recovery(logger),
		trace.Middleware(cfg.App.ServiceName),
	)

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(healthMgr))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(promRegistry)))

	v1 := router.Group("/v1")
	v1.Use(auth.Middleware([]byte(cfg.JWT.Secret)))
	handlers.NewOrderHandler(controller, logging.WithComponent(logger, "handlers")).Register(v1)
	handlers.NewMarketDataHandler(registry, eng).Register(v1)
	handlers.NewWalletHandler(wallets, logging.WithComponent(logger, "handlers")).Register(v1)

	return router
}
