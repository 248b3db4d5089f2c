package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ingestapi "github.com/Ftotnem/GO-PIPELINE/ingest/api"
	"github.com/Ftotnem/GO-PIPELINE/ingest/service"
	"github.com/Ftotnem/GO-PIPELINE/shared/api"
	"github.com/Ftotnem/GO-PIPELINE/shared/config"
	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/logging"
	"github.com/Ftotnem/GO-PIPELINE/shared/metrics"
	redisu "github.com/Ftotnem/GO-PIPELINE/shared/redis"
	"github.com/Ftotnem/GO-PIPELINE/shared/registry"
	"go.uber.org/zap"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := config.LoadIngestServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(registry.IngestServiceType, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("configuration loaded", zap.String("listen_addr", cfg.ListenAddr), zap.Int("partitions", cfg.Partitions))

	// --- 2. Connect to Redis ---
	redisClient, err := redisu.NewUniversalClient(cfg.RedisAddrs, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("error closing Redis client", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis", zap.Strings("addrs", cfg.RedisAddrs))

	// --- 3. Initialize Event Log Producer ---
	partitioner, err := eventlog.NewPartitioner(cfg.Partitions)
	if err != nil {
		logger.Fatal("failed to build partitioner", zap.Error(err))
	}
	producer := eventlog.NewProducer(redisClient, eventlog.ProducerOptions{
		StreamPrefix: cfg.StreamPrefix,
		MaxLen:       cfg.StreamMaxLen,
		MinReplicas:  cfg.MinReplicas,
		WaitTimeout:  cfg.ReplicaWaitTimeout,
	})

	// --- 4. Initialize Validator and Publisher ---
	validator := service.NewValidator(service.ValidatorConfig{
		MaxDrinkAmount: cfg.MaxDrinkAmount,
		MaxClockSkew:   cfg.MaxClockSkew,
	})
	publisher := service.NewPublisher(producer, partitioner, service.PublisherConfig{
		MaxAttempts:     cfg.PublishMaxAttempts,
		InitialInterval: cfg.PublishInitialBackoff,
		MaxElapsed:      cfg.PublishMaxElapsed,
	}, logger)

	// --- 5. Initialize and Start Service Registrar ---
	registrar := registry.NewServiceRegistrar(redisClient, registry.IngestServiceType, &cfg.CommonConfig, logger)
	registrar.Start()
	defer registrar.Stop()

	// --- 6. Setup HTTP Server and Register Routes ---
	limiter := api.NewRateLimiter(api.RateLimiterConfig{
		Capacity:       cfg.RateLimitCapacity,
		RefillTokens:   cfg.RateLimitRefillTokens,
		RefillInterval: cfg.RateLimitRefillInterval,
	})
	limiter.OnReject = func(r *http.Request) {
		metrics.ActionsRejected.WithLabelValues("rate_limited").Inc()
	}

	baseServer := api.NewBaseServer(cfg.ListenAddr, logger)
	handlers := ingestapi.NewIngestAPIHandlers(validator, publisher, cfg.PublishMaxElapsed, logger)
	handlers.RegisterRoutes(baseServer.Router, cfg.APIKey, limiter)

	// --- 7. Start HTTP Server ---
	go func() {
		if err := baseServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- 8. Graceful Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down ingest service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
	logger.Info("ingest service gracefully shut down")
}
