package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	queryapi "github.com/Ftotnem/GO-PIPELINE/query/api"
	"github.com/Ftotnem/GO-PIPELINE/query/service"
	"github.com/Ftotnem/GO-PIPELINE/shared/api"
	"github.com/Ftotnem/GO-PIPELINE/shared/archive"
	"github.com/Ftotnem/GO-PIPELINE/shared/config"
	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/logging"
	"github.com/Ftotnem/GO-PIPELINE/shared/mongodb"
	"github.com/Ftotnem/GO-PIPELINE/shared/projection"
	redisu "github.com/Ftotnem/GO-PIPELINE/shared/redis"
	"github.com/Ftotnem/GO-PIPELINE/shared/registry"
	"go.uber.org/zap"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := config.LoadQueryServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(registry.QueryServiceType, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("configuration loaded", zap.String("listen_addr", cfg.ListenAddr))

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

	// --- 3. Initialize Projection Readers ---
	partitioner, err := eventlog.NewPartitioner(cfg.Partitions)
	if err != nil {
		logger.Fatal("failed to build partitioner", zap.Error(err))
	}
	presenceStore := projection.NewPresenceStore(redisClient)
	leaderboardStore := projection.NewLeaderboardStore(redisClient, partitioner, 0)
	uniquesStore := projection.NewUniquesStore(redisClient)

	// --- 4. Leaderboard Archive (optional) ---
	var history service.SnapshotReader
	if cfg.ArchiveEnabled {
		mongoClient, err := mongodb.NewClient(context.Background(), cfg.MongoDBConnStr, cfg.MongoDBDatabase, logger)
		if err != nil {
			logger.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(ctx); err != nil {
				logger.Error("error disconnecting MongoDB", zap.Error(err))
			}
		}()
		history = archive.NewStore(mongoClient.Collection(cfg.ArchiveCollection))
	}

	// --- 5. Initialize and Start Service Registrar ---
	registrar := registry.NewServiceRegistrar(redisClient, registry.QueryServiceType, &cfg.CommonConfig, logger)
	registrar.Start()
	defer registrar.Stop()

	registryClient := registry.NewRegistryClient(redisClient, cfg.HeartbeatTTL, logger)

	// --- 6. Initialize Query Service ---
	queryService := service.NewQueryService(
		registryClient,
		redisu.Pinger{Client: redisClient},
		presenceStore,
		leaderboardStore,
		uniquesStore,
		history,
		service.Limits{DefaultLimit: cfg.DefaultLimit, MaxLimit: cfg.MaxLimit},
		logger,
	)

	// --- 7. Setup HTTP Server and Register Routes ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, logger)
	handlers := queryapi.NewQueryAPIHandlers(queryService, cfg.DefaultUniquesMinutes, cfg.RequestTimeout, logger)
	handlers.RegisterRoutes(baseServer.Router)

	// --- 8. Start HTTP Server ---
	go func() {
		if err := baseServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- 9. Graceful Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down query service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
	logger.Info("query service gracefully shut down")
}
