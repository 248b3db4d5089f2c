package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/projector/archiver"
	"github.com/Ftotnem/GO-PIPELINE/projector/consumer"
	"github.com/Ftotnem/GO-PIPELINE/projector/projection"
	"github.com/Ftotnem/GO-PIPELINE/shared/api"
	"github.com/Ftotnem/GO-PIPELINE/shared/archive"
	"github.com/Ftotnem/GO-PIPELINE/shared/cluster"
	"github.com/Ftotnem/GO-PIPELINE/shared/config"
	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/logging"
	"github.com/Ftotnem/GO-PIPELINE/shared/mongodb"
	sharedprojection "github.com/Ftotnem/GO-PIPELINE/shared/projection"
	redisu "github.com/Ftotnem/GO-PIPELINE/shared/redis"
	"github.com/Ftotnem/GO-PIPELINE/shared/registry"
	"go.uber.org/zap"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := config.LoadProjectorServiceConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(registry.ProjectorServiceType, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	logger.Info("configuration loaded",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Int("partitions", cfg.Partitions),
		zap.Bool("replay_from_start", cfg.ReplayFromStart))

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

	// --- 3. Initialize Projection Stores ---
	partitioner, err := eventlog.NewPartitioner(cfg.Partitions)
	if err != nil {
		logger.Fatal("failed to build partitioner", zap.Error(err))
	}
	presenceStore := sharedprojection.NewPresenceStore(redisClient)
	leaderboardStore := sharedprojection.NewLeaderboardStore(redisClient, partitioner, cfg.DedupTTL)
	uniquesStore := sharedprojection.NewUniquesStore(redisClient)

	projections := []projection.Projection{
		projection.NewPresence(presenceStore),
		projection.NewLeaderboard(leaderboardStore, uniquesStore),
	}

	// --- 4. Initialize and Start Service Registrar ---
	registrar := registry.NewServiceRegistrar(redisClient, registry.ProjectorServiceType, &cfg.CommonConfig, logger)
	registrar.Start()
	defer registrar.Stop()

	// --- 5. Partition Ownership ---
	// Owners are recomputed from the registry as projector instances come and go.
	registryClient := registry.NewRegistryClient(redisClient, cfg.HeartbeatTTL, logger)
	assignments := cluster.NewServiceAssignmentManager(
		registryClient, registrar.GetServiceID(), registry.ProjectorServiceType, cfg.RebalanceInterval, logger)
	go assignments.Start()
	defer assignments.Stop()

	// --- 6. Start Projection Supervisor ---
	openLog := func(p eventlog.Partition, group, consumerName string) consumer.PartitionLog {
		return eventlog.NewConsumer(redisClient, p, eventlog.ConsumerOptions{
			StreamPrefix: cfg.StreamPrefix,
			Group:        group,
			Name:         consumerName,
			BatchSize:    cfg.BatchSize,
			Block:        cfg.ReadBlock,
		})
	}
	newLease := func(p eventlog.Partition, projectionName string) consumer.Lease {
		key := fmt.Sprintf(redisu.ProjectorLeaseKeyFmt, p, projectionName)
		return cluster.NewLease(redisClient, key, registrar.GetServiceID(), cfg.LeaseTTL)
	}
	supervisor := consumer.NewSupervisor(consumer.SupervisorConfig{
		Partitions:        partitioner.Partitions(),
		RebalanceInterval: cfg.RebalanceInterval,
		RetryMaxInterval:  cfg.RetryMaxInterval,
		ReplayFromStart:   cfg.ReplayFromStart,
	}, projections, assignments, openLog, newLease, logger)

	runCtx, stopSupervisor := context.WithCancel(context.Background())
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		supervisor.Run(runCtx)
	}()

	// --- 7. Leaderboard Archive (MongoDB) ---
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

		archiveStore := archive.NewStore(mongoClient.Collection(cfg.ArchiveCollection))
		leaderboardArchiver := archiver.NewLeaderboardArchiver(archiver.Config{
			Interval:     cfg.ArchiveInterval,
			Timeout:      cfg.ArchiveTimeout,
			TopN:         int(cfg.ArchiveTopN),
			ActiveWindow: cfg.ArchiveActiveWindow,
		}, leaderboardStore, archiveStore, assignments, logger)
		go leaderboardArchiver.Start()
		defer leaderboardArchiver.Stop()
	} else {
		logger.Info("leaderboard archive disabled")
	}

	// --- 8. Metrics Endpoint ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, logger)
	go func() {
		if err := baseServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- 9. Graceful Shutdown ---
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down projector service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	stopSupervisor()
	select {
	case <-supervisorDone:
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for partition workers to stop")
	}

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
	logger.Info("projector service gracefully shut down")
}
