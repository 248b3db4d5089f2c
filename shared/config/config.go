// shared/config/config.go
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// CommonConfig holds configuration fields that are shared across multiple services.
type CommonConfig struct {
	RedisAddrs              []string      `env:"REDIS_ADDRS" envSeparator:"," envDefault:"localhost:6379"` // One address for a single node, several for a cluster
	RedisPassword           string        `env:"REDIS_PASSWORD"`
	HeartbeatInterval       time.Duration `env:"SERVICE_HEARTBEAT_INTERVAL" envDefault:"5s"`         // How often to send a heartbeat to registry
	HeartbeatTTL            time.Duration `env:"SERVICE_HEARTBEAT_TTL" envDefault:"15s"`             // How long an instance is considered alive without a heartbeat
	RegistryCleanupInterval time.Duration `env:"SERVICE_REGISTRY_CLEANUP_INTERVAL" envDefault:"30s"` // How often the registry actively cleans stale entries
	ServiceIP               string        `env:"POD_IP" envDefault:"0.0.0.0"`                        // The IP address this service advertises for registration (Kubernetes Pod IP)
	ServicePort             int           // Derived from the service listen address
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	Partitions              int           `env:"EVENTLOG_PARTITIONS" envDefault:"8"`
	StreamPrefix            string        `env:"EVENTLOG_STREAM_PREFIX" envDefault:"game-actions"`
}

// MongoConfig holds the connection settings for the leaderboard archive.
type MongoConfig struct {
	ArchiveEnabled    bool   `env:"ARCHIVE_ENABLED" envDefault:"true"`
	MongoDBConnStr    string `env:"MONGODB_CONN_STR" envDefault:"mongodb://mongodb-service:27017"`
	MongoDBDatabase   string `env:"MONGODB_DATABASE" envDefault:"game_actions"`
	ArchiveCollection string `env:"MONGODB_ARCHIVE_COLLECTION" envDefault:"leaderboard_archive"`
}

// IngestServiceConfig holds configuration specific to the ingest-service.
type IngestServiceConfig struct {
	CommonConfig
	ListenAddr              string        `env:"INGEST_SERVICE_LISTEN_ADDR" envDefault:":8080"`
	APIKey                  string        `env:"INGEST_API_KEY,notEmpty"`
	RateLimitCapacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"100"`
	RateLimitRefillTokens   int           `env:"RATE_LIMIT_REFILL_TOKENS" envDefault:"100"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
	MaxClockSkew            time.Duration `env:"INGEST_MAX_CLOCK_SKEW" envDefault:"5s"`
	MaxDrinkAmount          int64         `env:"INGEST_MAX_DRINK_AMOUNT" envDefault:"1000"`
	PublishMaxAttempts      uint          `env:"PUBLISH_MAX_ATTEMPTS" envDefault:"5"`
	PublishInitialBackoff   time.Duration `env:"PUBLISH_INITIAL_BACKOFF" envDefault:"50ms"`
	PublishMaxElapsed       time.Duration `env:"PUBLISH_MAX_ELAPSED" envDefault:"2s"`
	StreamMaxLen            int64         `env:"EVENTLOG_MAX_LEN" envDefault:"1000000"` // Approximate per-partition retention
	MinReplicas             int           `env:"EVENTLOG_MIN_REPLICAS" envDefault:"0"`
	ReplicaWaitTimeout      time.Duration `env:"EVENTLOG_REPLICA_WAIT_TIMEOUT" envDefault:"500ms"`
}

// ProjectorServiceConfig holds configuration specific to the projector-service.
type ProjectorServiceConfig struct {
	CommonConfig
	MongoConfig
	ListenAddr          string        `env:"PROJECTOR_SERVICE_LISTEN_ADDR" envDefault:":8082"`
	BatchSize           int64         `env:"PROJECTOR_BATCH_SIZE" envDefault:"100"`
	ReadBlock           time.Duration `env:"PROJECTOR_READ_BLOCK" envDefault:"2s"`
	RebalanceInterval   time.Duration `env:"PROJECTOR_REBALANCE_INTERVAL" envDefault:"5s"`
	LeaseTTL            time.Duration `env:"PROJECTOR_LEASE_TTL" envDefault:"15s"`
	RetryMaxInterval    time.Duration `env:"PROJECTOR_RETRY_MAX_INTERVAL" envDefault:"5s"`
	DedupTTL            time.Duration `env:"PROJECTOR_DEDUP_TTL" envDefault:"24h"` // How long a seen event identity blocks a duplicate increment
	ReplayFromStart     bool          `env:"PROJECTOR_REPLAY_FROM_START" envDefault:"false"`
	ArchiveInterval     time.Duration `env:"ARCHIVE_INTERVAL" envDefault:"1m"`
	ArchiveTimeout      time.Duration `env:"ARCHIVE_TIMEOUT" envDefault:"30s"`
	ArchiveTopN         int64         `env:"ARCHIVE_TOP_N" envDefault:"100"`
	ArchiveActiveWindow time.Duration `env:"ARCHIVE_ACTIVE_WINDOW" envDefault:"1h"` // Matches with a DRINK newer than this are archived
}

// QueryServiceConfig holds configuration specific to the query-service.
type QueryServiceConfig struct {
	CommonConfig
	MongoConfig
	ListenAddr            string        `env:"QUERY_SERVICE_LISTEN_ADDR" envDefault:":8083"`
	DefaultLimit          int           `env:"LEADERBOARD_DEFAULT_LIMIT" envDefault:"10"`
	MaxLimit              int           `env:"LEADERBOARD_MAX_LIMIT" envDefault:"100"`
	DefaultUniquesMinutes int           `env:"UNIQUES_DEFAULT_MINUTES" envDefault:"5"`
	RequestTimeout        time.Duration `env:"QUERY_REQUEST_TIMEOUT" envDefault:"5s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// validate checks the cross-field constraints of the common settings.
func (c *CommonConfig) validate() error {
	if len(c.RedisAddrs) == 0 {
		return fmt.Errorf("REDIS_ADDRS must list at least one address")
	}
	for i, addr := range c.RedisAddrs {
		c.RedisAddrs[i] = strings.TrimSpace(addr)
	}
	if c.Partitions <= 0 {
		return fmt.Errorf("EVENTLOG_PARTITIONS must be a positive integer (got %d)", c.Partitions)
	}
	if c.HeartbeatTTL <= c.HeartbeatInterval {
		return fmt.Errorf("SERVICE_HEARTBEAT_TTL (%v) must be greater than SERVICE_HEARTBEAT_INTERVAL (%v)", c.HeartbeatTTL, c.HeartbeatInterval)
	}
	return nil
}

// extractPort extracts the numeric port from a listen address (e.g., ":8082" -> 8082, "0.0.0.0:8082" -> 8082)
func extractPort(listenAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		if strings.HasPrefix(listenAddr, ":") {
			portStr = strings.TrimPrefix(listenAddr, ":")
		} else {
			return 0, fmt.Errorf("invalid ListenAddr format for port extraction: %w", err)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}
	return port, nil
}

// LoadIngestServiceConfig loads configuration for the ingest-service.
func LoadIngestServiceConfig() (*IngestServiceConfig, error) {
	cfg := &IngestServiceConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load ingest-service config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var err error
	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from INGEST_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	if cfg.RateLimitCapacity <= 0 || cfg.RateLimitRefillTokens <= 0 || cfg.RateLimitRefillInterval <= 0 {
		return nil, fmt.Errorf("rate limit settings must be positive (capacity %d, refill %d per %v)",
			cfg.RateLimitCapacity, cfg.RateLimitRefillTokens, cfg.RateLimitRefillInterval)
	}
	if cfg.MaxDrinkAmount < 1 {
		return nil, fmt.Errorf("INGEST_MAX_DRINK_AMOUNT must be at least 1 (got %d)", cfg.MaxDrinkAmount)
	}
	if cfg.PublishMaxAttempts == 0 {
		return nil, fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.MinReplicas < 0 {
		return nil, fmt.Errorf("EVENTLOG_MIN_REPLICAS must not be negative (got %d)", cfg.MinReplicas)
	}
	return cfg, nil
}

// LoadProjectorServiceConfig loads configuration for the projector-service.
func LoadProjectorServiceConfig() (*ProjectorServiceConfig, error) {
	cfg := &ProjectorServiceConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load projector-service config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var err error
	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from PROJECTOR_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	if cfg.ReadBlock <= 0 {
		return nil, fmt.Errorf("PROJECTOR_READ_BLOCK must be positive (got %v)", cfg.ReadBlock)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("PROJECTOR_BATCH_SIZE must be a positive integer (got %d)", cfg.BatchSize)
	}
	// The lease must outlive at least two rebalance ticks or a healthy owner could lose it between renewals.
	if cfg.LeaseTTL < 2*cfg.RebalanceInterval {
		return nil, fmt.Errorf("PROJECTOR_LEASE_TTL (%v) must be at least twice PROJECTOR_REBALANCE_INTERVAL (%v)", cfg.LeaseTTL, cfg.RebalanceInterval)
	}
	if cfg.ArchiveTopN <= 0 {
		cfg.ArchiveTopN = 100
	}
	return cfg, nil
}

// LoadQueryServiceConfig loads configuration for the query-service.
func LoadQueryServiceConfig() (*QueryServiceConfig, error) {
	cfg := &QueryServiceConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load query-service config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var err error
	cfg.ServicePort, err = extractPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to extract port from QUERY_SERVICE_LISTEN_ADDR '%s': %w", cfg.ListenAddr, err)
	}

	if cfg.DefaultLimit < 1 || cfg.MaxLimit < cfg.DefaultLimit {
		return nil, fmt.Errorf("LEADERBOARD_DEFAULT_LIMIT (%d) must be between 1 and LEADERBOARD_MAX_LIMIT (%d)", cfg.DefaultLimit, cfg.MaxLimit)
	}
	if cfg.DefaultUniquesMinutes < 1 {
		cfg.DefaultUniquesMinutes = 5
	}
	return cfg, nil
}
