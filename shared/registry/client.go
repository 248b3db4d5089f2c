// shared/registry/client.go
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RegistryClient reads the registry. It is separate from ServiceRegistrar so that
// services can look up others without registering themselves.
type RegistryClient struct {
	redisClient    redis.UniversalClient
	serviceTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewRegistryClient takes an already initialized Redis client. Instances whose last
// heartbeat is older than serviceTimeout are treated as gone.
func NewRegistryClient(redisClient redis.UniversalClient, serviceTimeout time.Duration, logger *zap.Logger) *RegistryClient {
	return &RegistryClient{
		redisClient:    redisClient,
		serviceTimeout: serviceTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// GetActiveServices retrieves a map of active service instances for a given service type.
// The map key is the instance ID, and the value is the ServiceInfo.
func (rc *RegistryClient) GetActiveServices(ctx context.Context, serviceType string) (map[string]ServiceInfo, error) {
	key := RedisRegistryHashPrefix + serviceType
	results, err := rc.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get all services of type %s from Redis: %w", serviceType, err)
	}

	activeServices := make(map[string]ServiceInfo)
	currentTime := rc.now()

	for instanceID, infoJSON := range results {
		var info ServiceInfo
		if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
			rc.logger.Warn("skipping malformed registry entry",
				zap.String("instance_id", instanceID), zap.String("service_type", serviceType), zap.Error(err))
			continue // cleaned up by the registrar's cleanup loop
		}
		if currentTime.Sub(time.UnixMilli(info.LastSeen)) <= rc.serviceTimeout {
			activeServices[instanceID] = info
		}
	}
	return activeServices, nil
}
