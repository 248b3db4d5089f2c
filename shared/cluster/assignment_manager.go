// shared/cluster/assignment_manager.go
package cluster

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/registry"
	"github.com/stathat/consistent"
	"go.uber.org/zap"
)

// ServiceDirectory lists the live instances of a service type.
type ServiceDirectory interface {
	GetActiveServices(ctx context.Context, serviceType string) (map[string]registry.ServiceInfo, error)
}

// ServiceAssignmentManager helps a service instance determine if it's responsible
// for a given entity (a partition, a singleton task) based on consistent hashing
// across the live instances of its service type.
type ServiceAssignmentManager struct {
	directory      ServiceDirectory
	serviceID      string
	serviceType    string
	updateInterval time.Duration
	logger         *zap.Logger
	consistentHash *consistent.Consistent
	chMux          sync.RWMutex // Protects access to consistentHash
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewServiceAssignmentManager creates a manager whose ring initially holds only
// this instance, so a lone instance owns everything until the first refresh.
func NewServiceAssignmentManager(
	directory ServiceDirectory,
	serviceID, serviceType string,
	updateInterval time.Duration,
	logger *zap.Logger,
) *ServiceAssignmentManager {
	ctx, cancel := context.WithCancel(context.Background())

	sam := &ServiceAssignmentManager{
		directory:      directory,
		serviceID:      serviceID,
		serviceType:    serviceType,
		updateInterval: updateInterval,
		logger:         logger.With(zap.String("service_type", serviceType), zap.String("service_id", serviceID)),
		consistentHash: consistent.New(),
		ctx:            ctx,
		cancel:         cancel,
	}
	sam.consistentHash.Add(serviceID)
	return sam
}

// Start runs the periodic ring refresh until Stop is called. Run it in a goroutine.
func (sam *ServiceAssignmentManager) Start() {
	ticker := time.NewTicker(sam.updateInterval)
	defer ticker.Stop()

	sam.Refresh(sam.ctx)
	for {
		select {
		case <-sam.ctx.Done():
			sam.logger.Info("assignment manager stopped")
			return
		case <-ticker.C:
			sam.Refresh(sam.ctx)
		}
	}
}

// Stop gracefully shuts down the ServiceAssignmentManager.
func (sam *ServiceAssignmentManager) Stop() {
	sam.cancel()
}

// Refresh rebuilds the ring if the set of live instances changed. This instance
// always stays a member while it is running, even before its first heartbeat lands.
func (sam *ServiceAssignmentManager) Refresh(ctx context.Context) {
	activeServices, err := sam.directory.GetActiveServices(ctx, sam.serviceType)
	if err != nil {
		sam.logger.Error("failed to get active services", zap.Error(err))
		return
	}

	members := make([]string, 0, len(activeServices)+1)
	for id := range activeServices {
		members = append(members, id)
	}
	if _, ok := activeServices[sam.serviceID]; !ok {
		members = append(members, sam.serviceID)
	}
	slices.Sort(members)

	sam.chMux.Lock()
	defer sam.chMux.Unlock()

	currentMembers := sam.consistentHash.Members()
	slices.Sort(currentMembers)

	if !slices.Equal(members, currentMembers) {
		newHashRing := consistent.New()
		newHashRing.Set(members)
		sam.consistentHash = newHashRing

		sam.logger.Info("consistent hash ring updated", zap.Strings("members", members))
	}
}

// IsResponsible checks if the current service instance is responsible for the given entity ID.
func (sam *ServiceAssignmentManager) IsResponsible(entityID string) (bool, error) {
	sam.chMux.RLock()
	defer sam.chMux.RUnlock()

	responsibleService, err := sam.consistentHash.Get(entityID)
	if err != nil {
		return false, fmt.Errorf("failed to get responsible service for entity '%s' (type %s): %w", entityID, sam.serviceType, err)
	}
	return responsibleService == sam.serviceID, nil
}
