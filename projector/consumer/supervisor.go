// projector/consumer/supervisor.go
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/projector/projection"
	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/metrics"
	"go.uber.org/zap"
)

// Ownership tells whether this instance should process an entity.
type Ownership interface {
	IsResponsible(entityID string) (bool, error)
}

// Lease guards exclusive consumption of one partition by one projection.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LogFactory opens partition p for the consumer group of a projection.
// consumerName is stable per partition so a new owner resumes the pending entries of the previous one.
type LogFactory func(p eventlog.Partition, group, consumerName string) PartitionLog

// LeaseFactory creates the lease of partition p for a projection.
type LeaseFactory func(p eventlog.Partition, projectionName string) Lease

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Partitions        []eventlog.Partition
	RebalanceInterval time.Duration
	RetryMaxInterval  time.Duration
	// ReplayFromStart rebuilds each projection from the start of the log the
	// first time this process takes a partition.
	ReplayFromStart bool
}

type laneKey struct {
	projection string
	partition  eventlog.Partition
}

type lane struct {
	lease  Lease
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs one PartitionWorker per (projection, owned partition) and moves
// workers when partition ownership changes.
type Supervisor struct {
	cfg         SupervisorConfig
	projections []projection.Projection
	ownership   Ownership
	openLog     LogFactory
	newLease    LeaseFactory
	logger      *zap.Logger

	mu       sync.Mutex
	lanes    map[laneKey]*lane
	replayed map[laneKey]bool
}

// NewSupervisor creates a Supervisor for projections.
func NewSupervisor(
	cfg SupervisorConfig,
	projections []projection.Projection,
	ownership Ownership,
	openLog LogFactory,
	newLease LeaseFactory,
	logger *zap.Logger,
) *Supervisor {
	if cfg.RebalanceInterval <= 0 {
		cfg.RebalanceInterval = 5 * time.Second
	}
	return &Supervisor{
		cfg:         cfg,
		projections: projections,
		ownership:   ownership,
		openLog:     openLog,
		newLease:    newLease,
		logger:      logger,
		lanes:       make(map[laneKey]*lane),
		replayed:    make(map[laneKey]bool),
	}
}

// ConsumerName is the consumer group member name of a partition.
func ConsumerName(projectionName string, p eventlog.Partition) string {
	return fmt.Sprintf("%s-%s", projectionName, p)
}

// Run rebalances on every tick until ctx is cancelled, then stops all workers
// and releases their leases.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RebalanceInterval)
	defer ticker.Stop()

	s.logger.Info("projection supervisor started",
		zap.Int("partitions", len(s.cfg.Partitions)), zap.Duration("rebalance_interval", s.cfg.RebalanceInterval))

	s.rebalance(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.logger.Info("projection supervisor stopped")
			return
		case <-ticker.C:
			s.rebalance(ctx)
		}
	}
}

// rebalance starts workers for newly owned partitions, renews the leases of
// running workers and stops workers whose partition moved away.
func (s *Supervisor) rebalance(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, proj := range s.projections {
		active := 0
		for _, p := range s.cfg.Partitions {
			key := laneKey{projection: proj.Name(), partition: p}
			owned, err := s.ownership.IsResponsible(p.String())
			if err != nil {
				// Keep the current assignment until ownership can be decided again.
				s.logger.Warn("failed to resolve partition owner", zap.Stringer("partition", p), zap.Error(err))
				if _, running := s.lanes[key]; !running {
					continue
				}
				owned = true
			}

			if l, running := s.lanes[key]; running {
				if !owned {
					s.logger.Info("partition moved away, stopping worker",
						zap.String("projection", key.projection), zap.Stringer("partition", p))
					s.stopLane(key, l, true)
					continue
				}
				ok, err := l.lease.Renew(ctx)
				if err != nil {
					// The lease TTL spans several ticks, the next renewal may still succeed.
					s.logger.Warn("failed to renew partition lease",
						zap.String("projection", key.projection), zap.Stringer("partition", p), zap.Error(err))
				} else if !ok {
					s.logger.Warn("partition lease lost, stopping worker",
						zap.String("projection", key.projection), zap.Stringer("partition", p))
					s.stopLane(key, l, false)
					continue
				}
				active++
				continue
			}

			if owned && ctx.Err() == nil && s.startLane(ctx, proj, p) {
				active++
			}
		}
		metrics.ActiveWorkers.WithLabelValues(proj.Name()).Set(float64(active))
	}
}

// startLane acquires the partition lease and starts a worker. It reports
// whether a worker is now running.
func (s *Supervisor) startLane(ctx context.Context, proj projection.Projection, p eventlog.Partition) bool {
	key := laneKey{projection: proj.Name(), partition: p}
	logger := s.logger.With(zap.String("projection", key.projection), zap.Stringer("partition", p))

	lease := s.newLease(p, key.projection)
	ok, err := lease.Acquire(ctx)
	if err != nil {
		logger.Warn("failed to acquire partition lease", zap.Error(err))
		return false
	}
	if !ok {
		logger.Debug("partition lease held by another instance")
		return false
	}

	log := s.openLog(p, key.projection, ConsumerName(key.projection, p))

	if s.cfg.ReplayFromStart && !s.replayed[key] {
		if err := s.replay(ctx, proj, log); err != nil {
			logger.Error("failed to prepare replay, will retry", zap.Error(err))
			if err := lease.Release(ctx); err != nil {
				logger.Warn("failed to release partition lease", zap.Error(err))
			}
			return false
		}
		s.replayed[key] = true
		logger.Info("projection reset, replaying partition from the start of the log")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	l := &lane{lease: lease, cancel: cancel, done: make(chan struct{})}
	worker := NewPartitionWorker(log, proj, s.cfg.RetryMaxInterval, s.logger)
	go func() {
		defer close(l.done)
		worker.Run(workerCtx)
	}()

	s.lanes[key] = l
	logger.Info("partition worker assigned")
	return true
}

func (s *Supervisor) replay(ctx context.Context, proj projection.Projection, log PartitionLog) error {
	if err := proj.Reset(ctx, log.Partition()); err != nil {
		return err
	}
	if err := log.EnsureGroup(ctx); err != nil {
		return err
	}
	return log.ResetGroup(ctx)
}

// stopLane cancels a worker and waits for it to return. The lease is released
// only when this instance still holds it.
func (s *Supervisor) stopLane(key laneKey, l *lane, release bool) {
	l.cancel()
	<-l.done
	delete(s.lanes, key)

	if !release {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.lease.Release(ctx); err != nil {
		s.logger.Warn("failed to release partition lease",
			zap.String("projection", key.projection), zap.Stringer("partition", key.partition), zap.Error(err))
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, l := range s.lanes {
		s.stopLane(key, l, true)
	}
	for _, proj := range s.projections {
		metrics.ActiveWorkers.WithLabelValues(proj.Name()).Set(0)
	}
}

// ActiveLanes returns the number of running workers.
func (s *Supervisor) ActiveLanes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}
