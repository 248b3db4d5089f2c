// projector/consumer/worker.go
package consumer

import (
	"context"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/projector/projection"
	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/metrics"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// PartitionLog is one partition of the event log as seen by a consumer group member.
type PartitionLog interface {
	Partition() eventlog.Partition
	EnsureGroup(ctx context.Context) error
	ResetGroup(ctx context.Context) error
	ReadPending(ctx context.Context, after string) ([]eventlog.Record, error)
	ReadNew(ctx context.Context) ([]eventlog.Record, error)
	Ack(ctx context.Context, ids ...string) error
}

// PartitionWorker applies the records of one partition to one projection, in log order.
type PartitionWorker struct {
	log              PartitionLog
	proj             projection.Projection
	retryInterval    time.Duration
	retryMaxInterval time.Duration
	logger           *zap.Logger
	now              func() time.Time
}

// NewPartitionWorker creates a worker. retryMaxInterval caps the backoff between
// failed reads and failed projection writes.
func NewPartitionWorker(log PartitionLog, proj projection.Projection, retryMaxInterval time.Duration, logger *zap.Logger) *PartitionWorker {
	if retryMaxInterval <= 0 {
		retryMaxInterval = 5 * time.Second
	}
	return &PartitionWorker{
		log:              log,
		proj:             proj,
		retryInterval:    100 * time.Millisecond,
		retryMaxInterval: retryMaxInterval,
		logger:           logger.With(zap.String("projection", proj.Name()), zap.Stringer("partition", log.Partition())),
		now:              time.Now,
	}
}

// Run consumes the partition until ctx is cancelled. Entries left pending by an
// earlier run are applied first, then new entries. A record is acknowledged only
// after the projection accepted it.
func (w *PartitionWorker) Run(ctx context.Context) {
	w.logger.Info("partition worker started")
	defer w.logger.Info("partition worker stopped")

	if err := w.retry(ctx, "create consumer group", func() error { return w.log.EnsureGroup(ctx) }); err != nil {
		return
	}

	cursor := "0"
	for ctx.Err() == nil {
		var records []eventlog.Record
		err := w.retry(ctx, "read pending entries", func() error {
			var err error
			records, err = w.log.ReadPending(ctx, cursor)
			return err
		})
		if err != nil {
			return
		}
		if len(records) == 0 {
			break
		}
		w.logger.Info("replaying pending entries", zap.Int("count", len(records)), zap.String("after", cursor))
		if !w.process(ctx, records) {
			return
		}
		cursor = records[len(records)-1].ID
	}

	for ctx.Err() == nil {
		var records []eventlog.Record
		err := w.retry(ctx, "read new entries", func() error {
			var err error
			records, err = w.log.ReadNew(ctx)
			return err
		})
		if err != nil {
			return
		}
		if !w.process(ctx, records) {
			return
		}
	}
}

// process applies and acknowledges records in order. It returns false if ctx
// was cancelled before every record was handled.
func (w *PartitionWorker) process(ctx context.Context, records []eventlog.Record) bool {
	name := w.proj.Name()
	for _, rec := range records {
		if rec.Err != nil {
			w.logger.Warn("skipping malformed record", zap.String("id", rec.ID), zap.Error(rec.Err))
			metrics.RecordsSkipped.WithLabelValues(name, "malformed").Inc()
		} else {
			err := w.retry(ctx, "apply record", func() error {
				if err := w.proj.Apply(ctx, rec); err != nil {
					metrics.ApplyFailures.WithLabelValues(name).Inc()
					return err
				}
				return nil
			})
			if err != nil {
				return false
			}
			metrics.RecordsProcessed.WithLabelValues(name).Inc()
			metrics.ProjectionLag.WithLabelValues(name, rec.Partition.String()).
				Set(w.now().Sub(rec.Action.OccurredAt).Seconds())
		}

		if err := w.retry(ctx, "acknowledge record", func() error { return w.log.Ack(ctx, rec.ID) }); err != nil {
			return false
		}
	}
	return true
}

// retry runs op until it succeeds or ctx is cancelled, backing off exponentially.
// It returns a non-nil error only when ctx ended first.
func (w *PartitionWorker) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryInterval
	b.MaxInterval = w.retryMaxInterval

	for {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		w.logger.Warn("operation failed, retrying", zap.String("op", what), zap.Duration("next", wait), zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
