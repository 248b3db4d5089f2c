// ingest/service/publisher.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/metrics"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// PublishError is returned when the event log could not confirm an append
// within the retry budget. The caller may resend the same action.
type PublishError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish event %s after %d attempts: %v", e.EventID, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// LogAppender appends an action to one partition of the event log.
type LogAppender interface {
	Append(ctx context.Context, p eventlog.Partition, action models.GameAction) (eventlog.Receipt, error)
}

// PublisherConfig bounds the retries of a single publish.
type PublisherConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// Publisher appends validated actions to the partition of their match.
type Publisher struct {
	log         LogAppender
	partitioner *eventlog.Partitioner
	cfg         PublisherConfig
	logger      *zap.Logger
}

// NewPublisher creates a new Publisher.
func NewPublisher(log LogAppender, partitioner *eventlog.Partitioner, cfg PublisherConfig, logger *zap.Logger) *Publisher {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 50 * time.Millisecond
	}
	return &Publisher{log: log, partitioner: partitioner, cfg: cfg, logger: logger}
}

// Publish appends action and returns once the log confirmed it. Every retry
// reuses action.EventID, so an append duplicated by a lost acknowledgement is
// recognisable downstream.
func (p *Publisher) Publish(ctx context.Context, action models.GameAction) (eventlog.Receipt, error) {
	partition := p.partitioner.PartitionFor(action.MatchID)
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval

	attempts := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.PublishRetries.Inc()
			p.logger.Warn("event log append failed, retrying",
				zap.String("event_id", action.EventID),
				zap.Stringer("partition", partition),
				zap.Int("attempt", attempts),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	}
	if p.cfg.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.cfg.MaxElapsed))
	}

	receipt, err := backoff.Retry(ctx, func() (eventlog.Receipt, error) {
		attempts++
		r, err := p.log.Append(ctx, partition, action)
		if err != nil && ctx.Err() != nil {
			return r, backoff.Permanent(err)
		}
		return r, err
	}, opts...)
	metrics.PublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return eventlog.Receipt{}, err
		}
		return eventlog.Receipt{}, &PublishError{EventID: action.EventID, Attempts: attempts, Err: err}
	}
	return receipt, nil
}
