// shared/eventlog/producer.go
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/redis/go-redis/v9"
)

// Receipt identifies an appended action in the log.
type Receipt struct {
	Partition Partition
	Offset    string // Redis stream entry ID, e.g. "1718000000000-0"
}

// ProducerOptions tunes durability and retention of appends.
type ProducerOptions struct {
	StreamPrefix string
	MaxLen       int64         // Approximate per-partition retention, 0 for unbounded
	MinReplicas  int           // Replicas that must confirm an append, 0 to skip WAIT
	WaitTimeout  time.Duration // Upper bound for the WAIT call
}

// Producer appends actions to the partitioned Redis stream log.
type Producer struct {
	client redis.UniversalClient
	opts   ProducerOptions
}

// NewProducer creates a new Producer.
func NewProducer(client redis.UniversalClient, opts ProducerOptions) *Producer {
	return &Producer{client: client, opts: opts}
}

// Append writes action to partition p. It returns only after Redis accepted the
// entry and, when MinReplicas is set, that many replicas confirmed it.
func (pr *Producer) Append(ctx context.Context, p Partition, action models.GameAction) (Receipt, error) {
	key := StreamKey(pr.opts.StreamPrefix, p)
	args := &redis.XAddArgs{
		Stream: key,
		Values: encodeAction(action),
	}
	if pr.opts.MaxLen > 0 {
		args.MaxLen = pr.opts.MaxLen
		args.Approx = true
	}

	if pr.opts.MinReplicas <= 0 {
		id, err := pr.client.XAdd(ctx, args).Result()
		if err != nil {
			return Receipt{}, fmt.Errorf("failed to append event %s to %s: %w", action.EventID, key, err)
		}
		return Receipt{Partition: p, Offset: id}, nil
	}

	node, err := pr.nodeFor(ctx, key)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to resolve primary of %s: %w", key, err)
	}

	// WAIT counts replicas that reached the last write of its own connection,
	// so it must share a pipeline with the XADD on the primary of the stream.
	var xadd *redis.StringCmd
	var wait *redis.Cmd
	_, err = node.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		xadd = pipe.XAdd(ctx, args)
		wait = pipe.Do(ctx, "WAIT", pr.opts.MinReplicas, pr.opts.WaitTimeout.Milliseconds())
		return nil
	})
	if err := xadd.Err(); err != nil {
		return Receipt{}, fmt.Errorf("failed to append event %s to %s: %w", action.EventID, key, err)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to wait for replicas of event %s: %w", action.EventID, err)
	}
	acked, err := wait.Int64()
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to wait for replicas of event %s: %w", action.EventID, err)
	}
	if acked < int64(pr.opts.MinReplicas) {
		return Receipt{}, fmt.Errorf("event %s confirmed by %d of %d replicas", action.EventID, acked, pr.opts.MinReplicas)
	}
	return Receipt{Partition: p, Offset: xadd.Val()}, nil
}

type pipeliner interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// nodeFor returns the client to pipeline an append on. A cluster client is
// narrowed to the primary owning key, since WAIT carries no key to route by.
func (pr *Producer) nodeFor(ctx context.Context, key string) (pipeliner, error) {
	if cluster, ok := pr.client.(*redis.ClusterClient); ok {
		return cluster.MasterForKey(ctx, key)
	}
	return pr.client, nil
}
