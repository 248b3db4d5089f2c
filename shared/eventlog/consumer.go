// shared/eventlog/consumer.go
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/redis/go-redis/v9"
)

// Record is one entry read from a partition. Err is set, and Action is
// incomplete, when the entry could not be decoded.
type Record struct {
	ID        string
	Partition Partition
	Action    models.GameAction
	Err       error
}

// ConsumerOptions configures a consumer group reader.
type ConsumerOptions struct {
	StreamPrefix string
	Group        string
	Name         string        // Consumer name inside the group
	BatchSize    int64         // Max entries per read
	Block        time.Duration // How long ReadNew waits for entries, <= 0 to return immediately
}

// Consumer reads one partition of the log as a member of a consumer group.
type Consumer struct {
	client    redis.UniversalClient
	partition Partition
	stream    string
	opts      ConsumerOptions
}

// NewConsumer creates a consumer of partition p.
func NewConsumer(client redis.UniversalClient, p Partition, opts ConsumerOptions) *Consumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Consumer{
		client:    client,
		partition: p,
		stream:    StreamKey(opts.StreamPrefix, p),
		opts:      opts,
	}
}

// Partition returns the partition this consumer reads.
func (c *Consumer) Partition() Partition {
	return c.partition
}

// EnsureGroup creates the consumer group at the start of the stream, creating
// the stream if needed. An existing group is left untouched.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", c.opts.Group, c.stream, err)
	}
	return nil
}

// ResetGroup rewinds the consumer group to the start of the stream so every
// retained entry is delivered again. The group is recreated rather than moved,
// which also drops the pending entries of all its consumers.
func (c *Consumer) ResetGroup(ctx context.Context) error {
	if err := c.client.XGroupDestroy(ctx, c.stream, c.opts.Group).Err(); err != nil {
		return fmt.Errorf("failed to drop consumer group %s on %s: %w", c.opts.Group, c.stream, err)
	}
	if err := c.client.XGroupCreateMkStream(ctx, c.stream, c.opts.Group, "0").Err(); err != nil {
		return fmt.Errorf("failed to rewind consumer group %s on %s: %w", c.opts.Group, c.stream, err)
	}
	return nil
}

// ReadPending returns entries already delivered to this consumer but not yet
// acknowledged, with IDs greater than after. Pass "0" to start from the beginning.
func (c *Consumer) ReadPending(ctx context.Context, after string) ([]Record, error) {
	return c.read(ctx, after, -1)
}

// ReadNew returns entries never delivered to the group, waiting up to the configured block time.
func (c *Consumer) ReadNew(ctx context.Context) ([]Record, error) {
	block := c.opts.Block
	if block <= 0 {
		block = -1
	}
	return c.read(ctx, ">", block)
}

func (c *Consumer) read(ctx context.Context, id string, block time.Duration) ([]Record, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Name,
		Streams:  []string{c.stream, id},
		Count:    c.opts.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s as %s/%s: %w", id, c.stream, c.opts.Group, c.opts.Name, err)
	}

	var records []Record
	for _, s := range streams {
		for _, msg := range s.Messages {
			rec := Record{ID: msg.ID, Partition: c.partition}
			rec.Action, rec.Err = decodeAction(msg.Values)
			records = append(records, rec)
		}
	}
	return records, nil
}

// Ack marks entries as processed by the group.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.opts.Group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack %d entries on %s: %w", len(ids), c.stream, err)
	}
	return nil
}
