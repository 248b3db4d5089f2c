// shared/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewUniversalClient creates and returns a configured Redis client. A single address
// yields a standalone client, several addresses a cluster client. The connection is
// verified with a PING before the client is returned.
func NewUniversalClient(addrs []string, password string) (redis.UniversalClient, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no Redis addresses provided")
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  6 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %v: %w", addrs, err)
	}
	return rdb, nil
}

// Pinger reports whether Redis is reachable.
type Pinger struct {
	Client redis.UniversalClient
}

// Ping returns a non-nil error when Redis does not answer.
func (p Pinger) Ping(ctx context.Context) error {
	if err := p.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// ScanDelete removes every key matching pattern. On a cluster the scan runs on each master.
func ScanDelete(ctx context.Context, client redis.UniversalClient, pattern string) (int64, error) {
	if cc, ok := client.(*redis.ClusterClient); ok {
		var total atomic.Int64
		err := cc.ForEachMaster(ctx, func(ctx context.Context, master *redis.Client) error {
			n, err := scanDeleteNode(ctx, master, pattern)
			total.Add(n)
			return err
		})
		return total.Load(), err
	}
	return scanDeleteNode(ctx, client, pattern)
}

func scanDeleteNode(ctx context.Context, client redis.Cmdable, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys matching %s: %w", pattern, err)
		}
		// Keys are deleted one by one because they may hash to different slots.
		for _, key := range keys {
			n, err := client.Del(ctx, key).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete key %s: %w", key, err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
