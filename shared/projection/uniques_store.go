// shared/projection/uniques_store.go
package projection

import (
	"context"
	"fmt"
	"time"

	redisu "github.com/Ftotnem/GO-PIPELINE/shared/redis"
	"github.com/redis/go-redis/v9"
)

const (
	uniquesBucketTTL = time.Hour
	// MaxUniquesMinutes bounds how many minute buckets one count may merge.
	MaxUniquesMinutes = 60
)

// UniquesStore estimates distinct drinkers with one HyperLogLog per UTC minute.
type UniquesStore struct {
	client redis.UniversalClient
}

// NewUniquesStore creates and returns a new UniquesStore instance.
func NewUniquesStore(client redis.UniversalClient) *UniquesStore {
	return &UniquesStore{client: client}
}

// Add records userID as a drinker in the minute bucket of at. Re-adding is a no-op.
func (us *UniquesStore) Add(ctx context.Context, userID string, at time.Time) error {
	key := bucketKey(at)
	pipe := us.client.Pipeline()
	pipe.PFAdd(ctx, key, userID)
	pipe.Expire(ctx, key, uniquesBucketTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add unique drinker %s to %s: %w", userID, key, err)
	}
	return nil
}

// Count estimates distinct drinkers over the last `minutes` minute buckets, the
// bucket of now included.
func (us *UniquesStore) Count(ctx context.Context, now time.Time, minutes int) (int64, error) {
	if minutes < 1 || minutes > MaxUniquesMinutes {
		return 0, fmt.Errorf("minutes must be between 1 and %d (got %d)", MaxUniquesMinutes, minutes)
	}
	keys := make([]string, 0, minutes)
	for i := 0; i < minutes; i++ {
		keys = append(keys, bucketKey(now.Add(-time.Duration(i)*time.Minute)))
	}
	n, err := us.client.PFCount(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count unique drinkers: %w", err)
	}
	return n, nil
}

func bucketKey(at time.Time) string {
	return redisu.UniqueDrinkersKeyPrefix + at.UTC().Format(redisu.UniqueDrinkersBucketLayout)
}
