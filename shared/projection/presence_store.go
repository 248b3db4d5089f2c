// shared/projection/presence_store.go
package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	redisu "github.com/Ftotnem/GO-PIPELINE/shared/redis"
	"github.com/redis/go-redis/v9"
)

// PresenceWindow is how long after its last action a user still counts as online.
const PresenceWindow = 30 * time.Second

// PresenceStore keeps the last-seen time of every user in sorted sets scored by
// Unix milliseconds, one platform-wide and one per region. Entries are never
// removed; a user drops out of the online count once the window has passed.
type PresenceStore struct {
	client redis.UniversalClient
}

// NewPresenceStore creates and returns a new PresenceStore instance.
func NewPresenceStore(client redis.UniversalClient) *PresenceStore {
	return &PresenceStore{client: client}
}

// Touch records that userID was seen at `at`. The stored value only ever moves
// forward (ZADD GT), so replayed or out-of-order actions leave it unchanged.
func (ps *PresenceStore) Touch(ctx context.Context, userID string, region models.Region, at time.Time) error {
	member := redis.Z{Score: float64(at.UnixMilli()), Member: userID}

	pipe := ps.client.Pipeline()
	pipe.ZAddArgs(ctx, redisu.PresenceLastSeenKey, redis.ZAddArgs{GT: true, Members: []redis.Z{member}})
	if region != "" {
		pipe.ZAddArgs(ctx, regionKey(region), redis.ZAddArgs{GT: true, Members: []redis.Z{member}})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record presence for user %s: %w", userID, err)
	}
	return nil
}

// LastSeen returns the last-seen time of userID and false if the user was never seen.
func (ps *PresenceStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	score, err := ps.client.ZScore(ctx, redisu.PresenceLastSeenKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get last seen for user %s: %w", userID, err)
	}
	return time.UnixMilli(int64(score)).UTC(), true, nil
}

// OnlineCount counts users seen within PresenceWindow of now. The single `now`
// bounds every entry, so one query never mixes two clocks.
func (ps *PresenceStore) OnlineCount(ctx context.Context, now time.Time) (int64, error) {
	return ps.countSince(ctx, redisu.PresenceLastSeenKey, now)
}

// OnlineCountByRegion is OnlineCount restricted to one region.
func (ps *PresenceStore) OnlineCountByRegion(ctx context.Context, region models.Region, now time.Time) (int64, error) {
	return ps.countSince(ctx, regionKey(region), now)
}

func (ps *PresenceStore) countSince(ctx context.Context, key string, now time.Time) (int64, error) {
	minScore := strconv.FormatInt(now.Add(-PresenceWindow).UnixMilli(), 10)
	n, err := ps.client.ZCount(ctx, key, minScore, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users in %s: %w", key, err)
	}
	return n, nil
}

func regionKey(region models.Region) string {
	return fmt.Sprintf(redisu.PresenceRegionLastSeenKeyFmt, region)
}
