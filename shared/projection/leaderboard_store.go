// shared/projection/leaderboard_store.go
package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	redisu "github.com/Ftotnem/GO-PIPELINE/shared/redis"
	"github.com/redis/go-redis/v9"
)

// ApplyResult reports what Apply did with a record.
type ApplyResult int

const (
	// Applied means the checkpoint advanced (and a DRINK was scored).
	Applied ApplyResult = iota
	// SkippedOffset means the record is at or below the partition checkpoint.
	SkippedOffset
	// SkippedDuplicate means another entry with the same event identity was already scored.
	SkippedDuplicate
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case SkippedOffset:
		return "offset"
	case SkippedDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// applyScript gates a record on the partition checkpoint and scores it at most once.
//
//	KEYS[1] leaderboard zset, KEYS[2] partition checkpoint, KEYS[3] event identity marker
//	ARGV[1] stream ID, ARGV[2] userId, ARGV[3] amount, ARGV[4] marker TTL ms, ARGV[5] "1" to score
//
// Returns 1 applied, 0 at or below checkpoint, 2 duplicate event identity.
var applyScript = redis.NewScript(`
local last = redis.call('GET', KEYS[2])
if last then
  local lms, lseq = string.match(last, '^(%d+)-(%d+)$')
  local ms, seq = string.match(ARGV[1], '^(%d+)-(%d+)$')
  lms, lseq, ms, seq = tonumber(lms), tonumber(lseq), tonumber(ms), tonumber(seq)
  if ms < lms or (ms == lms and seq <= lseq) then
    return 0
  end
end
redis.call('SET', KEYS[2], ARGV[1])
if ARGV[5] == '1' then
  if redis.call('SET', KEYS[3], '1', 'NX', 'PX', ARGV[4]) then
    redis.call('ZINCRBY', KEYS[1], ARGV[3], ARGV[2])
    return 1
  end
  return 2
end
return 1
`)

// LeaderboardStore keeps one sorted set of cumulative DRINK scores per match.
// Boards live under their partition's hash tag, next to the partition checkpoint.
type LeaderboardStore struct {
	client      redis.UniversalClient
	partitioner *eventlog.Partitioner
	dedupTTL    time.Duration
}

// NewLeaderboardStore creates and returns a new LeaderboardStore instance.
func NewLeaderboardStore(client redis.UniversalClient, partitioner *eventlog.Partitioner, dedupTTL time.Duration) *LeaderboardStore {
	if dedupTTL <= 0 {
		dedupTTL = 24 * time.Hour
	}
	return &LeaderboardStore{client: client, partitioner: partitioner, dedupTTL: dedupTTL}
}

// Apply applies the record at offset of partition p. HEARTBEAT records only
// advance the checkpoint. A DRINK for a match without a board creates it.
func (ls *LeaderboardStore) Apply(ctx context.Context, p eventlog.Partition, offset string, action models.GameAction) (ApplyResult, error) {
	if _, _, err := parseOffset(offset); err != nil {
		return 0, err
	}

	score := "0"
	if action.Kind == models.ActionDrink {
		score = "1"
		// The active index lives outside the partition slot, so it is written
		// before the checkpoint moves. ZADD GT makes a repeat a no-op.
		err := ls.client.ZAddArgs(ctx, redisu.ActiveMatchesKey, redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: float64(action.OccurredAtMillis()), Member: action.MatchID}},
		}).Err()
		if err != nil {
			return 0, fmt.Errorf("failed to mark match %s active: %w", action.MatchID, err)
		}
	}
	keys := []string{
		boardKey(p, action.MatchID),
		fmt.Sprintf(redisu.LeaderboardOffsetKeyFmt, p),
		fmt.Sprintf(redisu.LeaderboardSeenKeyFmt, p, action.EventID),
	}
	res, err := applyScript.Run(ctx, ls.client, keys,
		offset, action.UserID, action.Amount, ls.dedupTTL.Milliseconds(), score).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to apply %s %s to leaderboard of match %s: %w", action.Kind, offset, action.MatchID, err)
	}

	switch res {
	case 1:
		return Applied, nil
	case 0:
		return SkippedOffset, nil
	case 2:
		return SkippedDuplicate, nil
	default:
		return 0, fmt.Errorf("unexpected apply result %d for %s", res, offset)
	}
}

// Top returns up to limit entries of the match board, highest score first, ranked
// by position. Equal scores keep the sorted set's own order (descending userId),
// a deterministic but arbitrary tie-break. An unknown match yields an empty slice.
func (ls *LeaderboardStore) Top(ctx context.Context, matchID string, limit int) ([]models.LeaderboardEntry, error) {
	entries := []models.LeaderboardEntry{}
	if limit <= 0 {
		return entries, nil
	}

	key := boardKey(ls.partitioner.PartitionFor(matchID), matchID)
	zs, err := ls.client.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard of match %s: %w", matchID, err)
	}
	for i, z := range zs {
		userID, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, models.LeaderboardEntry{
			UserID: userID,
			Score:  int64(z.Score),
			Rank:   i + 1,
		})
	}
	return entries, nil
}

// Score returns the score of userID in matchID and false if the user has none.
func (ls *LeaderboardStore) Score(ctx context.Context, matchID, userID string) (int64, bool, error) {
	key := boardKey(ls.partitioner.PartitionFor(matchID), matchID)
	s, err := ls.client.ZScore(ctx, key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read score of user %s in match %s: %w", userID, matchID, err)
	}
	return int64(s), true, nil
}

// Checkpoint returns the last applied stream ID of partition p, or "" if none.
func (ls *LeaderboardStore) Checkpoint(ctx context.Context, p eventlog.Partition) (string, error) {
	v, err := ls.client.Get(ctx, fmt.Sprintf(redisu.LeaderboardOffsetKeyFmt, p)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read leaderboard checkpoint of %s: %w", p, err)
	}
	return v, nil
}

// ActiveMatches returns matches that received a DRINK at or after since.
func (ls *LeaderboardStore) ActiveMatches(ctx context.Context, since time.Time) ([]string, error) {
	ids, err := ls.client.ZRangeByScore(ctx, redisu.ActiveMatchesKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active matches: %w", err)
	}
	return ids, nil
}

// Reset drops every board, identity marker and the checkpoint of partition p,
// so the partition can be rebuilt by replaying the log from the start.
func (ls *LeaderboardStore) Reset(ctx context.Context, p eventlog.Partition) error {
	if _, err := redisu.ScanDelete(ctx, ls.client, fmt.Sprintf(redisu.LeaderboardKeyFmt, p, "*")); err != nil {
		return fmt.Errorf("failed to clear leaderboards of %s: %w", p, err)
	}
	if _, err := redisu.ScanDelete(ctx, ls.client, fmt.Sprintf(redisu.LeaderboardSeenKeyFmt, p, "*")); err != nil {
		return fmt.Errorf("failed to clear event markers of %s: %w", p, err)
	}
	if err := ls.client.Del(ctx, fmt.Sprintf(redisu.LeaderboardOffsetKeyFmt, p)).Err(); err != nil {
		return fmt.Errorf("failed to clear leaderboard checkpoint of %s: %w", p, err)
	}
	return nil
}

func boardKey(p eventlog.Partition, matchID string) string {
	return fmt.Sprintf(redisu.LeaderboardKeyFmt, p, matchID)
}

// parseOffset splits a Redis stream ID "<ms>-<seq>".
func parseOffset(offset string) (int64, int64, error) {
	for i := 0; i < len(offset); i++ {
		if offset[i] != '-' {
			continue
		}
		ms, err1 := strconv.ParseInt(offset[:i], 10, 64)
		seq, err2 := strconv.ParseInt(offset[i+1:], 10, 64)
		if err1 != nil || err2 != nil || ms < 0 || seq < 0 {
			break
		}
		return ms, seq, nil
	}
	return 0, 0, fmt.Errorf("invalid stream offset %q", offset)
}
