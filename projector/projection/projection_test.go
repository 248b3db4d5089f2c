package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/Ftotnem/GO-PIPELINE/shared/projection"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var base = time.UnixMilli(1_700_000_000_000).UTC()

// matchPartition is the partition of "match-1" under newStores' partitioner.
var matchPartition eventlog.Partition

func newStores(t *testing.T) (*projection.PresenceStore, *projection.LeaderboardStore, *projection.UniquesStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	partitioner, err := eventlog.NewPartitioner(4)
	if err != nil {
		t.Fatalf("NewPartitioner() error = %v", err)
	}
	matchPartition = partitioner.PartitionFor("match-1")
	return projection.NewPresenceStore(client),
		projection.NewLeaderboardStore(client, partitioner, time.Hour),
		projection.NewUniquesStore(client)
}

func record(id, eventID, user string, kind models.ActionKind, amount int64, at time.Time) eventlog.Record {
	return eventlog.Record{
		ID:        id,
		Partition: matchPartition,
		Action: models.GameAction{
			EventID:    eventID,
			UserID:     user,
			Region:     models.RegionNA,
			MatchID:    "match-1",
			Kind:       kind,
			Amount:     amount,
			OccurredAt: at,
		},
	}
}

func TestPresence_BothKindsRefreshLastSeen(t *testing.T) {
	presence, _, _ := newStores(t)
	p := NewPresence(presence)
	ctx := context.Background()

	if err := p.Apply(ctx, record("1-0", "e1", "user-1", models.ActionHeartbeat, 0, base)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := p.Apply(ctx, record("2-0", "e2", "user-2", models.ActionDrink, 3, base.Add(5*time.Second))); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	n, err := presence.OnlineCount(ctx, base.Add(10*time.Second))
	if err != nil {
		t.Fatalf("OnlineCount() error = %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 online users, got %d", n)
	}
}

func TestLeaderboard_ReplayDoesNotDoubleCount(t *testing.T) {
	_, board, uniques := newStores(t)
	l := NewLeaderboard(board, uniques)
	ctx := context.Background()

	records := []eventlog.Record{
		record("100-0", "e1", "user-1", models.ActionDrink, 60, base),
		record("101-0", "e2", "user-1", models.ActionHeartbeat, 0, base),
		record("102-0", "e3", "user-2", models.ActionDrink, 100, base),
		record("103-0", "e4", "user-1", models.ActionDrink, 20, base),
	}
	for round := 0; round < 2; round++ {
		for _, rec := range records {
			if err := l.Apply(ctx, rec); err != nil {
				t.Fatalf("round %d: Apply(%s) error = %v", round, rec.ID, err)
			}
		}
	}

	top, err := board.Top(ctx, "match-1", 10)
	if err != nil {
		t.Fatalf("Top() error = %v", err)
	}
	want := []models.LeaderboardEntry{
		{UserID: "user-2", Score: 100, Rank: 1},
		{UserID: "user-1", Score: 80, Rank: 2},
	}
	if len(top) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), top)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("entry %d: expected %+v, got %+v", i, want[i], top[i])
		}
	}

	n, err := uniques.Count(ctx, base, 1)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 unique drinkers, got %d", n)
	}
}

// flakyUniques fails its first failures calls, then delegates.
type flakyUniques struct {
	failures int
	next     UniquesWriter
}

func (f *flakyUniques) Add(ctx context.Context, userID string, at time.Time) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	return f.next.Add(ctx, userID, at)
}

func TestLeaderboard_FailedUniqueCountIsRetried(t *testing.T) {
	_, board, uniques := newStores(t)
	l := NewLeaderboard(board, &flakyUniques{failures: 1, next: uniques})
	ctx := context.Background()

	rec := record("100-0", "e1", "user-1", models.ActionDrink, 40, base)
	if err := l.Apply(ctx, rec); err == nil {
		t.Fatal("expected the first Apply to fail")
	}
	if cp, _ := board.Checkpoint(ctx, matchPartition); cp != "" {
		t.Errorf("expected checkpoint untouched after a failed apply, got %q", cp)
	}

	// The worker retries the same record.
	if err := l.Apply(ctx, rec); err != nil {
		t.Fatalf("Apply() retry error = %v", err)
	}

	if score, _, _ := board.Score(ctx, "match-1", "user-1"); score != 40 {
		t.Errorf("expected score 40, got %d", score)
	}
	n, err := uniques.Count(ctx, base, 1)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expected the drinker counted once, got %d", n)
	}
}

func TestLeaderboard_ResetClearsPartition(t *testing.T) {
	_, board, _ := newStores(t)
	l := NewLeaderboard(board, nil)
	ctx := context.Background()

	if err := l.Apply(ctx, record("100-0", "e1", "user-1", models.ActionDrink, 5, base)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := l.Reset(ctx, matchPartition); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, ok, _ := board.Score(ctx, "match-1", "user-1"); ok {
		t.Error("expected score to be cleared by reset")
	}
	cp, err := board.Checkpoint(ctx, matchPartition)
	if err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if cp != "" {
		t.Errorf("expected empty checkpoint after reset, got %q", cp)
	}
}
