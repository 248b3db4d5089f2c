// projector/projection/projection.go
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/metrics"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/Ftotnem/GO-PIPELINE/shared/projection"
)

// Consumer group names, one per projection.
const (
	PresenceName    = "presence-projector"
	LeaderboardName = "leaderboard-projector"
)

// Projection folds event log records into a read model.
// Apply must be safe to call again for a record it already applied.
type Projection interface {
	Name() string
	Apply(ctx context.Context, rec eventlog.Record) error
	// Reset drops the state derived from partition p before a replay from the start of the log.
	Reset(ctx context.Context, p eventlog.Partition) error
}

// PresenceWriter is the part of the presence store the projector writes to.
type PresenceWriter interface {
	Touch(ctx context.Context, userID string, region models.Region, at time.Time) error
}

// Presence keeps the last seen time of every user. Both action kinds refresh it.
type Presence struct {
	store PresenceWriter
}

func NewPresence(store PresenceWriter) *Presence {
	return &Presence{store: store}
}

func (p *Presence) Name() string { return PresenceName }

func (p *Presence) Apply(ctx context.Context, rec eventlog.Record) error {
	a := rec.Action
	return p.store.Touch(ctx, a.UserID, a.Region, a.OccurredAt)
}

// Reset is a no-op. Max-merged last seen times converge on replay without clearing.
func (p *Presence) Reset(ctx context.Context, partition eventlog.Partition) error {
	return nil
}

// LeaderboardWriter is the part of the leaderboard store the projector writes to.
type LeaderboardWriter interface {
	Apply(ctx context.Context, p eventlog.Partition, offset string, action models.GameAction) (projection.ApplyResult, error)
	Reset(ctx context.Context, p eventlog.Partition) error
}

// UniquesWriter records distinct drinkers per minute.
type UniquesWriter interface {
	Add(ctx context.Context, userID string, at time.Time) error
}

// Leaderboard sums DRINK amounts per match and user, gated on the partition checkpoint.
type Leaderboard struct {
	store   LeaderboardWriter
	uniques UniquesWriter
}

// NewLeaderboard creates the leaderboard projection. uniques may be nil.
func NewLeaderboard(store LeaderboardWriter, uniques UniquesWriter) *Leaderboard {
	return &Leaderboard{store: store, uniques: uniques}
}

func (l *Leaderboard) Name() string { return LeaderboardName }

func (l *Leaderboard) Apply(ctx context.Context, rec eventlog.Record) error {
	// Counted before the checkpoint moves so a failed store call is retried
	// in full. PFADD of a seen drinker is a no-op.
	if rec.Action.Kind == models.ActionDrink && l.uniques != nil {
		if err := l.uniques.Add(ctx, rec.Action.UserID, rec.Action.OccurredAt); err != nil {
			return fmt.Errorf("failed to record unique drinker: %w", err)
		}
	}

	result, err := l.store.Apply(ctx, rec.Partition, rec.ID, rec.Action)
	if err != nil {
		return err
	}
	if result != projection.Applied {
		metrics.RecordsSkipped.WithLabelValues(LeaderboardName, result.String()).Inc()
	}
	return nil
}

func (l *Leaderboard) Reset(ctx context.Context, p eventlog.Partition) error {
	return l.store.Reset(ctx, p)
}
