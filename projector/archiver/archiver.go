// projector/archiver/archiver.go
package archiver

import (
	"context"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/metrics"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"go.uber.org/zap"
)

// archiveTaskKey is the ring key electing the single instance that archives.
const archiveTaskKey = "leaderboard_archive_task"

// Ownership tells whether this instance is responsible for an entity.
type Ownership interface {
	IsResponsible(entityID string) (bool, error)
}

// LeaderboardReader reads live leaderboards from the projection store.
type LeaderboardReader interface {
	ActiveMatches(ctx context.Context, since time.Time) ([]string, error)
	Top(ctx context.Context, matchID string, limit int) ([]models.LeaderboardEntry, error)
}

// SnapshotWriter persists leaderboard snapshots.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, matchID string, entries []models.LeaderboardEntry, capturedAt time.Time) error
}

// Config controls how often and how much is archived.
type Config struct {
	Interval     time.Duration
	Timeout      time.Duration // Upper bound for one archive pass
	TopN         int
	ActiveWindow time.Duration // Only matches with a DRINK newer than this are archived
}

// LeaderboardArchiver periodically copies the leaderboards of recently active
// matches into the archive. Only the instance owning archiveTaskKey does the work.
type LeaderboardArchiver struct {
	cfg       Config
	boards    LeaderboardReader
	archive   SnapshotWriter
	ownership Ownership
	logger    *zap.Logger
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewLeaderboardArchiver creates a new LeaderboardArchiver.
func NewLeaderboardArchiver(cfg Config, boards LeaderboardReader, archive SnapshotWriter, ownership Ownership, logger *zap.Logger) *LeaderboardArchiver {
	ctx, cancel := context.WithCancel(context.Background())
	return &LeaderboardArchiver{
		cfg:       cfg,
		boards:    boards,
		archive:   archive,
		ownership: ownership,
		logger:    logger.With(zap.String("component", "leaderboard-archiver")),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start runs the archive loop until Stop is called. Run it in a goroutine.
func (a *LeaderboardArchiver) Start() {
	defer close(a.done)
	a.logger.Info("leaderboard archiver starting", zap.Duration("interval", a.cfg.Interval))

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.logger.Info("leaderboard archiver shutting down")
			return
		case <-ticker.C:
			a.archiveOnce(a.ctx)
		}
	}
}

// Stop ends the loop and waits for an in-flight pass.
func (a *LeaderboardArchiver) Stop() {
	a.cancel()
	<-a.done
}

// archiveOnce snapshots every recently active match. It returns the number of
// snapshots written. A failing match is logged and does not stop the pass.
func (a *LeaderboardArchiver) archiveOnce(ctx context.Context) int {
	isLeader, err := a.ownership.IsResponsible(archiveTaskKey)
	if err != nil {
		a.logger.Error("failed to check leadership", zap.String("task", archiveTaskKey), zap.Error(err))
		return 0
	}
	if !isLeader {
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	now := a.now()
	matches, err := a.boards.ActiveMatches(ctx, now.Add(-a.cfg.ActiveWindow))
	if err != nil {
		a.logger.Error("failed to list active matches", zap.Error(err))
		return 0
	}
	if len(matches) == 0 {
		a.logger.Debug("no active matches to archive")
		return 0
	}

	written := 0
	for _, matchID := range matches {
		if ctx.Err() != nil {
			a.logger.Warn("archive pass interrupted", zap.Int("written", written), zap.Int("matches", len(matches)), zap.Error(ctx.Err()))
			break
		}
		entries, err := a.boards.Top(ctx, matchID, a.cfg.TopN)
		if err != nil {
			a.logger.Error("failed to read leaderboard", zap.String("match_id", matchID), zap.Error(err))
			continue
		}
		if err := a.archive.SaveSnapshot(ctx, matchID, entries, now); err != nil {
			a.logger.Error("failed to archive leaderboard", zap.String("match_id", matchID), zap.Error(err))
			continue
		}
		written++
		metrics.SnapshotsArchived.Inc()
	}
	a.logger.Info("leaderboards archived", zap.Int("written", written), zap.Int("matches", len(matches)))
	return written
}
