// query/service/query_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/archive"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/Ftotnem/GO-PIPELINE/shared/projection"
	"github.com/Ftotnem/GO-PIPELINE/shared/registry"
	"go.uber.org/zap"
)

// Health statuses.
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

var (
	// ErrStoreUnavailable wraps every failed read of the projection store.
	ErrStoreUnavailable = errors.New("projection store unavailable")
	ErrMissingMatchID   = errors.New("matchId is required")
	ErrInvalidLimit     = errors.New("limit must be a positive integer")
	ErrInvalidMinutes   = fmt.Errorf("minutes must be between 1 and %d", projection.MaxUniquesMinutes)
	// ErrHistoryDisabled is returned by History when no archive is configured.
	ErrHistoryDisabled = errors.New("leaderboard archive is disabled")
	// ErrSnapshotNotFound is returned by History for a match that was never archived.
	ErrSnapshotNotFound = archive.ErrSnapshotNotFound
)

// ServiceDirectory lists live service instances.
type ServiceDirectory interface {
	GetActiveServices(ctx context.Context, serviceType string) (map[string]registry.ServiceInfo, error)
}

// Pinger checks connectivity to the projection store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PresenceReader reads the presence projection.
type PresenceReader interface {
	OnlineCount(ctx context.Context, now time.Time) (int64, error)
	OnlineCountByRegion(ctx context.Context, region models.Region, now time.Time) (int64, error)
}

// LeaderboardReader reads the leaderboard projection.
type LeaderboardReader interface {
	Top(ctx context.Context, matchID string, limit int) ([]models.LeaderboardEntry, error)
}

// UniquesReader reads the distinct drinker estimates.
type UniquesReader interface {
	Count(ctx context.Context, now time.Time, minutes int) (int64, error)
}

// SnapshotReader reads archived leaderboards.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, matchID string) (models.LeaderboardSnapshot, error)
}

// Health is the result of a health check.
type Health struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// OnlineCount is the number of users seen within the presence window.
type OnlineCount struct {
	OnlineCount int64  `json:"onlineCount"`
	Region      string `json:"region,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Leaderboard is a ranked snapshot of one match.
type Leaderboard struct {
	MatchID   string                    `json:"matchId"`
	Entries   []models.LeaderboardEntry `json:"entries"`
	Timestamp int64                     `json:"timestamp"`
}

// UniqueDrinkers is the estimated number of distinct drinkers over a trailing period.
type UniqueDrinkers struct {
	Minutes        int   `json:"minutes"`
	UniqueDrinkers int64 `json:"uniqueDrinkers"`
	Timestamp      int64 `json:"timestamp"`
}

// LeaderboardHistory is the last archived copy of a match leaderboard.
type LeaderboardHistory struct {
	MatchID    string                    `json:"matchId"`
	Entries    []models.LeaderboardEntry `json:"entries"`
	CapturedAt int64                     `json:"capturedAt"`
	Version    int64                     `json:"version"`
}

// Limits bounds the leaderboard size.
type Limits struct {
	DefaultLimit int
	MaxLimit     int
}

// QueryService answers read queries straight from the projection store.
// It never recomputes a projection.
type QueryService struct {
	directory ServiceDirectory
	pinger    Pinger
	presence  PresenceReader
	boards    LeaderboardReader
	uniques   UniquesReader
	history   SnapshotReader
	limits    Limits
	logger    *zap.Logger
	now       func() time.Time
}

// NewQueryService creates a QueryService. history may be nil when the archive is disabled.
func NewQueryService(
	directory ServiceDirectory,
	pinger Pinger,
	presence PresenceReader,
	boards LeaderboardReader,
	uniques UniquesReader,
	history SnapshotReader,
	limits Limits,
	logger *zap.Logger,
) *QueryService {
	if limits.DefaultLimit < 1 {
		limits.DefaultLimit = 10
	}
	if limits.MaxLimit < limits.DefaultLimit {
		limits.MaxLimit = 100
	}
	return &QueryService{
		directory: directory,
		pinger:    pinger,
		presence:  presence,
		boards:    boards,
		uniques:   uniques,
		history:   history,
		limits:    limits,
		logger:    logger,
		now:       time.Now,
	}
}

// Health reports UP when at least one projector instance is alive and the
// projection store answers.
func (qs *QueryService) Health(ctx context.Context) Health {
	now := qs.now()
	down := Health{Status: StatusDown, Timestamp: now.UnixMilli()}

	projectors, err := qs.directory.GetActiveServices(ctx, registry.ProjectorServiceType)
	if err != nil {
		qs.logger.Warn("health: failed to read service registry", zap.Error(err))
		return down
	}
	if len(projectors) == 0 {
		qs.logger.Warn("health: no active projector instances")
		return down
	}
	if err := qs.pinger.Ping(ctx); err != nil {
		qs.logger.Warn("health: projection store ping failed", zap.Error(err))
		return down
	}
	return Health{Status: StatusUp, Timestamp: now.UnixMilli()}
}

// OnlineCount counts users seen within the presence window, optionally within one region.
// The same instant is used for the window and the returned timestamp.
func (qs *QueryService) OnlineCount(ctx context.Context, region *models.Region) (OnlineCount, error) {
	now := qs.now()

	var (
		n   int64
		err error
	)
	res := OnlineCount{Timestamp: now.UnixMilli()}
	if region != nil {
		res.Region = string(*region)
		n, err = qs.presence.OnlineCountByRegion(ctx, *region, now)
	} else {
		n, err = qs.presence.OnlineCount(ctx, now)
	}
	if err != nil {
		return OnlineCount{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	res.OnlineCount = n
	return res, nil
}

// Leaderboard returns the top entries of matchID. A nil limit selects the
// default, a limit below 1 is rejected and a limit above the maximum is clamped.
// An unknown match yields no entries.
func (qs *QueryService) Leaderboard(ctx context.Context, matchID string, limit *int) (Leaderboard, error) {
	if matchID == "" {
		return Leaderboard{}, ErrMissingMatchID
	}
	n := qs.limits.DefaultLimit
	if limit != nil {
		if *limit < 1 {
			return Leaderboard{}, ErrInvalidLimit
		}
		n = min(*limit, qs.limits.MaxLimit)
	}

	now := qs.now()
	entries, err := qs.boards.Top(ctx, matchID, n)
	if err != nil {
		return Leaderboard{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	return Leaderboard{MatchID: matchID, Entries: entries, Timestamp: now.UnixMilli()}, nil
}

// UniqueDrinkers estimates the distinct users who drank in the trailing minutes.
func (qs *QueryService) UniqueDrinkers(ctx context.Context, minutes int) (UniqueDrinkers, error) {
	if minutes < 1 || minutes > projection.MaxUniquesMinutes {
		return UniqueDrinkers{}, ErrInvalidMinutes
	}
	now := qs.now()
	n, err := qs.uniques.Count(ctx, now, minutes)
	if err != nil {
		return UniqueDrinkers{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return UniqueDrinkers{Minutes: minutes, UniqueDrinkers: n, Timestamp: now.UnixMilli()}, nil
}

// History returns the last archived leaderboard of matchID.
func (qs *QueryService) History(ctx context.Context, matchID string) (LeaderboardHistory, error) {
	if matchID == "" {
		return LeaderboardHistory{}, ErrMissingMatchID
	}
	if qs.history == nil {
		return LeaderboardHistory{}, ErrHistoryDisabled
	}
	snap, err := qs.history.LatestSnapshot(ctx, matchID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return LeaderboardHistory{}, err
	}
	if err != nil {
		return LeaderboardHistory{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return LeaderboardHistory{
		MatchID:    snap.MatchID,
		Entries:    snap.Entries,
		CapturedAt: snap.CapturedAt.UnixMilli(),
		Version:    snap.Version,
	}, nil
}
