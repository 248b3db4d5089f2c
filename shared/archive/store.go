// shared/archive/store.go
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrSnapshotNotFound is returned when a match has never been archived.
var ErrSnapshotNotFound = errors.New("leaderboard snapshot not found")

// Store keeps the latest leaderboard snapshot of every match in MongoDB,
// one document per match keyed by match ID.
type Store struct {
	collection *mongo.Collection
}

// NewStore creates a new archive Store on collection.
func NewStore(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// SaveSnapshot replaces the archived entries of matchID and bumps the snapshot version.
func (s *Store) SaveSnapshot(ctx context.Context, matchID string, entries []models.LeaderboardEntry, capturedAt time.Time) error {
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	filter := bson.M{"_id": matchID}
	update := bson.M{
		"$set": bson.M{
			"entries":     entries,
			"captured_at": capturedAt.UTC(),
		},
		"$inc": bson.M{"version": 1},
	}
	opts := options.Update().SetUpsert(true)

	res, err := s.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to archive leaderboard of match %s: %w", matchID, err)
	}
	if res.MatchedCount == 0 && res.UpsertedID == nil {
		return fmt.Errorf("leaderboard of match %s was neither updated nor inserted", matchID)
	}
	return nil
}

// LatestSnapshot returns the archived leaderboard of matchID.
func (s *Store) LatestSnapshot(ctx context.Context, matchID string) (models.LeaderboardSnapshot, error) {
	var snap models.LeaderboardSnapshot
	err := s.collection.FindOne(ctx, bson.M{"_id": matchID}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.LeaderboardSnapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return models.LeaderboardSnapshot{}, fmt.Errorf("failed to read archived leaderboard of match %s: %w", matchID, err)
	}
	if snap.Entries == nil {
		snap.Entries = []models.LeaderboardEntry{}
	}
	return snap, nil
}
