// shared/models/leaderboard.go
package models

import "time"

// LeaderboardEntry is one ranked row of a match leaderboard.
type LeaderboardEntry struct {
	UserID string `json:"userId" bson:"user_id"`
	Score  int64  `json:"score" bson:"score"`
	Rank   int    `json:"rank" bson:"rank"`
}

// LeaderboardSnapshot is an archived copy of a match leaderboard.
type LeaderboardSnapshot struct {
	MatchID    string             `json:"matchId" bson:"_id"`
	Entries    []LeaderboardEntry `json:"entries" bson:"entries"`
	CapturedAt time.Time          `json:"capturedAt" bson:"captured_at"`
	Version    int64              `json:"version" bson:"version"` // Number of times this match has been archived
}
