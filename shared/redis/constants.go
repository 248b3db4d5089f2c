// shared/redis/constants.go
package redis

const (
	// Presence projection
	PresenceLastSeenKey          = "presence:last_seen"    // ZSET userId -> last seen (Unix ms)
	PresenceRegionLastSeenKeyFmt = "presence:last_seen:%s" // Per-region ZSET: presence:last_seen:EU

	// Leaderboard projection. All keys of one partition share the {pN} hash tag so the
	// apply script can touch them atomically on a cluster.
	LeaderboardKeyFmt       = "leaderboard:{%s}:%s"                // ZSET userId -> score: leaderboard:{p3}:<matchId>
	LeaderboardOffsetKeyFmt = "projector:leaderboard:offset:{%s}"  // Last applied stream ID of a partition
	LeaderboardSeenKeyFmt   = "projector:leaderboard:seen:{%s}:%s" // Event identity marker: ...seen:{p3}:<eventId>
	ActiveMatchesKey        = "matches:active"                     // ZSET matchId -> last DRINK (Unix ms)

	// Unique drinkers, one HyperLogLog per UTC minute: uniques:{drinkers}:200601021504
	UniqueDrinkersKeyPrefix    = "uniques:{drinkers}:"
	UniqueDrinkersBucketLayout = "200601021504"

	ProjectorLeaseKeyFmt = "projector:lease:{%s}:%s" // projector:lease:{p3}:<projection>
	StreamKeyFmt         = "%s:{%s}"                 // <prefix>:{p3}
)
