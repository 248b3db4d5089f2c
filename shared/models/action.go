// shared/models/action.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind is the type of a game action.
type ActionKind string

const (
	ActionHeartbeat ActionKind = "HEARTBEAT"
	ActionDrink     ActionKind = "DRINK"
)

// ParseActionKind normalises s (case-insensitive) into an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	switch k := ActionKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case ActionHeartbeat, ActionDrink:
		return k, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Region is the platform region a user plays in.
type Region string

const (
	RegionEU   Region = "EU"
	RegionNA   Region = "NA"
	RegionAPAC Region = "APAC"
)

// Regions lists every supported region.
var Regions = []Region{RegionEU, RegionNA, RegionAPAC}

// ParseRegion normalises s (case-insensitive) into a Region.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Regions {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown region %q", s)
}

// GameAction is a validated, immutable game event as it is written to the event log.
type GameAction struct {
	EventID    string     `json:"eventId"`
	UserID     string     `json:"userId"`
	Region     Region     `json:"region"`
	MatchID    string     `json:"matchId"`
	Kind       ActionKind `json:"action"`
	Amount     int64      `json:"amount"`
	OccurredAt time.Time  `json:"-"`
}

// OccurredAtMillis returns OccurredAt as Unix milliseconds, the resolution used on the wire and in Redis scores.
func (a GameAction) OccurredAtMillis() int64 {
	return a.OccurredAt.UnixMilli()
}
