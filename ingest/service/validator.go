// ingest/service/validator.go
package service

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/google/uuid"
)

const maxIDLength = 128

// RawAction is an inbound action as decoded from the request body.
type RawAction struct {
	EventID   string `json:"eventId,omitempty"` // Optional client-chosen identity, reused when the client retries
	UserID    string `json:"userId"`
	Region    string `json:"region"`
	MatchID   string `json:"matchId"`
	Action    string `json:"action,omitempty"`
	Amount    *int64 `json:"amount"`
	Timestamp *int64 `json:"timestamp,omitempty"` // Unix milliseconds
}

// Violation is one failed input constraint.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationError lists every constraint a raw action violated.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	return "invalid action: " + strings.Join(e.Messages(), "; ")
}

// Messages returns the violations as "field: message" strings.
func (e *ValidationError) Messages() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.String()
	}
	return out
}

// ValidatorConfig holds the validation limits.
type ValidatorConfig struct {
	MaxDrinkAmount int64
	MaxClockSkew   time.Duration
}

// Validator turns raw payloads into GameActions. It has no side effects.
type Validator struct {
	cfg ValidatorConfig
	now func() time.Time
}

// NewValidator creates a Validator using the wall clock.
func NewValidator(cfg ValidatorConfig) *Validator {
	return NewValidatorWithClock(cfg, time.Now)
}

// NewValidatorWithClock creates a Validator with an injected clock.
func NewValidatorWithClock(cfg ValidatorConfig, now func() time.Time) *Validator {
	if cfg.MaxDrinkAmount < 1 {
		cfg.MaxDrinkAmount = 1000
	}
	if cfg.MaxClockSkew < 0 {
		cfg.MaxClockSkew = 0
	}
	return &Validator{cfg: cfg, now: now}
}

// Validate checks raw as an action of the given kind, the kind being fixed by the
// endpoint. It returns a *ValidationError listing every violation.
func (v *Validator) Validate(raw RawAction, kind models.ActionKind) (models.GameAction, error) {
	var violations []Violation
	add := func(field, format string, args ...interface{}) {
		violations = append(violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	ingestedAt := v.now()

	action := models.GameAction{
		EventID: strings.TrimSpace(raw.EventID),
		UserID:  strings.TrimSpace(raw.UserID),
		MatchID: strings.TrimSpace(raw.MatchID),
		Kind:    kind,
	}

	checkID := func(field, value string) {
		switch {
		case value == "":
			add(field, "must not be empty")
		case utf8.RuneCountInString(value) > maxIDLength:
			add(field, "must be at most %d characters", maxIDLength)
		}
	}
	checkID("userId", action.UserID)
	checkID("matchId", action.MatchID)

	if region, err := models.ParseRegion(raw.Region); err != nil {
		add("region", "must be one of EU, NA, APAC")
	} else {
		action.Region = region
	}

	if raw.Action != "" {
		if k, err := models.ParseActionKind(raw.Action); err != nil || k != kind {
			add("action", "must be %s for this endpoint", kind)
		}
	}

	switch kind {
	case models.ActionHeartbeat:
		if raw.Amount != nil && *raw.Amount != 0 {
			add("amount", "must be 0 for HEARTBEAT")
		}
	case models.ActionDrink:
		switch {
		case raw.Amount == nil:
			add("amount", "is required for DRINK")
		case *raw.Amount < 1:
			add("amount", "must be at least 1")
		case *raw.Amount > v.cfg.MaxDrinkAmount:
			add("amount", "must be at most %d", v.cfg.MaxDrinkAmount)
		default:
			action.Amount = *raw.Amount
		}
	default:
		add("action", "unsupported action %q", kind)
	}

	if raw.Timestamp == nil {
		action.OccurredAt = ingestedAt
	} else {
		ts := time.UnixMilli(*raw.Timestamp)
		switch {
		case *raw.Timestamp <= 0:
			add("timestamp", "must be a positive Unix millisecond value")
		case ts.Sub(ingestedAt) > v.cfg.MaxClockSkew:
			add("timestamp", "must not be more than %v in the future", v.cfg.MaxClockSkew)
		default:
			action.OccurredAt = ts
		}
	}

	if action.EventID == "" {
		action.EventID = uuid.NewString()
	} else if _, err := uuid.Parse(action.EventID); err != nil {
		add("eventId", "must be a UUID")
	}

	if len(violations) > 0 {
		return models.GameAction{}, &ValidationError{Violations: violations}
	}
	action.OccurredAt = action.OccurredAt.UTC()
	return action, nil
}
