package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/google/uuid"
)

var ingestNow = time.UnixMilli(1_700_000_000_000).UTC()

func newTestValidator() *Validator {
	return NewValidatorWithClock(ValidatorConfig{MaxDrinkAmount: 1000, MaxClockSkew: 5 * time.Second}, func() time.Time { return ingestNow })
}

func i64(v int64) *int64 { return &v }

func TestValidate_ValidDrink(t *testing.T) {
	v := newTestValidator()

	got, err := v.Validate(RawAction{
		UserID:  "  user-1 ",
		Region:  "eu",
		MatchID: "match-1",
		Amount:  i64(60),
	}, models.ActionDrink)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if got.UserID != "user-1" {
		t.Errorf("expected trimmed userId, got %q", got.UserID)
	}
	if got.Region != models.RegionEU {
		t.Errorf("expected region EU, got %s", got.Region)
	}
	if got.Kind != models.ActionDrink || got.Amount != 60 {
		t.Errorf("unexpected kind/amount %s/%d", got.Kind, got.Amount)
	}
	if !got.OccurredAt.Equal(ingestNow) {
		t.Errorf("expected occurredAt to default to ingestion time, got %v", got.OccurredAt)
	}
	if _, err := uuid.Parse(got.EventID); err != nil {
		t.Errorf("expected generated UUID event ID, got %q", got.EventID)
	}
}

func TestValidate_HeartbeatAmount(t *testing.T) {
	v := newTestValidator()
	base := RawAction{UserID: "user-1", Region: "NA", MatchID: "match-1"}

	// Omitted and explicit zero amounts are both accepted.
	for _, amount := range []*int64{nil, i64(0)} {
		raw := base
		raw.Amount = amount
		got, err := v.Validate(raw, models.ActionHeartbeat)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if got.Amount != 0 {
			t.Errorf("expected amount 0, got %d", got.Amount)
		}
	}

	raw := base
	raw.Amount = i64(3)
	if _, err := v.Validate(raw, models.ActionHeartbeat); err == nil {
		t.Error("expected non-zero heartbeat amount to be rejected")
	}
}

func TestValidate_Rejections(t *testing.T) {
	v := newTestValidator()
	valid := RawAction{UserID: "user-1", Region: "APAC", MatchID: "match-1", Amount: i64(1)}

	tests := []struct {
		name   string
		mutate func(r *RawAction)
		field  string
	}{
		{"zero drink", func(r *RawAction) { r.Amount = i64(0) }, "amount"},
		{"negative drink", func(r *RawAction) { r.Amount = i64(-5) }, "amount"},
		{"absurd drink", func(r *RawAction) { r.Amount = i64(1001) }, "amount"},
		{"missing drink amount", func(r *RawAction) { r.Amount = nil }, "amount"},
		{"blank user", func(r *RawAction) { r.UserID = "   " }, "userId"},
		{"long match", func(r *RawAction) { r.MatchID = strings.Repeat("m", 129) }, "matchId"},
		{"unknown region", func(r *RawAction) { r.Region = "MARS" }, "region"},
		{"mismatched action", func(r *RawAction) { r.Action = "HEARTBEAT" }, "action"},
		{"future timestamp", func(r *RawAction) { r.Timestamp = i64(ingestNow.Add(6 * time.Second).UnixMilli()) }, "timestamp"},
		{"bad event id", func(r *RawAction) { r.EventID = "not-a-uuid" }, "eventId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := valid
			tt.mutate(&raw)

			_, err := v.Validate(raw, models.ActionDrink)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			found := false
			for _, viol := range verr.Violations {
				if viol.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected violation on %s, got %v", tt.field, verr.Messages())
			}
		})
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	v := newTestValidator()

	_, err := v.Validate(RawAction{Region: "nowhere", Amount: i64(0)}, models.ActionDrink)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	// userId, matchId, region and amount.
	if len(verr.Violations) != 4 {
		t.Errorf("expected 4 violations, got %d: %v", len(verr.Violations), verr.Messages())
	}
}

func TestValidate_TimestampWithinSkew(t *testing.T) {
	v := newTestValidator()

	past := ingestNow.Add(-time.Minute).UnixMilli()
	got, err := v.Validate(RawAction{UserID: "u", Region: "EU", MatchID: "m", Amount: i64(2), Timestamp: &past}, models.ActionDrink)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.OccurredAt.UnixMilli() != past {
		t.Errorf("expected caller timestamp %d, got %d", past, got.OccurredAt.UnixMilli())
	}

	nearFuture := ingestNow.Add(4 * time.Second).UnixMilli()
	if _, err := v.Validate(RawAction{UserID: "u", Region: "EU", MatchID: "m", Amount: i64(2), Timestamp: &nearFuture}, models.ActionDrink); err != nil {
		t.Errorf("expected timestamp within skew tolerance to pass, got %v", err)
	}
}

func TestValidate_KeepsClientEventID(t *testing.T) {
	v := newTestValidator()
	id := uuid.NewString()

	got, err := v.Validate(RawAction{EventID: id, UserID: "u", Region: "EU", MatchID: "m"}, models.ActionHeartbeat)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.EventID != id {
		t.Errorf("expected event ID %s, got %s", id, got.EventID)
	}
}
