// shared/eventlog/codec.go
package eventlog

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/models"
)

// ErrMalformedRecord marks a log entry that cannot be decoded into a GameAction.
var ErrMalformedRecord = errors.New("malformed event log record")

// Stream entry field names.
const (
	fieldEventID    = "eventId"
	fieldUserID     = "userId"
	fieldRegion     = "region"
	fieldMatchID    = "matchId"
	fieldAction     = "action"
	fieldAmount     = "amount"
	fieldOccurredAt = "occurredAt"
)

func encodeAction(a models.GameAction) map[string]interface{} {
	return map[string]interface{}{
		fieldEventID:    a.EventID,
		fieldUserID:     a.UserID,
		fieldRegion:     string(a.Region),
		fieldMatchID:    a.MatchID,
		fieldAction:     string(a.Kind),
		fieldAmount:     strconv.FormatInt(a.Amount, 10),
		fieldOccurredAt: strconv.FormatInt(a.OccurredAtMillis(), 10),
	}
}

// decodeAction rebuilds a GameAction from stream entry values. Entries are
// re-checked because the log may be replayed from before the current rules.
func decodeAction(values map[string]interface{}) (models.GameAction, error) {
	str := func(field string) (string, error) {
		v, ok := values[field]
		if !ok {
			return "", fmt.Errorf("%w: missing field %s", ErrMalformedRecord, field)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return "", fmt.Errorf("%w: field %s is empty or not a string", ErrMalformedRecord, field)
		}
		return s, nil
	}

	var a models.GameAction
	var err error
	if a.EventID, err = str(fieldEventID); err != nil {
		return a, err
	}
	if a.UserID, err = str(fieldUserID); err != nil {
		return a, err
	}
	if a.MatchID, err = str(fieldMatchID); err != nil {
		return a, err
	}

	raw, err := str(fieldRegion)
	if err != nil {
		return a, err
	}
	if a.Region, err = models.ParseRegion(raw); err != nil {
		return a, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	if raw, err = str(fieldAction); err != nil {
		return a, err
	}
	if a.Kind, err = models.ParseActionKind(raw); err != nil {
		return a, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	if raw, err = str(fieldAmount); err != nil {
		return a, err
	}
	if a.Amount, err = strconv.ParseInt(raw, 10, 64); err != nil {
		return a, fmt.Errorf("%w: invalid amount %q", ErrMalformedRecord, raw)
	}
	switch {
	case a.Kind == models.ActionHeartbeat && a.Amount != 0:
		return a, fmt.Errorf("%w: heartbeat with amount %d", ErrMalformedRecord, a.Amount)
	case a.Kind == models.ActionDrink && a.Amount < 1:
		return a, fmt.Errorf("%w: drink with amount %d", ErrMalformedRecord, a.Amount)
	}

	if raw, err = str(fieldOccurredAt); err != nil {
		return a, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return a, fmt.Errorf("%w: invalid occurredAt %q", ErrMalformedRecord, raw)
	}
	a.OccurredAt = time.UnixMilli(ms).UTC()

	return a, nil
}
