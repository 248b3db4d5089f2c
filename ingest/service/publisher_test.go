package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/eventlog"
	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"go.uber.org/zap/zaptest"
)

type fakeAppender struct {
	mu       sync.Mutex
	failures int // number of leading calls that fail
	calls    []appendCall
}

type appendCall struct {
	partition eventlog.Partition
	action    models.GameAction
}

func (f *fakeAppender) Append(ctx context.Context, p eventlog.Partition, action models.GameAction) (eventlog.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, appendCall{partition: p, action: action})
	if len(f.calls) <= f.failures {
		return eventlog.Receipt{}, errors.New("connection refused")
	}
	return eventlog.Receipt{Partition: p, Offset: "1700000000000-0"}, nil
}

func newTestPublisher(t *testing.T, log LogAppender, attempts uint) (*Publisher, *eventlog.Partitioner) {
	t.Helper()
	partitioner, err := eventlog.NewPartitioner(8)
	if err != nil {
		t.Fatalf("NewPartitioner() error = %v", err)
	}
	cfg := PublisherConfig{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxElapsed: time.Second}
	return NewPublisher(log, partitioner, cfg, zaptest.NewLogger(t)), partitioner
}

func testAction() models.GameAction {
	return models.GameAction{
		EventID:    "0b9d4c9e-8f1e-4c38-9f59-3c1c1c4b8f11",
		UserID:     "user-1",
		Region:     models.RegionEU,
		MatchID:    "match-1",
		Kind:       models.ActionDrink,
		Amount:     3,
		OccurredAt: ingestNow,
	}
}

func TestPublish_PartitionsByMatch(t *testing.T) {
	log := &fakeAppender{}
	pub, partitioner := newTestPublisher(t, log, 3)

	receipt, err := pub.Publish(context.Background(), testAction())
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	want := partitioner.PartitionFor("match-1")
	if receipt.Partition != want {
		t.Errorf("expected partition %s, got %s", want, receipt.Partition)
	}
	if len(log.calls) != 1 || log.calls[0].partition != want {
		t.Errorf("expected one append to %s, got %+v", want, log.calls)
	}
}

func TestPublish_RetriesWithSameEventID(t *testing.T) {
	log := &fakeAppender{failures: 2}
	pub, _ := newTestPublisher(t, log, 5)

	if _, err := pub.Publish(context.Background(), testAction()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(log.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(log.calls))
	}
	for i, c := range log.calls {
		if c.action.EventID != testAction().EventID {
			t.Errorf("attempt %d used event ID %s", i+1, c.action.EventID)
		}
	}
}

func TestPublish_ExhaustionReturnsPublishError(t *testing.T) {
	log := &fakeAppender{failures: 100}
	pub, _ := newTestPublisher(t, log, 3)

	_, err := pub.Publish(context.Background(), testAction())
	var perr *PublishError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PublishError, got %v", err)
	}
	if perr.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", perr.Attempts)
	}
	if len(log.calls) != 3 {
		t.Errorf("expected 3 appends, got %d", len(log.calls))
	}
}

func TestPublish_CanceledContextStopsRetrying(t *testing.T) {
	log := &fakeAppender{failures: 100}
	pub, _ := newTestPublisher(t, log, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pub.Publish(ctx, testAction())
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if len(log.calls) > 1 {
		t.Errorf("expected at most one attempt after cancellation, got %d", len(log.calls))
	}
}
