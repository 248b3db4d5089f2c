package eventlog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ftotnem/GO-PIPELINE/shared/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

// replicaHook answers WAIT with a fixed replica count, since miniredis has no
// replication, and records which commands travelled together.
type replicaHook struct {
	mu        sync.Mutex
	replicas  int64
	pipelines [][]string
	singles   []string
}

func (h *replicaHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *replicaHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		h.singles = append(h.singles, cmd.Name())
		h.mu.Unlock()
		return next(ctx, cmd)
	}
}

func (h *replicaHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		var names []string
		var forward []redis.Cmder
		for _, cmd := range cmds {
			names = append(names, cmd.Name())
			if cmd.Name() == "wait" {
				cmd.(*redis.Cmd).SetVal(h.replicas)
				continue
			}
			forward = append(forward, cmd)
		}
		h.mu.Lock()
		h.pipelines = append(h.pipelines, names)
		h.mu.Unlock()
		return next(ctx, forward)
	}
}

// appendPipelines returns the recorded pipelines that carried an XADD,
// leaving out connection setup.
func (h *replicaHook) appendPipelines() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out [][]string
	for _, names := range h.pipelines {
		if slices.Contains(names, "xadd") {
			out = append(out, names)
		}
	}
	return out
}

func newReplicatedClient(t *testing.T, replicas int64) (*redis.Client, *replicaHook) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	hook := &replicaHook{replicas: replicas}
	client.AddHook(hook)
	return client, hook
}

func drink(eventID, userID, matchID string, amount int64, at time.Time) models.GameAction {
	return models.GameAction{
		EventID:    eventID,
		UserID:     userID,
		Region:     models.RegionEU,
		MatchID:    matchID,
		Kind:       models.ActionDrink,
		Amount:     amount,
		OccurredAt: at,
	}
}

func TestPartitioner_SameMatchSamePartition(t *testing.T) {
	p, err := NewPartitioner(8)
	if err != nil {
		t.Fatalf("NewPartitioner() error = %v", err)
	}

	seen := make(map[Partition]bool)
	for i := 0; i < 200; i++ {
		matchID := fmt.Sprintf("match-%d", i)
		first := p.PartitionFor(matchID)
		if again := p.PartitionFor(matchID); again != first {
			t.Fatalf("match %s moved from %s to %s", matchID, first, again)
		}
		if first < 0 || int(first) >= 8 {
			t.Fatalf("partition %d out of range", first)
		}
		seen[first] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected matches to spread over several partitions, got %d", len(seen))
	}
}

func TestNewPartitioner_RejectsZero(t *testing.T) {
	if _, err := NewPartitioner(0); err == nil {
		t.Fatal("expected error for zero partitions")
	}
}

func TestParsePartition(t *testing.T) {
	for _, tt := range []struct {
		in      string
		want    Partition
		wantErr bool
	}{
		{"p0", 0, false},
		{"p12", 12, false},
		{"12", 0, true},
		{"p-1", 0, true},
		{"px", 0, true},
	} {
		got, err := ParsePartition(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePartition(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePartition(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestProducerConsumer_AppendReadAck(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	producer := NewProducer(client, ProducerOptions{StreamPrefix: "game-actions", MaxLen: 1000})
	consumer := NewConsumer(client, 3, ConsumerOptions{
		StreamPrefix: "game-actions",
		Group:        "leaderboard-projector",
		Name:         "leaderboard-p3",
		BatchSize:    10,
	})
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}
	// A second call must tolerate the existing group.
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() second call error = %v", err)
	}

	base := time.UnixMilli(1_700_000_000_000).UTC()
	var receipts []Receipt
	for i, amount := range []int64{60, 100, 80} {
		r, err := producer.Append(ctx, 3, drink(fmt.Sprintf("evt-%d", i), fmt.Sprintf("user-%d", i+1), "match-1", amount, base))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if r.Partition != 3 || r.Offset == "" {
			t.Fatalf("unexpected receipt %+v", r)
		}
		receipts = append(receipts, r)
	}

	records, err := consumer.ReadNew(ctx)
	if err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Err != nil {
			t.Fatalf("record %d: unexpected decode error %v", i, rec.Err)
		}
		if rec.ID != receipts[i].Offset {
			t.Errorf("record %d: expected ID %s, got %s", i, receipts[i].Offset, rec.ID)
		}
		if rec.Partition != 3 {
			t.Errorf("record %d: expected partition p3, got %s", i, rec.Partition)
		}
	}
	if got := records[1].Action; got.UserID != "user-2" || got.Amount != 100 || got.Kind != models.ActionDrink || !got.OccurredAt.Equal(base) {
		t.Errorf("unexpected decoded action %+v", got)
	}

	// Nothing is acknowledged yet, so all three are pending for this consumer.
	pending, err := consumer.ReadPending(ctx, "0")
	if err != nil {
		t.Fatalf("ReadPending() error = %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending records, got %d", len(pending))
	}

	if err := consumer.Ack(ctx, records[0].ID, records[1].ID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	pending, err = consumer.ReadPending(ctx, "0")
	if err != nil {
		t.Fatalf("ReadPending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != records[2].ID {
		t.Fatalf("expected only %s pending, got %+v", records[2].ID, pending)
	}

	// Reading after the last pending ID yields nothing.
	pending, err = consumer.ReadPending(ctx, records[2].ID)
	if err != nil {
		t.Fatalf("ReadPending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending records after %s, got %d", records[2].ID, len(pending))
	}

	again, err := consumer.ReadNew(ctx)
	if err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no new records, got %d", len(again))
	}
}

func TestConsumer_MalformedEntry(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	consumer := NewConsumer(client, 0, ConsumerOptions{
		StreamPrefix: "game-actions",
		Group:        "presence-projector",
		Name:         "presence-p0",
	})
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey("game-actions", 0),
		Values: map[string]interface{}{"userId": "user-1", "garbage": "x"},
	}).Err()
	if err != nil {
		t.Fatalf("XAdd() error = %v", err)
	}

	records, err := consumer.ReadNew(ctx)
	if err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if !errors.Is(records[0].Err, ErrMalformedRecord) {
		t.Errorf("expected ErrMalformedRecord, got %v", records[0].Err)
	}
}

func TestDecodeAction_RejectsInconsistentValues(t *testing.T) {
	valid := encodeAction(drink("evt-1", "user-1", "match-1", 5, time.UnixMilli(1_700_000_000_000)))

	tests := []struct {
		name  string
		field string
		value interface{}
	}{
		{"unknown region", fieldRegion, "MARS"},
		{"unknown action", fieldAction, "JUMP"},
		{"non numeric amount", fieldAmount, "five"},
		{"zero drink", fieldAmount, "0"},
		{"missing timestamp", fieldOccurredAt, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := make(map[string]interface{}, len(valid))
			for k, v := range valid {
				values[k] = v
			}
			values[tt.field] = tt.value

			if _, err := decodeAction(values); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}

func TestProducer_WaitsForReplicasOnAppendConnection(t *testing.T) {
	ctx := context.Background()
	client, hook := newReplicatedClient(t, 2)

	producer := NewProducer(client, ProducerOptions{
		StreamPrefix: "game-actions",
		MinReplicas:  2,
		WaitTimeout:  50 * time.Millisecond,
	})
	r, err := producer.Append(ctx, 1, drink("evt-1", "user-1", "match-1", 5, time.UnixMilli(1_700_000_000_000)))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if r.Offset == "" || r.Partition != 1 {
		t.Fatalf("unexpected receipt %+v", r)
	}

	if got := hook.appendPipelines(); len(got) != 1 || !slices.Equal(got[0], []string{"xadd", "wait"}) {
		t.Errorf("expected XADD and WAIT in one pipeline, got %v", got)
	}
	if len(client.XRange(ctx, StreamKey("game-actions", 1), "-", "+").Val()) != 1 {
		t.Error("expected the entry to be written")
	}
}

func TestProducer_TooFewReplicasFailsAppend(t *testing.T) {
	ctx := context.Background()
	client, _ := newReplicatedClient(t, 1)

	producer := NewProducer(client, ProducerOptions{
		StreamPrefix: "game-actions",
		MinReplicas:  2,
		WaitTimeout:  50 * time.Millisecond,
	})
	_, err := producer.Append(ctx, 1, drink("evt-1", "user-1", "match-1", 5, time.UnixMilli(1_700_000_000_000)))
	if err == nil {
		t.Fatal("expected an error when fewer replicas confirm the append")
	}
	if !strings.Contains(err.Error(), "confirmed by 1 of 2 replicas") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestProducer_NoWaitWithoutMinReplicas(t *testing.T) {
	ctx := context.Background()
	client, hook := newReplicatedClient(t, 0)

	producer := NewProducer(client, ProducerOptions{StreamPrefix: "game-actions"})
	if _, err := producer.Append(ctx, 0, drink("evt-1", "user-1", "match-1", 5, time.UnixMilli(1_700_000_000_000))); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if got := hook.appendPipelines(); len(got) != 0 {
		t.Errorf("expected a plain XADD, got pipelines %v", got)
	}
	hook.mu.Lock()
	defer hook.mu.Unlock()
	if slices.Contains(hook.singles, "wait") {
		t.Errorf("expected no WAIT, got %v", hook.singles)
	}
}

func TestConsumer_ResetGroupDropsPendingAndRedelivers(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	producer := NewProducer(client, ProducerOptions{StreamPrefix: "game-actions"})
	consumer := NewConsumer(client, 2, ConsumerOptions{
		StreamPrefix: "game-actions",
		Group:        "leaderboard-projector",
		Name:         "leaderboard-projector-p2",
	})
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() error = %v", err)
	}

	base := time.UnixMilli(1_700_000_000_000).UTC()
	for i := 0; i < 3; i++ {
		if _, err := producer.Append(ctx, 2, drink(fmt.Sprintf("evt-%d", i), "user-1", "match-1", 10, base)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	first, err := consumer.ReadNew(ctx)
	if err != nil || len(first) != 3 {
		t.Fatalf("ReadNew() = %d records, %v", len(first), err)
	}
	// Acknowledge the first two; the last stays pending.
	if err := consumer.Ack(ctx, first[0].ID, first[1].ID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}

	if err := consumer.ResetGroup(ctx); err != nil {
		t.Fatalf("ResetGroup() error = %v", err)
	}

	pending, err := consumer.ReadPending(ctx, "0")
	if err != nil {
		t.Fatalf("ReadPending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending records after reset, got %d", len(pending))
	}

	again, err := consumer.ReadNew(ctx)
	if err != nil {
		t.Fatalf("ReadNew() error = %v", err)
	}
	if len(again) != 3 {
		t.Fatalf("expected all 3 records redelivered, got %d", len(again))
	}
	for i := range again {
		if again[i].ID != first[i].ID {
			t.Errorf("record %d: expected %s, got %s", i, first[i].ID, again[i].ID)
		}
	}
}
