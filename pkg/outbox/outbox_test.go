package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"imagestudio/pkg/domain"
)

func testImage() domain.GeneratedImage {
	return domain.GeneratedImage{
		ID:        "img-1",
		FileID:    "file-1",
		URL:       "https://cdn.example.com/img.png",
		Prompt:    "a lighthouse at dusk",
		UserEmail: "user@example.com",
	}
}

func newPendingOutboxMessage(t *testing.T) (*RedisOutbox, context.Context, string, string, string) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	o, err := NewRedisOutbox(RedisConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:records",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}

	ctx := context.Background()
	o.ensureGroup(ctx)

	entry, err := o.Enqueue(ctx, testImage())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := o.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    o.group,
		Consumer: "consumer-1",
		Streams:  []string{o.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	record, _ := msg.Values["record"].(string)
	return o, ctx, msg.ID, entry.ID, record
}

func TestRedisOutboxEnqueueCarriesFullRecord(t *testing.T) {
	_, _, _, _, record := newPendingOutboxMessage(t)

	var img domain.GeneratedImage
	if err := json.Unmarshal([]byte(record), &img); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	want := testImage()
	if img.ID != want.ID || img.URL != want.URL || img.UserEmail != want.UserEmail {
		t.Fatalf("record mismatch: %+v", img)
	}
}

func TestRedisOutboxRequeueAndAckSuccess(t *testing.T) {
	o, ctx, msgID, entryID, record := newPendingOutboxMessage(t)

	if err := o.requeueAndAck(ctx, msgID, entryID, record); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := o.client.XPending(ctx, o.stream, o.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := o.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    o.group,
		Consumer: "consumer-2",
		Streams:  []string{o.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["entry_id"] != entryID || got.Values["record"] != record {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisOutboxRequeueFailureKeepsPendingMessage(t *testing.T) {
	o, ctx, msgID, entryID, record := newPendingOutboxMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := o.requeueAndAck(canceledCtx, msgID, entryID, record); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := o.client.XPending(ctx, o.stream, o.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := o.client.XLen(ctx, o.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisOutboxStatusWriteFailureKeepsPendingMessage(t *testing.T) {
	o, ctx, msgID, entryID, record := newPendingOutboxMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	msg := redis.XMessage{ID: msgID, Values: map[string]interface{}{
		"entry_id": entryID,
		"record":   record,
	}}
	o.handleMessage(canceledCtx, msg, func(context.Context, domain.GeneratedImage) error {
		t.Fatal("handler must not run when the status write fails")
		return nil
	})

	// Neither acked nor deleted, so XAutoClaim can pick it back up.
	pending, err := o.client.XPending(ctx, o.stream, o.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected message to remain pending, got %d", pending.Count)
	}
	streamLen, err := o.client.XLen(ctx, o.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected message to remain in stream, got len=%d", streamLen)
	}
}

func TestRedisOutboxEntryStatusLifecycle(t *testing.T) {
	o, ctx, _, entryID, _ := newPendingOutboxMessage(t)

	entry, ok, err := o.Entry(ctx, entryID)
	if err != nil || !ok {
		t.Fatalf("entry lookup: ok=%v err=%v", ok, err)
	}
	if entry.Status != StatusQueued || entry.ImageID != "img-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	if _, err := o.markProcessing(ctx, entryID, "img-1"); err != nil {
		t.Fatalf("markProcessing: %v", err)
	}
	if err := o.markDone(ctx, entryID); err != nil {
		t.Fatalf("markDone: %v", err)
	}
	entry, _, _ = o.Entry(ctx, entryID)
	if entry.Status != StatusDone || entry.Attempts != 1 {
		t.Fatalf("unexpected final entry: %+v", entry)
	}
}

func TestRedisOutboxGroupCreateFailureIsLogged(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	o, err := NewRedisOutbox(RedisConfig{
		Addr:   redisSrv.Addr(),
		Stream: "test:records",
		Group:  "test-group",
	})
	if err != nil {
		t.Fatalf("new outbox: %v", err)
	}
	redisSrv.Close()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	o.ensureGroup(context.Background())
	if !strings.Contains(buf.String(), "outbox group create failed") {
		t.Fatalf("expected group create warning, got %q", buf.String())
	}
}

func TestMemoryOutboxDeliversRecord(t *testing.T) {
	o := NewMemoryOutbox(MemoryConfig{RetryDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.GeneratedImage, 1)
	o.Start(ctx, 1, func(_ context.Context, img domain.GeneratedImage) error {
		got <- img
		return nil
	})

	entry, err := o.Enqueue(ctx, testImage())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case img := <-got:
		if img.ID != "img-1" {
			t.Fatalf("unexpected image: %+v", img)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the record")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		e, _, _ := o.Entry(ctx, entry.ID)
		if e.Status == StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry never marked done: %+v", e)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryOutboxRetriesThenFails(t *testing.T) {
	o := NewMemoryOutbox(MemoryConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	o.Start(ctx, 1, func(context.Context, domain.GeneratedImage) error {
		calls.Add(1)
		return errors.New("db unavailable")
	})

	entry, err := o.Enqueue(ctx, testImage())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		e, _, _ := o.Entry(ctx, entry.ID)
		if e.Status == StatusFailed {
			if e.Attempts != 2 {
				t.Fatalf("attempts = %d, want 2", e.Attempts)
			}
			if e.ErrorMessage != "db unavailable" {
				t.Fatalf("error = %q", e.ErrorMessage)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry never failed: %+v, calls=%d", e, calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
