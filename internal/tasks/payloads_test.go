package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"

	"studyhub/internal/logging"
)

func TestNewBlobCleanupTask(t *testing.T) {
	task, err := NewBlobCleanupTask([]string{"sheets/1/a.pdf"}, "sheet deleted", "cid-1")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if task.Type() != TypeBlobCleanup {
		t.Fatalf("unexpected type %q", task.Type())
	}
	var payload BlobCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Keys) != 1 || payload.CorrelationID != "cid-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAsynqEnqueuerUsesContextCorrelationID(t *testing.T) {
	mr := miniredis.RunT(t)
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = inspector.Close() })

	enq := NewAsynqEnqueuer(client)
	ctx := logging.WithCorrelationID(context.Background(), "req-42")

	if err := enq.EnqueueBlobCleanup(ctx, nil, "nothing", ""); err != nil {
		t.Fatalf("empty keys must be a no-op: %v", err)
	}
	if err := enq.EnqueueBlobCleanup(ctx, []string{"slips/1/a.png"}, "payment slip replaced", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, err := inspector.ListPendingTasks("default")
		if err == nil && len(pending) == 1 {
			var payload BlobCleanupPayload
			if err := json.Unmarshal(pending[0].Payload, &payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.CorrelationID != "req-42" {
				t.Fatalf("expected context correlation id, got %q", payload.CorrelationID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task not enqueued: %v %d", err, len(pending))
		}
		time.Sleep(20 * time.Millisecond)
	}
}
