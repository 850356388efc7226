package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"studyhub/internal/database"
)

func TestRedisPublisherDeliversToUserChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, Channel(7))
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sheet := &database.Sheet{SubjectName: "Calculus", Status: database.SheetApproved}
	sheet.ID = 3
	if err := NewRedisPublisher(client).Publish(ctx, 7, SheetReviewed(sheet)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != TypeSheetApproved || ev.ID != "sheet-approved-3" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestEventBuilders(t *testing.T) {
	rejected := &database.Sheet{SubjectName: "Physics", Status: database.SheetRejected, RejectionReason: "blurry"}
	ev := SheetReviewed(rejected)
	if ev.Type != TypeSheetRejected || ev.Data["reason"] != "blurry" {
		t.Fatalf("unexpected rejected event %+v", ev)
	}

	order := &database.Order{SheetID: 4, Sheet: &database.Sheet{SubjectName: "Biology"}}
	order.ID = 11
	ev = PaymentConfirmed(order)
	if ev.ID != "order-confirmed-11" || ev.Message != `Your payment for "Biology" has been confirmed` {
		t.Fatalf("unexpected payment event %+v", ev)
	}

	ev = UploaderReviewed(&database.UploaderProfile{IsApproved: false})
	if ev.Type != TypeUploaderRevoked {
		t.Fatalf("unexpected uploader event %+v", ev)
	}
}
