package dispatch

import (
	"context"
	"testing"

	"relaywright.dev/internal/kstoretest"
	"relaywright.dev/pkg/kstore"
	"relaywright.dev/pkg/queue"
)

func TestBridgePublishMovesQueueMessagesOntoWorkList(t *testing.T) {
	client := kstoretest.New()
	q := queue.New(queue.DefaultConfig())
	b := NewBridge(q, client, DefaultConfig())

	q.Push([]byte(`["EVENT",{}]`), "connA", queue.Normal)
	q.Push([]byte(`["REQ","s1"]`), "connA", queue.High)

	msgs := q.Pop(10)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 popped messages, got %d", len(msgs))
	}
	if err := b.publish(context.Background(), msgs); err != nil {
		t.Fatalf("publish: %v", err)
	}

	n, err := client.LLen(context.Background(), kstore.WorkListKey).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 items on work list, got %d", n)
	}

	raw, err := client.LPop(context.Background(), kstore.WorkListKey).Result()
	if err != nil {
		t.Fatalf("lpop: %v", err)
	}
	item, err := decodeWorkItem([]byte(raw))
	if err != nil {
		t.Fatalf("decode work item: %v", err)
	}
	if item.ConnID != "connA" {
		t.Fatalf("expected connId connA, got %s", item.ConnID)
	}
}

func TestBridgePublishSkipsNothingOnEmptyBatch(t *testing.T) {
	client := kstoretest.New()
	q := queue.New(queue.DefaultConfig())
	b := NewBridge(q, client, DefaultConfig())

	if err := b.publish(context.Background(), nil); err != nil {
		t.Fatalf("publish of empty batch: %v", err)
	}
	n, err := client.LLen(context.Background(), kstore.WorkListKey).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty work list, got %d", n)
	}
}
