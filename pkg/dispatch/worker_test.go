package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"relaywright.dev/internal/kstoretest"
	"relaywright.dev/pkg/kstore"
	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/nostr/filter"
	"relaywright.dev/pkg/pubsub"
	"relaywright.dev/pkg/storage"
	"relaywright.dev/pkg/verify"
)

func testWorker(client kstore.Client) *Worker {
	router := pubsub.New(client, pubsub.DefaultConfig())
	store := storage.NewMemStore()
	return NewWorker(client, router, store, verify.IDOnly{}, DefaultConfig())
}

func sampleEvent(kind int, content string) *event.E {
	e := &event.E{
		Pubkey:    strings.Repeat("a", 64),
		CreatedAt: 1700000000,
		Kind:      kind,
		Content:   content,
		Sig:       strings.Repeat("c", 128),
	}
	e.ID = e.ComputeID()
	return e
}

func eventFrame(t *testing.T, ev *event.E) []byte {
	t.Helper()
	raw, err := json.Marshal([]any{"EVENT", ev})
	if err != nil {
		t.Fatalf("marshal event frame: %v", err)
	}
	return raw
}

func reqFrame(t *testing.T, subID string, filters ...map[string]any) []byte {
	t.Helper()
	arr := []any{"REQ", subID}
	for _, f := range filters {
		arr = append(arr, f)
	}
	raw, err := json.Marshal(arr)
	if err != nil {
		t.Fatalf("marshal req frame: %v", err)
	}
	return raw
}

func closeFrame(t *testing.T, subID string) []byte {
	t.Helper()
	raw, err := json.Marshal([]any{"CLOSE", subID})
	if err != nil {
		t.Fatalf("marshal close frame: %v", err)
	}
	return raw
}

func drainResponses(t *testing.T, client *kstoretest.Client, connID string) []string {
	t.Helper()
	ctx := context.Background()
	out, err := client.LPopCount(ctx, kstore.ResponseListKey(connID), 100).Result()
	if err != nil && err != kstore.ErrNil {
		t.Fatalf("drain responses: %v", err)
	}
	return out
}

func TestHandleEventStoresAndReplies(t *testing.T) {
	client := kstoretest.New()
	w := testWorker(client)
	ev := sampleEvent(1, "hello")

	w.handleEvent(context.Background(), "conn1", eventFrame(t, ev))

	frames := drainResponses(t, client, "conn1")
	if len(frames) != 1 {
		t.Fatalf("expected 1 reply frame, got %d", len(frames))
	}
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(frames[0]), &arr); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	var verb, id string
	var ok bool
	json.Unmarshal(arr[0], &verb)
	json.Unmarshal(arr[1], &id)
	json.Unmarshal(arr[2], &ok)
	if verb != "OK" || id != ev.ID || !ok {
		t.Fatalf("expected OK true reply for %s, got verb=%s id=%s ok=%v", ev.ID, verb, id, ok)
	}
}

func TestHandleEventRejectsBadStructure(t *testing.T) {
	client := kstoretest.New()
	w := testWorker(client)
	ev := sampleEvent(1, "hello")
	ev.ID = "not-valid-hex-id"

	w.handleEvent(context.Background(), "conn1", eventFrame(t, ev))

	frames := drainResponses(t, client, "conn1")
	if len(frames) != 1 {
		t.Fatalf("expected 1 reply frame, got %d", len(frames))
	}
	var arr []json.RawMessage
	json.Unmarshal([]byte(frames[0]), &arr)
	var ok bool
	json.Unmarshal(arr[2], &ok)
	if ok {
		t.Fatalf("expected rejection for malformed id")
	}
}

func TestHandleReqStreamsHistoryThenEOSE(t *testing.T) {
	client := kstoretest.New()
	w := testWorker(client)
	ev := sampleEvent(1, "stored before subscribing")
	if ok, _, err := w.Storage.Store(context.Background(), ev); err != nil || !ok {
		t.Fatalf("seed store: ok=%v err=%v", ok, err)
	}

	w.handleReq(context.Background(), "conn1", reqFrame(t, "sub1", map[string]any{"kinds": []int{1}}))

	frames := drainResponses(t, client, "conn1")
	if len(frames) != 2 {
		t.Fatalf("expected historical EVENT + EOSE, got %d frames: %v", len(frames), frames)
	}
	var last []json.RawMessage
	json.Unmarshal([]byte(frames[len(frames)-1]), &last)
	var verb string
	json.Unmarshal(last[0], &verb)
	if verb != "EOSE" {
		t.Fatalf("expected last frame to be EOSE, got %s", verb)
	}
}

func TestHandleCloseRepliesClosed(t *testing.T) {
	client := kstoretest.New()
	w := testWorker(client)
	w.handleReq(context.Background(), "conn1", reqFrame(t, "sub1", map[string]any{"kinds": []int{1}}))
	drainResponses(t, client, "conn1") // discard EOSE

	w.handleClose(context.Background(), "conn1", closeFrame(t, "sub1"))

	frames := drainResponses(t, client, "conn1")
	if len(frames) != 1 {
		t.Fatalf("expected 1 CLOSED reply, got %d", len(frames))
	}
	var arr []json.RawMessage
	json.Unmarshal([]byte(frames[0]), &arr)
	var verb string
	json.Unmarshal(arr[0], &verb)
	if verb != "CLOSED" {
		t.Fatalf("expected CLOSED, got %s", verb)
	}
}

func TestHandleCloseOfUnknownSubscriptionSendsNoReply(t *testing.T) {
	client := kstoretest.New()
	w := testWorker(client)

	w.handleClose(context.Background(), "conn1", closeFrame(t, "never-subscribed"))

	frames := drainResponses(t, client, "conn1")
	if len(frames) != 0 {
		t.Fatalf("expected no reply for a nonexistent subscription, got %d: %v", len(frames), frames)
	}
}

func TestHandleEventFansOutToMatchingSubscriptions(t *testing.T) {
	client := kstoretest.New()
	w := testWorker(client)

	if err := w.Router.Subscribe(context.Background(), "sub-conn", "s1", filter.S{{Kinds: []int{1}}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := sampleEvent(1, "broadcast me")
	w.handleEvent(context.Background(), "author-conn", eventFrame(t, ev))

	frames := drainResponses(t, client, "sub-conn")
	if len(frames) != 1 {
		t.Fatalf("expected matching subscriber to receive 1 EVENT frame, got %d", len(frames))
	}
	var arr []json.RawMessage
	json.Unmarshal([]byte(frames[0]), &arr)
	var verb string
	json.Unmarshal(arr[0], &verb)
	if verb != "EVENT" {
		t.Fatalf("expected EVENT frame, got %s", verb)
	}
}

func TestCollectBatchGathersQueuedItems(t *testing.T) {
	client := kstoretest.New()
	w := testWorker(client)
	cfg := w.Cfg
	cfg.WorkerPopTimeout = 1
	cfg.WorkerBatch = 5
	w.Cfg = cfg

	for i := 0; i < 3; i++ {
		item, _ := encodeWorkItem("connX", eventFrame(t, sampleEvent(1, "x")))
		client.RPush(context.Background(), kstore.WorkListKey, item)
	}

	batch := w.collectBatch(context.Background())
	if len(batch) != 3 {
		t.Fatalf("expected 3 collected items, got %d", len(batch))
	}
}
