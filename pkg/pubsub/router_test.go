package pubsub

import (
	"context"
	"testing"

	"relaywright.dev/internal/kstoretest"
	"relaywright.dev/pkg/kstore"
	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/nostr/filter"
	"relaywright.dev/pkg/nostr/tag"
)

func newTestRouter() (*Router, *kstoretest.Client) {
	c := kstoretest.New()
	return New(c, DefaultConfig()), c
}

func TestSubscribeThenUnsubscribeRemovesAllTraces(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRouter()

	f := &filter.F{Kinds: []int{1}, Authors: []string{"A"}}
	if err := r.Subscribe(ctx, "c1", "s1", filter.S{f}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	indexKey := kstore.IndexKindKey(1)
	members, _ := c.SMembers(ctx, indexKey).Result()
	if len(members) != 1 || members[0] != "c1:s1" {
		t.Fatalf("expected c1:s1 in %s, got %v", indexKey, members)
	}

	if existed, err := r.Unsubscribe(ctx, "c1", "s1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	} else if !existed {
		t.Fatalf("expected unsubscribe of a live subscription to report existed=true")
	}

	if _, err := c.Get(ctx, kstore.MetadataKey("c1", "s1")).Result(); err != kstore.ErrNil {
		t.Fatalf("expected metadata to be gone, got err=%v", err)
	}
	members, _ = c.SMembers(ctx, indexKey).Result()
	if len(members) != 0 {
		t.Fatalf("expected index set empty after unsubscribe, got %v", members)
	}
	connMembers, _ := c.SMembers(ctx, kstore.ConnSetKey("c1")).Result()
	if len(connMembers) != 0 {
		t.Fatalf("expected connection set empty after unsubscribe, got %v", connMembers)
	}
}

func TestUnsubscribeOfMissingMetadataIsNoOp(t *testing.T) {
	r, _ := newTestRouter()
	if existed, err := r.Unsubscribe(context.Background(), "ghost", "s1"); err != nil {
		t.Fatalf("expected no-op unsubscribe to succeed, got %v", err)
	} else if existed {
		t.Fatalf("expected no-op unsubscribe to report existed=false")
	}
}

func TestFindMatchingSubscriptionsScenario(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter()

	if err := r.Subscribe(ctx, "c1", "s1", filter.S{{Kinds: []int{1}, Authors: []string{"A"}}}); err != nil {
		t.Fatalf("subscribe c1: %v", err)
	}
	if err := r.Subscribe(ctx, "c2", "s2", filter.S{{Tags: map[string][]string{"e": {"E1"}}}}); err != nil {
		t.Fatalf("subscribe c2: %v", err)
	}

	matching := &event.E{Kind: 1, Pubkey: "A", Tags: tag.S{{"e", "E1"}}}
	matches, err := r.FindMatchingSubscriptions(ctx, matching)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected matching event to match both subscriptions, got %d: %+v", len(matches), matches)
	}

	nonMatching := &event.E{Kind: 1, Pubkey: "B", Tags: nil}
	matches, err = r.FindMatchingSubscriptions(ctx, nonMatching)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %+v", matches)
	}
}

func TestTimeOnlyFilterIndexesToAllAndMatchesWindow(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRouter()

	since := int64(100)
	until := int64(200)
	if err := r.Subscribe(ctx, "c3", "s3", filter.S{{Since: &since, Until: &until}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	members, _ := c.SMembers(ctx, kstore.IndexAllKey()).Result()
	if len(members) != 1 || members[0] != "c3:s3" {
		t.Fatalf("expected c3:s3 indexed under all, got %v", members)
	}

	inWindow := &event.E{Kind: 9, Pubkey: "X", CreatedAt: 150}
	matches, err := r.FindMatchingSubscriptions(ctx, inWindow)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected in-window event to match, got %+v", matches)
	}

	outOfWindow := &event.E{Kind: 9, Pubkey: "X", CreatedAt: 9999}
	matches, err = r.FindMatchingSubscriptions(ctx, outOfWindow)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected out-of-window event not to match, got %+v", matches)
	}

	if err := r.UnsubscribeAll(ctx, "c3"); err != nil {
		t.Fatalf("unsubscribeAll: %v", err)
	}
	members, _ = c.SMembers(ctx, kstore.IndexAllKey()).Result()
	if len(members) != 0 {
		t.Fatalf("expected all-index empty after unsubscribeAll, got %v", members)
	}
}

func TestRefreshConnectionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter()
	if err := r.Subscribe(ctx, "c1", "s1", filter.S{{Kinds: []int{1}}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.RefreshConnection(ctx, "c1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
}

func TestDuplicateSubIDReplacesFilters(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRouter()

	if err := r.Subscribe(ctx, "c1", "s1", filter.S{{Kinds: []int{1}}}); err != nil {
		t.Fatalf("subscribe kind 1: %v", err)
	}
	// Reusing subId with a different filter set replaces it in place;
	// Subscribe itself must clear the stale kind-1 index entry.
	if err := r.Subscribe(ctx, "c1", "s1", filter.S{{Kinds: []int{2}}}); err != nil {
		t.Fatalf("subscribe kind 2: %v", err)
	}

	oldIndex, _ := c.SMembers(ctx, kstore.IndexKindKey(1)).Result()
	if len(oldIndex) != 0 {
		t.Fatalf("expected old kind-1 index cleared, got %v", oldIndex)
	}
	newIndex, _ := c.SMembers(ctx, kstore.IndexKindKey(2)).Result()
	if len(newIndex) != 1 {
		t.Fatalf("expected new kind-2 index populated, got %v", newIndex)
	}
}

func TestCleanupEmptyIndexes(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRouter()
	if err := r.Subscribe(ctx, "c1", "s1", filter.S{{Kinds: []int{1}}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := r.Unsubscribe(ctx, "c1", "s1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := r.CleanupEmptyIndexes(ctx, []string{kstore.IndexKindKey(1)}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	n, _ := c.SCard(ctx, kstore.IndexKindKey(1)).Result()
	if n != 0 {
		t.Fatalf("expected index set gone, card=%d", n)
	}
}
