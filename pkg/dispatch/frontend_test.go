package dispatch

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/queue"
)

func TestReasonForMapsCircuitAndRateLimitToRateLimited(t *testing.T) {
	for _, dr := range []queue.DropReason{queue.DropCircuitOpen, queue.DropRateLimited} {
		if msg := reasonFor(dr); !strings.HasPrefix(msg, "rate-limited:") {
			t.Fatalf("expected rate-limited prefix for %s, got %q", dr, msg)
		}
	}
}

func TestReasonForMapsGateDropsToBlocked(t *testing.T) {
	for _, dr := range []queue.DropReason{queue.DropLowPriority, queue.DropNormalPriority, queue.DropHardCap} {
		if msg := reasonFor(dr); !strings.HasPrefix(msg, "blocked:") {
			t.Fatalf("expected blocked prefix for %s, got %q", dr, msg)
		}
	}
}

func TestPeekEventIDExtractsIDFromValidFrame(t *testing.T) {
	ev := &event.E{Pubkey: strings.Repeat("a", 64), Sig: strings.Repeat("b", 128), Kind: 1}
	ev.ID = ev.ComputeID()
	raw, _ := json.Marshal([]any{"EVENT", ev})

	id, ok := peekEventID(raw)
	if !ok || id != ev.ID {
		t.Fatalf("expected to extract id %s, got id=%s ok=%v", ev.ID, id, ok)
	}
}

func TestPeekEventIDFailsOnGarbage(t *testing.T) {
	if _, ok := peekEventID([]byte(`["EVENT"]`)); ok {
		t.Fatalf("expected failure on malformed EVENT frame")
	}
}

func TestPeekReqSubIDExtractsSubID(t *testing.T) {
	raw, _ := json.Marshal([]any{"REQ", "sub-42", map[string]any{"kinds": []int{1}}})
	subID, ok := peekReqSubID(raw)
	if !ok || subID != "sub-42" {
		t.Fatalf("expected sub-42, got subID=%s ok=%v", subID, ok)
	}
}

func TestIPWhitelistedMatchesPrefix(t *testing.T) {
	if !ipWhitelisted("10.0.0.5:1234", []string{"10.0.0"}) {
		t.Fatalf("expected 10.0.0.5 to match 10.0.0 prefix")
	}
	if ipWhitelisted("192.168.1.1:1234", []string{"10.0.0"}) {
		t.Fatalf("expected 192.168.1.1 not to match 10.0.0 prefix")
	}
}

func TestRemoteAddrPrefersForwardedFor(t *testing.T) {
	r, _ := http.NewRequest("GET", "/", nil)
	r.RemoteAddr = "9.9.9.9:1111"
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	if got := remoteAddr(r); got != "203.0.113.5" {
		t.Fatalf("expected first forwarded address, got %s", got)
	}
}

func TestRemoteAddrFallsBackToRemoteAddr(t *testing.T) {
	r, _ := http.NewRequest("GET", "/", nil)
	r.RemoteAddr = "9.9.9.9:1111"

	if got := remoteAddr(r); got != "9.9.9.9:1111" {
		t.Fatalf("expected fallback to RemoteAddr, got %s", got)
	}
}
