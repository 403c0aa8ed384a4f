package queue

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Capacity:         10,
		RateLimitWindow:  time.Second,
		RateLimitCap:     100,
		CircuitThreshold: 0.95,
		CircuitCooldown:  5 * time.Second,
		LatencyRingSize:  16,
	}
}

func TestHealthyPassthrough(t *testing.T) {
	q := New(testConfig())
	for i := 0; i < 3; i++ {
		out := q.Push([]byte("m"), "A", Normal)
		if !out.Accepted {
			t.Fatalf("push %d rejected: %v", i, out.Reason)
		}
	}
	msgs := q.Pop(10)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.ConnID != "A" || m.Priority != Normal {
			t.Fatalf("unexpected message: %+v", m)
		}
	}
	st := q.Stats()
	if st.State != Healthy || st.Dropped != 0 || st.Processed != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestPriorityGateUnderDegraded(t *testing.T) {
	q := New(testConfig())
	for i := 0; i < 6; i++ {
		if out := q.Push([]byte("m"), "A", Normal); !out.Accepted {
			t.Fatalf("fill push %d rejected: %v", i, out.Reason)
		}
	}
	if st := q.State(); st != Degraded {
		t.Fatalf("expected Degraded at 6/10, got %v", st)
	}
	low := q.Push([]byte("m"), "A", Low)
	if low.Accepted || low.Reason != DropLowPriority {
		t.Fatalf("expected low priority drop, got %+v", low)
	}
	high := q.Push([]byte("m"), "A", High)
	if !high.Accepted {
		t.Fatalf("expected high priority accept, got %+v", high)
	}
	msgs := q.Pop(1)
	if len(msgs) != 1 || msgs[0].Priority != High {
		t.Fatalf("expected High to drain first, got %+v", msgs)
	}
}

func TestRateLimiting(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1000 // isolate the rate limiter from the hard cap
	q := New(cfg)
	now := time.Now()
	for i := 0; i < 100; i++ {
		out := q.pushAt([]byte("m"), "B", Normal, now.Add(100*time.Millisecond))
		if !out.Accepted {
			t.Fatalf("push %d rejected inside cap: %v", i, out.Reason)
		}
	}
	blocked := q.pushAt([]byte("m"), "B", Normal, now.Add(500*time.Millisecond))
	if blocked.Accepted || blocked.Reason != DropRateLimited {
		t.Fatalf("expected 101st push rate limited, got %+v", blocked)
	}
	after := q.pushAt([]byte("m"), "B", Normal, now.Add(1200*time.Millisecond))
	if !after.Accepted {
		t.Fatalf("expected push after window elapses to accept, got %+v", after)
	}
}

func TestCircuitBreaker(t *testing.T) {
	q := New(testConfig())
	now := time.Now()
	for i := 0; i < 10; i++ {
		out := q.pushAt([]byte("m"), "C", Critical, now)
		if !out.Accepted {
			t.Fatalf("fill push %d rejected: %v", i, out.Reason)
		}
	}
	if st := q.State(); st != StateCritical {
		t.Fatalf("expected Critical state at 10/10, got %v", st)
	}
	tripped := q.pushAt([]byte("m"), "D", Critical, now)
	if tripped.Accepted || tripped.Reason != DropCircuitOpen {
		t.Fatalf("expected circuit breaker open rejection, got %+v", tripped)
	}
	q.Pop(10)
	stillOpen := q.pushAt([]byte("m"), "D", Critical, now.Add(time.Second))
	if stillOpen.Accepted {
		t.Fatalf("expected breaker to remain open before cooldown elapses")
	}
	recovered := q.pushAt([]byte("m"), "D", Critical, now.Add(6*time.Second))
	if !recovered.Accepted {
		t.Fatalf("expected push to accept once cooldown elapsed and queue drained, got %+v", recovered)
	}
	if q.Stats().CircuitOpen {
		t.Fatalf("expected breaker closed after recovery push")
	}
}

func TestHardCapAtCapacityBoundary(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitThreshold = 1.0 // isolate the hard cap from the breaker
	q := New(cfg)
	// Critical priority is the only one the gate still admits once
	// utilization reaches the Critical band at 10/10, so the final push
	// gets past the gate and only exercises the hard cap.
	for i := 0; i < 9; i++ {
		if out := q.Push([]byte("m"), "A", Critical); !out.Accepted {
			t.Fatalf("push %d rejected: %v", i, out.Reason)
		}
	}
	almostFull := q.Push([]byte("m"), "A", Critical)
	if !almostFull.Accepted {
		t.Fatalf("expected push at length==capacity-1 to accept")
	}
	overCap := q.Push([]byte("m"), "A", Critical)
	if overCap.Accepted || overCap.Reason != DropHardCap {
		t.Fatalf("expected push at length==capacity to hard-cap reject, got %+v", overCap)
	}
}

func TestPopDrainsHighestPriorityFirst(t *testing.T) {
	q := New(testConfig())
	q.Push([]byte("low"), "A", Low)
	q.Push([]byte("normal"), "A", Normal)
	q.Push([]byte("critical"), "A", Critical)
	q.Push([]byte("high"), "A", High)

	msgs := q.Pop(4)
	order := []Priority{Critical, High, Normal, Low}
	for i, m := range msgs {
		if m.Priority != order[i] {
			t.Fatalf("pop order wrong at %d: got %v want %v", i, m.Priority, order[i])
		}
	}
}

func TestLengthEqualsBucketSum(t *testing.T) {
	q := New(testConfig())
	for i := 0; i < 5; i++ {
		q.Push([]byte("m"), "A", Priority(i%numPriorities))
	}
	if q.Length() != 5 {
		t.Fatalf("expected length 5, got %d", q.Length())
	}
}

func TestResetCircuitBreakerAdminKnob(t *testing.T) {
	q := New(testConfig())
	now := time.Now()
	for i := 0; i < 10; i++ {
		q.pushAt([]byte("m"), "A", Critical, now)
	}
	q.pushAt([]byte("m"), "A", Critical, now)
	if !q.Stats().CircuitOpen {
		t.Fatalf("expected breaker open after overload")
	}
	q.ResetCircuitBreaker()
	if q.Stats().CircuitOpen {
		t.Fatalf("expected breaker closed after ResetCircuitBreaker")
	}
}

func TestSetCapacityAndRateLimit(t *testing.T) {
	q := New(testConfig())
	q.SetCapacity(1)
	first := q.Push([]byte("m"), "A", Normal)
	if !first.Accepted {
		t.Fatalf("expected first push to accept at capacity 1")
	}
	second := q.Push([]byte("m"), "A", Normal)
	if second.Accepted {
		t.Fatalf("expected second push to be rejected at capacity 1")
	}

	q2 := New(testConfig())
	q2.SetRateLimit(1)
	now := time.Now()
	if out := q2.pushAt([]byte("m"), "B", Normal, now); !out.Accepted {
		t.Fatalf("expected first push under rate limit 1 to accept")
	}
	if out := q2.pushAt([]byte("m"), "B", Normal, now); out.Accepted {
		t.Fatalf("expected second push under rate limit 1 to reject")
	}
}

func TestCleanupForgetsStaleConnections(t *testing.T) {
	q := New(testConfig())
	now := time.Now()
	q.pushAt([]byte("m"), "stale", Normal, now.Add(-time.Hour))
	q.Cleanup(time.Minute)
	q.mu.Lock()
	_, exists := q.limiter.windows["stale"]
	q.mu.Unlock()
	if exists {
		t.Fatalf("expected stale connection window to be forgotten")
	}
}

func TestEmptyPopReturnsNoMessages(t *testing.T) {
	q := New(testConfig())
	msgs := q.Pop(5)
	if len(msgs) != 0 {
		t.Fatalf("expected no messages from empty queue, got %d", len(msgs))
	}
}
