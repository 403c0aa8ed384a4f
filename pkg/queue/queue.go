package queue

import (
	"sync"
	"time"
)

// Message is a single queued frame: the raw bytes, its admission
// priority, the connection that produced it, and the time it was
// enqueued.
type Message struct {
	Data       []byte
	ConnID     string
	Priority   Priority
	EnqueuedAt time.Time
}

// Config tunes the admission algorithm. All fields have sane
// defaults; zero-value Config is not usable, use DefaultConfig().
type Config struct {
	Capacity         int
	RateLimitWindow  time.Duration
	RateLimitCap     int
	CircuitThreshold float64
	CircuitCooldown  time.Duration
	LatencyRingSize  int
}

// DefaultConfig returns production-sized defaults: capacity 1000,
// rate window 1s capped at 100, breaker trips at 95% utilization with
// a 5s cooldown.
func DefaultConfig() Config {
	return Config{
		Capacity:         1000,
		RateLimitWindow:  time.Second,
		RateLimitCap:     100,
		CircuitThreshold: 0.95,
		CircuitCooldown:  5 * time.Second,
		LatencyRingSize:  1000,
	}
}

// Queue is the Immortal Queue: a bounded, priority-partitioned,
// in-process queue with a circuit breaker and per-connection rate
// limiting. All operations are O(1) or O(n) in n requested, and hold
// a single mutex only briefly; IQ never suspends.
type Queue struct {
	mu sync.Mutex

	capacity int
	buckets  [numPriorities][]*Message

	breaker *breaker
	limiter *rateLimiter
	latency *latencyRing

	processed uint64
	dropped   uint64
	byReason  map[DropReason]uint64
}

// New builds a Queue from cfg.
func New(cfg Config) *Queue {
	return &Queue{
		capacity: cfg.Capacity,
		breaker:  newBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		limiter:  newRateLimiter(cfg.RateLimitWindow, cfg.RateLimitCap),
		latency:  newLatencyRing(cfg.LatencyRingSize),
		byReason: make(map[DropReason]uint64),
	}
}

func (q *Queue) length() int {
	n := 0
	for _, b := range q.buckets {
		n += len(b)
	}
	return n
}

func (q *Queue) utilization() float64 {
	if q.capacity <= 0 {
		return 1
	}
	return float64(q.length()) / float64(q.capacity)
}

// Push attempts to admit data from connID at priority p. It never
// blocks and never panics; overload is always expressed as a rejected
// Outcome. Admission order: circuit breaker, rate limit, priority
// gate, hard cap.
func (q *Queue) Push(data []byte, connID string, p Priority) Outcome {
	return q.pushAt(data, connID, p, time.Now())
}

func (q *Queue) pushAt(data []byte, connID string, p Priority, now time.Time) Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()

	state := stateFor(q.utilization())

	if q.breaker.admit(now, q.utilization()) {
		return q.reject(DropCircuitOpen, state)
	}

	if !q.limiter.admit(connID, now) {
		return q.reject(DropRateLimited, state)
	}

	if reason, ok := gate(state, p); !ok {
		return q.reject(reason, state)
	}

	if q.length() >= q.capacity {
		return q.reject(DropHardCap, state)
	}

	q.buckets[p] = append(q.buckets[p], &Message{
		Data:       data,
		ConnID:     connID,
		Priority:   p,
		EnqueuedAt: now,
	})
	q.processed++
	return Outcome{Accepted: true, State: stateFor(q.utilization())}
}

// gate implements the priority gate: Healthy admits all, Degraded
// drops Low, Overloaded drops Low and Normal, Critical admits only
// Critical.
func gate(state State, p Priority) (DropReason, bool) {
	switch state {
	case StateCritical:
		if p != Critical {
			return DropLowPriority, false
		}
	case Overloaded:
		switch p {
		case Low:
			return DropLowPriority, false
		case Normal:
			return DropNormalPriority, false
		}
	case Degraded:
		if p == Low {
			return DropLowPriority, false
		}
	}
	return DropNone, true
}

func (q *Queue) reject(reason DropReason, state State) Outcome {
	q.dropped++
	q.byReason[reason]++
	return Outcome{Accepted: false, Reason: reason, State: state}
}

// Pop drains up to n messages, highest priority first, and records
// the call's latency in the ring buffer. Partial batches are returned
// rather than waiting for more to arrive.
func (q *Queue) Pop(n int) []*Message {
	start := time.Now()
	q.mu.Lock()
	defer func() {
		q.latency.record(time.Since(start))
		q.mu.Unlock()
	}()

	if n <= 0 {
		return nil
	}
	out := make([]*Message, 0, n)
	for p := 0; p < numPriorities && len(out) < n; p++ {
		need := n - len(out)
		bucket := q.buckets[p]
		if len(bucket) <= need {
			out = append(out, bucket...)
			q.buckets[p] = nil
		} else {
			out = append(out, bucket[:need]...)
			q.buckets[p] = bucket[need:]
		}
	}
	return out
}

// Length returns the current total queued message count.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length()
}

// Utilization returns length/capacity.
func (q *Queue) Utilization() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.utilization()
}

// State returns the current derived health state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return stateFor(q.utilization())
}

// Stats returns a point-in-time snapshot of IQ's counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byReason := make(map[DropReason]uint64, len(q.byReason))
	for k, v := range q.byReason {
		byReason[k] = v
	}
	return Stats{
		Length:          q.length(),
		Capacity:        q.capacity,
		Utilization:     q.utilization(),
		State:           stateFor(q.utilization()),
		Processed:       q.processed,
		Dropped:         q.dropped,
		DroppedByReason: byReason,
		CircuitOpen:     q.breaker.isOpen(),
		RecentLatencies: q.latency.snapshot(),
	}
}

// SetCapacity adjusts the hard cap at runtime; an operator knob for
// relieving sustained overload without a restart.
func (q *Queue) SetCapacity(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capacity = capacity
}

// SetRateLimit adjusts the per-connection cap at runtime.
func (q *Queue) SetRateLimit(cap int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.limiter.setCap(cap)
}

// ResetCircuitBreaker forces the breaker closed, for operator
// intervention after confirming downstream recovery.
func (q *Queue) ResetCircuitBreaker() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.breaker.reset()
}

// Cleanup forgets rate-limit windows that started at least maxAge
// ago, preventing the per-connection map from growing
// without bound across connection churn.
func (q *Queue) Cleanup(maxAge time.Duration) {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	for connID, w := range q.limiter.windows {
		if now.Sub(w.windowStart) >= maxAge {
			q.limiter.forget(connID)
		}
	}
}
