package queue

import "time"

// breaker is the single-threshold circuit breaker guarding IQ from
// sustained overload. Unlike a request-rate breaker it trips on
// utilization, not on error count: once u crosses thetaOpen the
// breaker opens for a fixed cooldown, during which every push is
// rejected regardless of priority.
type breaker struct {
	open      bool
	openUntil time.Time
	thetaOpen float64
	cooldown  time.Duration
}

func newBreaker(thetaOpen float64, cooldown time.Duration) *breaker {
	return &breaker{thetaOpen: thetaOpen, cooldown: cooldown}
}

// admit evaluates the breaker against the current utilization and
// reports whether a push should be rejected for "circuit breaker
// open". Caller holds the queue's lock.
func (b *breaker) admit(now time.Time, utilization float64) (reject bool) {
	if b.open {
		if now.Before(b.openUntil) {
			return true
		}
		b.open = false
	}
	if utilization > b.thetaOpen {
		b.open = true
		b.openUntil = now.Add(b.cooldown)
		return true
	}
	return false
}

func (b *breaker) reset() {
	b.open = false
	b.openUntil = time.Time{}
}

func (b *breaker) isOpen() bool {
	return b.open
}
