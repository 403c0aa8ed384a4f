// Package dispatch implements the dispatch plane: FE, the WebSocket
// frontend that classifies and admits inbound frames
// into the Immortal Queue and polls K for outbound delivery; BR, the
// bridge that drains IQ onto the shared work list; and RW, the relay
// worker that parses, validates, stores, matches, and replies.
package dispatch

import "time"

// Config tunes the dispatch plane's timing knobs. All three roles
// share one Config so a single env-derived value set configures a
// whole deployment.
type Config struct {
	// MaxMessageSize bounds a single inbound WebSocket frame.
	MaxMessageSize int64

	// PollInterval is how often FE polls its response list in K.
	PollInterval time.Duration

	// ResponseTTL is the TTL FE refreshes on resp:<connId> each time
	// it consumes from it.
	ResponseTTL time.Duration

	// RefreshEveryNPolls is how many poll ticks elapse between calls
	// to PS.RefreshConnection for a given connection.
	RefreshEveryNPolls int

	// CircuitCloseDelay is how long FE waits before closing a socket
	// after a Critical+circuit-open rejection, so the NOTICE has time
	// to reach the client.
	CircuitCloseDelay time.Duration

	// BridgeBatch is B, the number of messages BR pops from IQ per
	// iteration.
	BridgeBatch int

	// BridgeIdleSleep is how long BR sleeps when IQ.Pop returns
	// nothing.
	BridgeIdleSleep time.Duration

	// BridgeFailureBackoff is how long BR sleeps after a failed RPUSH
	// batch before draining IQ again; the failed batch is not re-sent.
	BridgeFailureBackoff time.Duration

	// WorkerPopTimeout bounds each BLPOP call RW makes; no blocking K
	// call should run longer than 1s.
	WorkerPopTimeout time.Duration

	// WorkerBatch is B, the number of items RW tries to assemble via
	// repeated BLPOP before processing them as a batch.
	WorkerBatch int

	// ResponseWriteTTL is the TTL RW sets on every resp:<connId>
	// entry it writes.
	ResponseWriteTTL time.Duration
}

// DefaultConfig returns standard dispatch cadences: ~100ms poll, ~5s
// response TTL, ~10% refresh rate, ~1s circuit-open close delay,
// B=1000, ~10ms idle sleep, ~1s failure backoff.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:       500_000,
		PollInterval:         100 * time.Millisecond,
		ResponseTTL:          5 * time.Second,
		RefreshEveryNPolls:   10,
		CircuitCloseDelay:    time.Second,
		BridgeBatch:          1000,
		BridgeIdleSleep:      10 * time.Millisecond,
		BridgeFailureBackoff: time.Second,
		WorkerPopTimeout:     time.Second,
		WorkerBatch:          1000,
		ResponseWriteTTL:     5 * time.Second,
	}
}
