// Package storage defines the search/storage engine capability
// interface — store/query/delete — plus two implementations: memstore
// for tests and badgerstore for a real embedded, persistent engine.
package storage

import (
	"context"

	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/nostr/filter"
)

// Engine is what the relay worker consumes to persist events and
// answer historical REQ queries. The core makes no assumption about
// the backing technology.
type Engine interface {
	// Store persists ev, applying NIP-01 replaceable/addressable/
	// ephemeral semantics. ok is false with a human-readable reason
	// when the event is rejected (duplicate, superseded, blocked);
	// err is reserved for engine-level failure (disk, corruption).
	Store(ctx context.Context, ev *event.E) (ok bool, reason string, err error)

	// Query streams events matching any filter in fs, most recent
	// first, up to limit results. A limit <= 0 means unbounded.
	Query(ctx context.Context, fs filter.S, limit int) ([]*event.E, error)

	// DeleteByID removes a single event, honoring NIP-09-style
	// deletion requests.
	DeleteByID(ctx context.Context, id string) error

	// Close releases any resources the engine holds open.
	Close() error
}

// Rejection reasons, mirrored into OK-false frames by the dispatch
// plane.
const (
	ReasonDuplicate      = "duplicate: event already exists"
	ReasonSuperseded     = "blocked: event is older than existing replaceable event"
	ReasonEphemeralStore = "blocked: ephemeral events are not stored"
	ReasonMissingDTag    = "invalid: parameterized replaceable event missing d tag"
)
