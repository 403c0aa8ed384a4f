// Package verify defines the signature verifier capability interface:
// verify(event) -> bool. The core assumes signature verification is
// the relay worker's CPU bottleneck and may be parallelized across the
// worker pool; this package only describes the contract, not a
// cryptographic implementation.
package verify

import "relaywright.dev/pkg/nostr/event"

// Verifier checks an event's Schnorr signature against its pubkey.
// Implementations must not mutate ev.
type Verifier interface {
	Verify(ev *event.E) (bool, error)
}

// IDOnly is a Verifier that checks only that ev.ID matches its
// recomputed hash, without checking the signature itself. It exists
// so the dispatch plane and its tests can run without pulling in a
// concrete Schnorr implementation; production deployments should
// supply a real Verifier backed by a secp256k1 library.
type IDOnly struct{}

func (IDOnly) Verify(ev *event.E) (bool, error) {
	return ev.IDMatches(), nil
}

var _ Verifier = IDOnly{}
