package storage

import (
	"context"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"

	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/nostr/filter"
)

// eventKeyPrefix namespaces event rows so the store can later hold
// other key families without collision; there is deliberately no
// secondary index, only this prefix and a linear scan, per the
// engine's KV-plus-scan design.
const eventKeyPrefix = "ev:"

func eventKey(id string) []byte {
	return append([]byte(eventKeyPrefix), id...)
}

// BadgerStore is a persistent Engine backed by an embedded
// github.com/dgraph-io/badger/v4 instance. It holds events as
// id -> JSON blob and answers Query with a full scan and re-evaluation
// of the requested filters, trading query latency under large data
// sets for zero index-maintenance cost.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if absent) a badger database rooted
// at dataDir.
func OpenBadgerStore(dataDir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dataDir, 0755); chk.E(err) {
		return nil, err
	}
	opts := badger.DefaultOptions(dataDir)
	opts.Compression = options.None
	opts.Logger = badgerLogAdapter{}

	db, err := badger.Open(opts)
	if chk.E(err) {
		return nil, err
	}
	log.I.F("%s: storage engine opened", dataDir)
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) Store(_ context.Context, ev *event.E) (bool, string, error) {
	if event.IsEphemeral(ev.Kind) {
		return false, ReasonEphemeralStore, nil
	}

	var accepted bool
	var reason string
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(eventKey(ev.ID)); err == nil {
			accepted, reason = false, ReasonDuplicate
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		var supersedeID string
		if event.IsReplaceable(ev.Kind) {
			existing, err := scanOne(txn, func(e *event.E) bool {
				return e.Pubkey == ev.Pubkey && e.Kind == ev.Kind
			})
			if err != nil {
				return err
			}
			if existing != nil {
				if ev.CreatedAt < existing.CreatedAt {
					accepted, reason = false, ReasonSuperseded
					return nil
				}
				supersedeID = existing.ID
			}
		} else if event.IsParameterizedReplaceable(ev.Kind) {
			d := ev.Tags.GetFirst("d")
			if d == nil {
				accepted, reason = false, ReasonMissingDTag
				return nil
			}
			existing, err := scanOne(txn, func(e *event.E) bool {
				if e.Pubkey != ev.Pubkey || e.Kind != ev.Kind {
					return false
				}
				t := e.Tags.GetFirst("d")
				return t != nil && t.Value() == d.Value()
			})
			if err != nil {
				return err
			}
			if existing != nil {
				if ev.CreatedAt < existing.CreatedAt {
					accepted, reason = false, ReasonSuperseded
					return nil
				}
				supersedeID = existing.ID
			}
		}

		if supersedeID != "" {
			if err := txn.Delete(eventKey(supersedeID)); chk.E(err) {
				return err
			}
		}
		blob, err := ev.Marshal()
		if err != nil {
			return err
		}
		accepted = true
		return txn.Set(eventKey(ev.ID), blob)
	})
	if err != nil {
		return false, "", err
	}
	return accepted, reason, nil
}

func (b *BadgerStore) Query(_ context.Context, fs filter.S, limit int) ([]*event.E, error) {
	var out []*event.E
	err := b.db.View(func(txn *badger.Txn) error {
		return forEachEvent(txn, func(ev *event.E) error {
			if fs.MatchesAny(ev) {
				out = append(out, ev)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByCreatedAtDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *BadgerStore) DeleteByID(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(eventKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// scanOne returns the first stored event matching pred, or nil.
func scanOne(txn *badger.Txn, pred func(*event.E) bool) (*event.E, error) {
	var found *event.E
	err := forEachEvent(txn, func(ev *event.E) error {
		if found == nil && pred(ev) {
			found = ev
		}
		return nil
	})
	return found, err
}

// forEachEvent iterates every stored event, decoding its JSON blob.
// There is no secondary index to narrow this scan; callers filter in
// memory, which is adequate for the data sizes a single badger
// instance behind one relay worker pool is expected to hold.
func forEachEvent(txn *badger.Txn, fn func(*event.E) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(eventKeyPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var ev event.E
		if err := item.Value(func(val []byte) error {
			return ev.Unmarshal(val)
		}); err != nil {
			return err
		}
		if err := fn(&ev); err != nil {
			return err
		}
	}
	return nil
}

func sortByCreatedAtDesc(evs []*event.E) {
	sort.Slice(evs, func(i, j int) bool { return evs[i].CreatedAt > evs[j].CreatedAt })
}

// badgerLogAdapter routes badger's internal logging through the
// relay's own logger rather than badger's default stdlib logger.
type badgerLogAdapter struct{}

func (badgerLogAdapter) Errorf(f string, a ...any)   { log.E.F(f, a...) }
func (badgerLogAdapter) Warningf(f string, a ...any) { log.W.F(f, a...) }
func (badgerLogAdapter) Infof(f string, a ...any)    { log.I.F(f, a...) }
func (badgerLogAdapter) Debugf(f string, a ...any)   { log.D.F(f, a...) }

var _ Engine = (*BadgerStore)(nil)
