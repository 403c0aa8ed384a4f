package storage

import (
	"context"
	"sort"
	"sync"

	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/nostr/filter"
)

// MemStore is an in-memory Engine, backed by a linear-scan slice. It
// exists for tests and for running the relay worker without a
// persistent backend; it holds no index beyond the id map used to
// detect duplicates. Replaceable-event supersession is found by a
// linear scan.
type MemStore struct {
	mu     sync.RWMutex
	events []*event.E
	byID   map[string]int // index into events
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]int)}
}

func (m *MemStore) Store(_ context.Context, ev *event.E) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[ev.ID]; exists {
		return false, ReasonDuplicate, nil
	}

	if event.IsEphemeral(ev.Kind) {
		return false, ReasonEphemeralStore, nil
	}

	if event.IsReplaceable(ev.Kind) {
		if idx := m.findReplaceable(ev.Pubkey, ev.Kind); idx >= 0 {
			if ev.CreatedAt < m.events[idx].CreatedAt {
				return false, ReasonSuperseded, nil
			}
			m.replaceAt(idx, ev)
			return true, "", nil
		}
	}

	if event.IsParameterizedReplaceable(ev.Kind) {
		d := ev.Tags.GetFirst("d")
		if d == nil {
			return false, ReasonMissingDTag, nil
		}
		if idx := m.findAddressable(ev.Pubkey, ev.Kind, d.Value()); idx >= 0 {
			if ev.CreatedAt < m.events[idx].CreatedAt {
				return false, ReasonSuperseded, nil
			}
			m.replaceAt(idx, ev)
			return true, "", nil
		}
	}

	m.append(ev)
	return true, "", nil
}

func (m *MemStore) findReplaceable(pubkey string, kind int) int {
	for i, e := range m.events {
		if e.Pubkey == pubkey && e.Kind == kind {
			return i
		}
	}
	return -1
}

func (m *MemStore) findAddressable(pubkey string, kind int, d string) int {
	for i, e := range m.events {
		if e.Pubkey != pubkey || e.Kind != kind {
			continue
		}
		if t := e.Tags.GetFirst("d"); t != nil && t.Value() == d {
			return i
		}
	}
	return -1
}

func (m *MemStore) append(ev *event.E) {
	m.events = append(m.events, ev)
	m.byID[ev.ID] = len(m.events) - 1
}

func (m *MemStore) replaceAt(idx int, ev *event.E) {
	old := m.events[idx]
	delete(m.byID, old.ID)
	m.events[idx] = ev
	m.byID[ev.ID] = idx
}

func (m *MemStore) Query(_ context.Context, fs filter.S, limit int) ([]*event.E, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*event.E
	for _, e := range m.events {
		if fs.MatchesAny(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.byID[id]
	if !ok {
		return nil
	}
	delete(m.byID, id)
	m.events = append(m.events[:idx], m.events[idx+1:]...)
	for i := idx; i < len(m.events); i++ {
		m.byID[m.events[i].ID] = i
	}
	return nil
}

func (m *MemStore) Close() error { return nil }

var _ Engine = (*MemStore)(nil)
