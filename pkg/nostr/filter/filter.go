// Package filter implements the nostr REQ filter object: a set of
// optional constraints an event must satisfy, and the projection of a
// filter (or an event) onto the subscription-router's index keys.
package filter

import (
	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/nostr/tag"
)

// IndexedTagNames is the set of tag names the subscription router
// indexes directly; every other tag name constraint is handled only by
// full filter re-evaluation after the index lookup. Widening this set
// only changes which tag constraints get an index fast-path, never
// correctness.
var IndexedTagNames = map[string]bool{
	"e": true, "p": true, "a": true, "t": true, "d": true, "r": true, "g": true,
}

// F is a single REQ filter. Every field is optional; an absent field
// admits every event for that dimension. A nil/empty F matches every
// event.
type F struct {
	IDs     []string         `json:"ids,omitempty"`
	Authors []string         `json:"authors,omitempty"`
	Kinds   []int            `json:"kinds,omitempty"`
	Since   *int64           `json:"since,omitempty"`
	Until   *int64           `json:"until,omitempty"`
	Limit   *int             `json:"limit,omitempty"`
	Tags    map[string][]string `json:"-"`
}

// MaxLimit bounds the limit a single filter may request.
const MaxLimit = 5000

// hasKindAuthorOrTagConstraint reports whether f restricts on kind,
// author, or any tag — the dimensions the subscription router indexes.
// A filter with none of these (pure id/time-range/empty) is indexed
// under the catch-all "all" bucket instead.
func (f *F) hasKindAuthorOrTagConstraint() bool {
	if f == nil {
		return false
	}
	if len(f.Kinds) > 0 || len(f.Authors) > 0 {
		return true
	}
	for _, vals := range f.Tags {
		if len(vals) > 0 {
			return true
		}
	}
	return false
}

// Matches reports whether ev satisfies every present field of f.
func (f *F) Matches(ev *event.E) bool {
	if f == nil {
		return true
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, ev.Pubkey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		if !anyTagValueMatches(ev.Tags, name, values) {
			return false
		}
	}
	return true
}

func anyTagValueMatches(tags tag.S, name string, values []string) bool {
	for _, v := range tags.Values(name) {
		if containsString(values, v) {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}
	return false
}

// S is a set of filters, OR-combined: an event or historical query
// matches a subscription if it matches any filter in S.
type S []*F

// MatchesAny reports whether ev matches at least one filter in fs.
func (fs S) MatchesAny(ev *event.E) bool {
	for _, f := range fs {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

// IndexKeys returns the abstract projection tokens f should be
// registered under: one token per kind, one per author, one per
// indexed tag value, and "all" when none of those constraints are
// present. These are
// store-agnostic tokens, not K-store key names; pkg/pubsub maps them
// onto actual index set keys via pkg/kstore's layout helpers.
func (f *F) IndexKeys() []string {
	if !f.hasKindAuthorOrTagConstraint() {
		return []string{"all"}
	}
	var keys []string
	for _, k := range f.Kinds {
		keys = append(keys, keyForKind(k))
	}
	for _, a := range f.Authors {
		keys = append(keys, keyForAuthor(a))
	}
	for name, values := range f.Tags {
		if !IndexedTagNames[name] {
			continue
		}
		for _, v := range values {
			keys = append(keys, keyForTag(name, v))
		}
	}
	if len(keys) == 0 {
		keys = []string{"all"}
	}
	return keys
}

// IndexKeys returns the union of index keys across every filter in fs.
func (fs S) IndexKeys() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range fs {
		for _, k := range f.IndexKeys() {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// CandidateKeys returns the abstract projection tokens that might hold
// a match for ev: "all", the event's kind, the event's author, and one
// token per indexed tag value the event carries.
func CandidateKeys(ev *event.E) []string {
	keys := []string{"all", keyForKind(ev.Kind), keyForAuthor(ev.Pubkey)}
	for _, t := range ev.Tags {
		if len(t) < 2 {
			continue
		}
		if IndexedTagNames[t.Name()] {
			keys = append(keys, keyForTag(t.Name(), t.Value()))
		}
	}
	return keys
}

func keyForKind(k int) string       { return "kind:" + itoa(k) }
func keyForAuthor(pk string) string { return "author:" + pk }
func keyForTag(name, value string) string {
	return "tag:" + name + ":" + value
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
