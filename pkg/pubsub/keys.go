// Package pubsub implements the subscription router (PS): an
// inverted index of active subscriptions kept in an external K-store,
// used to find, for a newly accepted event, the small set of
// subscriptions whose filters it satisfies without iterating all of
// them.
package pubsub

import (
	"strconv"
	"strings"

	"relaywright.dev/pkg/kstore"
)

// indexSetKey maps one of filter.F's abstract projection tokens
// ("all", "kind:<k>", "author:<pk>", "tag:<n>:<v>") onto the actual
// K-store index set key it belongs in.
func indexSetKey(token string) string {
	if token == "all" {
		return kstore.IndexAllKey()
	}
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return kstore.IndexAllKey()
	}
	switch parts[0] {
	case "kind":
		k, err := strconv.Atoi(parts[1])
		if err != nil {
			return kstore.IndexAllKey()
		}
		return kstore.IndexKindKey(k)
	case "author":
		return kstore.IndexAuthorKey(parts[1])
	case "tag":
		nv := strings.SplitN(parts[1], ":", 2)
		if len(nv) != 2 {
			return kstore.IndexAllKey()
		}
		return kstore.IndexTagKey(nv[0], nv[1])
	default:
		return kstore.IndexAllKey()
	}
}

// member is the value stored in index sets: "connId:subId".
func member(connID, subID string) string {
	return connID + ":" + subID
}

// splitMember reverses member. connIds are UUIDs and never contain
// ":", so the first colon is always the separator even if a
// client-chosen subId happens to contain one.
func splitMember(m string) (connID, subID string, ok bool) {
	i := strings.Index(m, ":")
	if i < 0 {
		return "", "", false
	}
	return m[:i], m[i+1:], true
}
