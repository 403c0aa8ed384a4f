package kstore

import "strconv"

// Key layout. Everything subscription-related lives under "sub:";
// response and work lists live under their own prefixes so a single K
// instance can back multiple concerns without key collisions.
const (
	WorkListKey = "nostr:work"

	indexAllKey = "sub:index:all"
)

// MetadataKey is the string key holding a subscription's JSON-encoded
// filter list.
func MetadataKey(connID, subID string) string {
	return "sub:" + connID + ":" + subID
}

// ConnSetKey is the set key holding a connection's live subscription
// ids.
func ConnSetKey(connID string) string {
	return "sub:conn:" + connID
}

// IndexKindKey is the index set key for subscriptions restricted to
// kind k.
func IndexKindKey(k int) string {
	return "sub:index:kind:" + strconv.Itoa(k)
}

// IndexAuthorKey is the index set key for subscriptions restricted to
// author pubkey.
func IndexAuthorKey(pubkey string) string {
	return "sub:index:author:" + pubkey
}

// IndexTagKey is the index set key for subscriptions restricting tag
// name to value.
func IndexTagKey(name, value string) string {
	return "sub:index:tag:" + name + ":" + value
}

// IndexAllKey is the index set key for subscriptions with no
// kind/author/tag constraint (pure time-range or empty filters).
func IndexAllKey() string {
	return indexAllKey
}

// ResponseListKey is the per-connection outbound response list key.
func ResponseListKey(connID string) string {
	return "resp:" + connID
}
