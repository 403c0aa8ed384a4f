package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relaywright.dev/pkg/kstore"
	"relaywright.dev/pkg/nostr/event"
	"relaywright.dev/pkg/nostr/filter"
)

// Config tunes the TTL discipline subscriptions are kept under:
// T_INDEX must be strictly greater than T_SUB so stale index entries
// can be recognized by metadata absence rather than producing
// dangling references.
type Config struct {
	SubTTL   time.Duration
	IndexTTL time.Duration
}

// DefaultConfig returns the standard TTL pair: T_SUB=300s,
// T_INDEX=600s.
func DefaultConfig() Config {
	return Config{SubTTL: 300 * time.Second, IndexTTL: 600 * time.Second}
}

// Router is the subscription router (PS). It owns no in-process
// state; every operation reads and writes through the K-store client,
// so any number of FE/RW processes can share one Router instance
// description without coordination beyond K itself.
type Router struct {
	client kstore.Client
	cfg    Config
}

// New builds a Router backed by client. cfg.IndexTTL must exceed
// cfg.SubTTL; New does not validate this, callers should start from
// DefaultConfig.
func New(client kstore.Client, cfg Config) *Router {
	return &Router{client: client, cfg: cfg}
}

// Subscribe is an idempotent replace: it writes the subscription's
// metadata and connection-set membership, and adds connId:subId to
// every index set its filters project onto, all as one pipelined
// transaction, then stamps fresh TTLs on every key touched.
func (r *Router) Subscribe(ctx context.Context, connID, subID string, filters filter.S) error {
	ctx, cancel := kstore.WithTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("pubsub: marshal filters: %w", err)
	}

	mem := member(connID, subID)
	metaKey := kstore.MetadataKey(connID, subID)
	connKey := kstore.ConnSetKey(connID)
	indexKeys := uniqueIndexSetKeys(filters)

	// A REQ reusing an existing subId replaces that subscription's
	// filters. Look up what it was indexed under before overwriting its
	// metadata, so the stale index entries can be dropped in the same
	// transaction instead of waiting on IndexTTL to age them out.
	var oldIndexKeys []string
	if raw, err := r.client.Get(ctx, metaKey).Result(); err == nil {
		var oldFilters filter.S
		if jerr := json.Unmarshal([]byte(raw), &oldFilters); jerr == nil {
			oldIndexKeys = uniqueIndexSetKeys(oldFilters)
		}
	} else if err != kstore.ErrNil {
		return fmt.Errorf("pubsub: load prior metadata for %s: %w", mem, err)
	}

	pipe := r.client.TxPipeline()
	for _, key := range oldIndexKeys {
		pipe.SRem(ctx, key, mem)
	}
	pipe.Set(ctx, metaKey, payload, r.cfg.SubTTL)
	pipe.SAdd(ctx, connKey, subID)
	pipe.Expire(ctx, connKey, r.cfg.SubTTL)
	for _, key := range indexKeys {
		pipe.SAdd(ctx, key, mem)
		pipe.Expire(ctx, key, r.cfg.IndexTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pubsub: subscribe %s: %w", mem, err)
	}
	return nil
}

// Unsubscribe removes subId's metadata, its connection-set membership,
// and its entries from every index set its stored filters project
// onto. If the metadata key is already gone the call is a no-op and
// reports existed=false, so callers can tell a real unsubscribe apart
// from one that found nothing to do.
func (r *Router) Unsubscribe(ctx context.Context, connID, subID string) (existed bool, err error) {
	ctx, cancel := kstore.WithTimeout(ctx)
	defer cancel()

	metaKey := kstore.MetadataKey(connID, subID)
	raw, err := r.client.Get(ctx, metaKey).Result()
	if err != nil {
		if err == kstore.ErrNil {
			return false, nil
		}
		return false, fmt.Errorf("pubsub: load metadata for %s:%s: %w", connID, subID, err)
	}

	var filters filter.S
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return false, fmt.Errorf("pubsub: decode metadata for %s:%s: %w", connID, subID, err)
	}

	mem := member(connID, subID)
	indexKeys := uniqueIndexSetKeys(filters)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, metaKey)
	pipe.SRem(ctx, kstore.ConnSetKey(connID), subID)
	for _, key := range indexKeys {
		pipe.SRem(ctx, key, mem)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("pubsub: unsubscribe %s: %w", mem, err)
	}
	return true, nil
}

// UnsubscribeAll tears down every subscription connId owns, then
// deletes its connection-set. Called from FE on socket close.
func (r *Router) UnsubscribeAll(ctx context.Context, connID string) error {
	listCtx, cancel := kstore.WithTimeout(ctx)
	subIDs, err := r.client.SMembers(listCtx, kstore.ConnSetKey(connID)).Result()
	cancel()
	if err != nil {
		return fmt.Errorf("pubsub: list subscriptions for %s: %w", connID, err)
	}
	for _, subID := range subIDs {
		if _, err := r.Unsubscribe(ctx, connID, subID); err != nil {
			return err
		}
	}
	delCtx, cancel := kstore.WithTimeout(ctx)
	defer cancel()
	if err := r.client.Del(delCtx, kstore.ConnSetKey(connID)).Err(); err != nil {
		return fmt.Errorf("pubsub: delete connection set for %s: %w", connID, err)
	}
	return nil
}

// RefreshConnection re-applies TTLs on every key belonging to connId's
// live subscriptions: its connection-set, each subscription's
// metadata, and each subscription's current index keys. Idempotent —
// calling it repeatedly has the same TTL outcome as calling it once.
func (r *Router) RefreshConnection(ctx context.Context, connID string) error {
	listCtx, cancel := kstore.WithTimeout(ctx)
	subIDs, err := r.client.SMembers(listCtx, kstore.ConnSetKey(connID)).Result()
	cancel()
	if err != nil {
		return fmt.Errorf("pubsub: list subscriptions for %s: %w", connID, err)
	}
	if len(subIDs) == 0 {
		return nil
	}

	refreshCtx, cancel := kstore.WithTimeout(ctx)
	defer cancel()
	pipe := r.client.Pipeline()
	pipe.Expire(refreshCtx, kstore.ConnSetKey(connID), r.cfg.SubTTL)
	for _, subID := range subIDs {
		metaKey := kstore.MetadataKey(connID, subID)
		pipe.Expire(refreshCtx, metaKey, r.cfg.SubTTL)
	}
	if _, err := pipe.Exec(refreshCtx); err != nil {
		return fmt.Errorf("pubsub: refresh metadata TTLs for %s: %w", connID, err)
	}

	for _, subID := range subIDs {
		raw, err := r.client.Get(refreshCtx, kstore.MetadataKey(connID, subID)).Result()
		if err != nil {
			continue // metadata expired between the two pipelines; next refresh heals it
		}
		var filters filter.S
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			continue
		}
		indexPipe := r.client.Pipeline()
		for _, key := range uniqueIndexSetKeys(filters) {
			indexPipe.Expire(refreshCtx, key, r.cfg.IndexTTL)
		}
		if _, err := indexPipe.Exec(refreshCtx); err != nil {
			return fmt.Errorf("pubsub: refresh index TTLs for %s:%s: %w", connID, subID, err)
		}
	}
	return nil
}

// Match is a candidate found by FindMatchingSubscriptions: the
// subscription id and the filters that were live at match time.
type Match struct {
	ConnID  string
	SubID   string
	Filters filter.S
}

// FindMatchingSubscriptions computes ev's candidate index keys,
// SUNIONs them to get a candidate set of connId:subId members, loads
// each candidate's stored filters, and keeps only those whose full
// filter set actually matches ev. The index is a lossy prefilter;
// this re-evaluation is mandatory, not an optimization.
func (r *Router) FindMatchingSubscriptions(ctx context.Context, ev *event.E) ([]Match, error) {
	ctx, cancel := kstore.WithTimeout(ctx)
	defer cancel()

	candidateKeys := make([]string, 0, len(filter.CandidateKeys(ev)))
	for _, token := range filter.CandidateKeys(ev) {
		candidateKeys = append(candidateKeys, indexSetKey(token))
	}

	members, err := r.client.SUnion(ctx, candidateKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("pubsub: sunion candidates: %w", err)
	}

	var matches []Match
	for _, m := range members {
		connID, subID, ok := splitMember(m)
		if !ok {
			continue
		}
		raw, err := r.client.Get(ctx, kstore.MetadataKey(connID, subID)).Result()
		if err != nil {
			continue // stale index entry: metadata already expired
		}
		var filters filter.S
		if err := json.Unmarshal([]byte(raw), &filters); err != nil {
			continue
		}
		if filters.MatchesAny(ev) {
			matches = append(matches, Match{ConnID: connID, SubID: subID, Filters: filters})
		}
	}
	return matches, nil
}

// CleanupEmptyIndexes is a maintenance sweep that deletes any of the
// given index set keys whose cardinality has dropped to zero, so
// orphaned sets aren't left to live out their full TTL.
func (r *Router) CleanupEmptyIndexes(ctx context.Context, keys []string) error {
	ctx, cancel := kstore.WithTimeout(ctx)
	defer cancel()
	for _, key := range keys {
		n, err := r.client.SCard(ctx, key).Result()
		if err != nil {
			continue
		}
		if n == 0 {
			_ = r.client.Del(ctx, key).Err()
		}
	}
	return nil
}

// uniqueIndexSetKeys projects filters onto the union of their index
// tokens and resolves each token to its K-store key, deduplicated.
func uniqueIndexSetKeys(filters filter.S) []string {
	seen := make(map[string]bool)
	var out []string
	for _, token := range filters.IndexKeys() {
		key := indexSetKey(token)
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}
