// Package kstoretest provides an in-memory fake satisfying
// kstore.Client, for unit tests across pkg/pubsub and pkg/dispatch
// that would otherwise need a live Redis to exercise. It implements
// just enough of strings/sets/hashes/lists/pipelines to back the
// core's actual call patterns; it is not a general Redis emulator.
package kstoretest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"relaywright.dev/pkg/kstore"
)

var _ kstore.Client = (*Client)(nil)

// Client is a goroutine-safe, in-memory stand-in for kstore.Client.
type Client struct {
	mu      sync.Mutex
	strings map[string]string
	sets    map[string]map[string]struct{}
	hashes  map[string]map[string]string
	lists   map[string][]string
}

// New returns an empty fake store.
func New() *Client {
	return &Client{
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
	}
}

func toStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func (c *Client) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	c.mu.Lock()
	c.strings[key] = toStr(value)
	c.mu.Unlock()
	cmd.SetVal("OK")
	return cmd
}

func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	c.mu.Lock()
	v, ok := c.strings[key]
	c.mu.Unlock()
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	c.mu.Lock()
	for _, k := range keys {
		if _, ok := c.strings[k]; ok {
			delete(c.strings, k)
			n++
		}
		if _, ok := c.sets[k]; ok {
			delete(c.sets, k)
			n++
		}
		if _, ok := c.hashes[k]; ok {
			delete(c.hashes, k)
			n++
		}
		if _, ok := c.lists[k]; ok {
			delete(c.lists, k)
			n++
		}
	}
	c.mu.Unlock()
	cmd.SetVal(n)
	return cmd
}

// Expire is a no-op: this fake does not model real expiry, only the
// membership and ordering semantics the router and dispatch plane
// depend on in tests.
func (c *Client) Expire(ctx context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func (c *Client) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	c.mu.Lock()
	set, ok := c.sets[key]
	if !ok {
		set = make(map[string]struct{})
		c.sets[key] = set
	}
	var added int64
	for _, m := range members {
		s := toStr(m)
		if _, exists := set[s]; !exists {
			set[s] = struct{}{}
			added++
		}
	}
	c.mu.Unlock()
	cmd.SetVal(added)
	return cmd
}

func (c *Client) SRem(ctx context.Context, key string, members ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	c.mu.Lock()
	if set, ok := c.sets[key]; ok {
		for _, m := range members {
			s := toStr(m)
			if _, exists := set[s]; exists {
				delete(set, s)
				removed++
			}
		}
	}
	c.mu.Unlock()
	cmd.SetVal(removed)
	return cmd
}

func (c *Client) SMembers(ctx context.Context, key string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	c.mu.Lock()
	set := c.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	c.mu.Unlock()
	cmd.SetVal(out)
	return cmd
}

func (c *Client) SCard(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	c.mu.Lock()
	n := len(c.sets[key])
	c.mu.Unlock()
	cmd.SetVal(int64(n))
	return cmd
}

func (c *Client) SUnion(ctx context.Context, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	union := make(map[string]struct{})
	c.mu.Lock()
	for _, k := range keys {
		for m := range c.sets[k] {
			union[m] = struct{}{}
		}
	}
	c.mu.Unlock()
	out := make([]string, 0, len(union))
	for m := range union {
		out = append(out, m)
	}
	cmd.SetVal(out)
	return cmd
}

func (c *Client) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	c.mu.Lock()
	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string]string)
		c.hashes[key] = h
	}
	var n int64
	for i := 0; i+1 < len(values); i += 2 {
		field := toStr(values[i])
		if _, exists := h[field]; !exists {
			n++
		}
		h[field] = toStr(values[i+1])
	}
	c.mu.Unlock()
	cmd.SetVal(n)
	return cmd
}

func (c *Client) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	c.mu.Lock()
	v, ok := c.hashes[key][field]
	c.mu.Unlock()
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (c *Client) HLen(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	c.mu.Lock()
	n := len(c.hashes[key])
	c.mu.Unlock()
	cmd.SetVal(int64(n))
	return cmd
}

func (c *Client) LPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	c.mu.Lock()
	for _, v := range values {
		c.lists[key] = append([]string{toStr(v)}, c.lists[key]...)
	}
	n := len(c.lists[key])
	c.mu.Unlock()
	cmd.SetVal(int64(n))
	return cmd
}

func (c *Client) RPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	c.mu.Lock()
	for _, v := range values {
		c.lists[key] = append(c.lists[key], toStr(v))
	}
	n := len(c.lists[key])
	c.mu.Unlock()
	cmd.SetVal(int64(n))
	return cmd
}

func (c *Client) LPop(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.lists[key]
	if len(list) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(list[0])
	c.lists[key] = list[1:]
	return cmd
}

func (c *Client) LPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.lists[key]
	if len(list) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	if count > len(list) {
		count = len(list)
	}
	cmd.SetVal(list[:count])
	c.lists[key] = list[count:]
	return cmd
}

// BLPop does not actually block: it pops immediately if any key has
// an entry, or returns redis.Nil otherwise. Tests that need blocking
// semantics should poll in a loop, same as the real worker does with
// its own short timeout.
func (c *Client) BLPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		list := c.lists[key]
		if len(list) > 0 {
			cmd.SetVal([]string{key, list[0]})
			c.lists[key] = list[1:]
			return cmd
		}
	}
	cmd.SetErr(redis.Nil)
	return cmd
}

func (c *Client) LLen(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	c.mu.Lock()
	n := len(c.lists[key])
	c.mu.Unlock()
	cmd.SetVal(int64(n))
	return cmd
}

// pipeline queues actions against the owning Client and runs them in
// order on Exec, each wrapped so one failing action doesn't stop the
// rest — matching the real client's MULTI/EXEC semantics closely
// enough for the transactional invariants the router tests check.
type pipeline struct {
	redis.Pipeliner
	client *Client
	ops    []func()
}

func (p *pipeline) Set(ctx context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	p.ops = append(p.ops, func() { p.client.Set(ctx, key, value, exp) })
	cmd.SetVal("QUEUED")
	return cmd
}

func (p *pipeline) Expire(ctx context.Context, key string, exp time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	p.ops = append(p.ops, func() { p.client.Expire(ctx, key, exp) })
	cmd.SetVal(true)
	return cmd
}

func (p *pipeline) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	p.ops = append(p.ops, func() { p.client.Del(ctx, keys...) })
	return cmd
}

func (p *pipeline) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	p.ops = append(p.ops, func() { p.client.SAdd(ctx, key, members...) })
	return cmd
}

func (p *pipeline) SRem(ctx context.Context, key string, members ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	p.ops = append(p.ops, func() { p.client.SRem(ctx, key, members...) })
	return cmd
}

func (p *pipeline) RPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	p.ops = append(p.ops, func() { p.client.RPush(ctx, key, values...) })
	return cmd
}

func (p *pipeline) Exec(context.Context) ([]redis.Cmder, error) {
	for _, op := range p.ops {
		op()
	}
	p.ops = nil
	return nil, nil
}

func (c *Client) TxPipeline() redis.Pipeliner {
	return &pipeline{client: c}
}

func (c *Client) Pipeline() redis.Pipeliner {
	return &pipeline{client: c}
}
