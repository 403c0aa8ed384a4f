// Package kstore defines the narrow capability interface the core
// needs from the external key/value store: strings with TTL, sets,
// hashes, lists with blocking pop, and pipelines. It deliberately
// mirrors the method set of *redis.Client from
// github.com/redis/go-redis/v9 rather than inventing its own verbs,
// so a real client satisfies it with no adapter code, while a fake
// built from go-redis's own exported Cmd constructors can stand in
// for tests.
package kstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the subset of redis.Cmdable the core depends on, grouped
// by concern: strings with TTL, sets, hashes, lists, pipelines.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd

	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	SUnion(ctx context.Context, keys ...string) *redis.StringSliceCmd

	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HLen(ctx context.Context, key string) *redis.IntCmd

	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	LPopCount(ctx context.Context, key string, count int) *redis.StringSliceCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd

	TxPipeline() redis.Pipeliner
	Pipeline() redis.Pipeliner
}

// compile-time assertion that the real client satisfies Client.
var _ Client = (*redis.Client)(nil)

// ErrNil is returned by Get when the key does not exist. Re-exported
// so callers don't need to import go-redis directly just to compare
// against the miss sentinel.
var ErrNil = redis.Nil

// CallTimeout bounds every blocking K operation: no call against the
// store may block indefinitely.
const CallTimeout = time.Second

// WithTimeout returns a context bounded by CallTimeout and its cancel
// func; callers defer the cancel.
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, CallTimeout)
}
