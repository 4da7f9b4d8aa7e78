package cachekit

import (
	"context"
	"time"
)

type (
	skipReadCtxKey struct{}
	ttlCtxKey      struct{}
)

// DefaultTTL indicates that the cache instance default should be used for
// entry expiration time.
const DefaultTTL = time.Duration(0)

// WithTTL returns context with an entry expiration override for a single write.
func WithTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, ttlCtxKey{}, ttl)
}

// TTL returns entry expiration override or DefaultTTL if none is set.
func TTL(ctx context.Context) time.Duration {
	ttl, _ := ctx.Value(ttlCtxKey{}).(time.Duration)
	return ttl
}

// WithSkipRead returns context with cache read ignored.
//
// With such context Cache.Get always reports a miss, discarding cached value.
func WithSkipRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipReadCtxKey{}, true)
}

// SkipRead returns true if cache read is ignored in context.
func SkipRead(ctx context.Context) bool {
	_, ok := ctx.Value(skipReadCtxKey{}).(bool)
	return ok
}
