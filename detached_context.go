package cachekit

import (
	"context"
	"time"
)

// detachedContext inherits values of the parent context, but not its
// cancellation. Queued continuations run after their originating caller has
// already been released, so they must not die with its context.
type detachedContext struct {
	ctx context.Context
}

func (dctx detachedContext) Deadline() (deadline time.Time, ok bool) {
	return time.Time{}, false
}

func (dctx detachedContext) Done() <-chan struct{} {
	return nil
}

func (dctx detachedContext) Err() error {
	return nil
}

func (dctx detachedContext) Value(key interface{}) interface{} {
	return dctx.ctx.Value(key)
}
