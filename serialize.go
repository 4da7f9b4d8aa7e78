package cachekit

import (
	"context"
	"sync"

	"github.com/bool64/ctxd"
	"github.com/cespare/xxhash/v2"
)

const opShards = 64

// queuedOp is a pending continuation together with the context its caller
// enqueued it with. Continuations must run against their own caller's context
// values (TTL override and the like), not the lock holder's.
type queuedOp struct {
	ctx context.Context
	op  func(ctx context.Context)
}

// keyQueue is the advisory lock state of a single key: a held flag and the
// FIFO backlog of continuations waiting for their turn.
type keyQueue struct {
	held    bool
	pending []queuedOp
}

type opShard struct {
	sync.Mutex
	queues map[string]*keyQueue
}

// opTable serializes asynchronous mutations per key without blocking
// mutations on unrelated keys. Keys are sharded to keep lock-table
// contention away from hot paths.
//
// Locks here are advisory: they are honored by the cache's own entry points
// and sweeps, not enforced on the entry map itself.
type opTable struct {
	shards [opShards]opShard

	name string
	log  ctxd.Logger
}

func newOpTable(name string, log ctxd.Logger) *opTable {
	t := &opTable{
		name: name,
		log:  log,
	}

	for i := 0; i < opShards; i++ {
		t.shards[i].queues = make(map[string]*keyQueue)
	}

	return t
}

func (t *opTable) shard(key string) *opShard {
	return &t.shards[xxhash.Sum64String(key)%opShards]
}

// locked reports whether key currently has an operation in flight.
func (t *opTable) locked(key string) bool {
	s := t.shard(key)

	s.Lock()
	q, ok := s.queues[key]
	held := ok && q.held
	s.Unlock()

	return held
}

// anyLocked reports whether any key has an operation in flight.
func (t *opTable) anyLocked() bool {
	for i := range t.shards {
		s := &t.shards[i]

		s.Lock()
		n := len(s.queues)
		s.Unlock()

		if n > 0 {
			return true
		}
	}

	return false
}

// run executes op with the key lock held. If the key is unlocked, op starts
// immediately; otherwise it is appended to that key's FIFO backlog and runs
// when its turn arrives. Continuations for the same key never overlap,
// operations on different keys are fully independent.
func (t *opTable) run(ctx context.Context, key string, op func(ctx context.Context)) {
	s := t.shard(key)

	s.Lock()
	q := s.queues[key]
	if q == nil {
		q = &keyQueue{}
		s.queues[key] = q
	}

	if q.held {
		q.pending = append(q.pending, queuedOp{ctx: ctx, op: op})
		s.Unlock()

		return
	}

	q.held = true
	s.Unlock()

	go t.drain(ctx, s, key, q, op)
}

// drain runs op and then pops queued continuations one by one in FIFO order,
// clearing the queue slot once it is empty. Each continuation runs with the
// context it was enqueued with.
func (t *opTable) drain(ctx context.Context, s *opShard, key string, q *keyQueue, op func(ctx context.Context)) {
	for {
		t.invoke(ctx, key, op)

		s.Lock()

		// A reset can replace the slot mid-flight; only the drain that owns
		// the slot may clear it.
		if s.queues[key] != q {
			s.Unlock()

			return
		}

		if len(q.pending) == 0 {
			delete(s.queues, key)
			s.Unlock()

			return
		}

		next := q.pending[0]
		q.pending = q.pending[1:]
		s.Unlock()

		ctx, op = next.ctx, next.op
	}
}

// invoke shields the drain loop from a misbehaving continuation. A failure
// here cannot be propagated: the caller that enqueued the continuation has
// already been released, so it is logged and the queue moves on.
func (t *opTable) invoke(ctx context.Context, key string, op func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error(ctx, "queued cache operation failed",
				"name", t.name,
				"key", key,
				"panic", r)
		}
	}()

	op(ctx)
}

// reset drops all lock state and backlogs. Pending continuations are not
// drained.
func (t *opTable) reset() {
	for i := range t.shards {
		s := &t.shards[i]

		s.Lock()
		s.queues = make(map[string]*keyQueue)
		s.Unlock()
	}
}
