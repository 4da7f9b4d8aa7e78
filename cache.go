package cachekit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// Config controls cache instance.
type Config struct {
	// Logger is an instance of contextualized logger, default is no-op.
	Logger ctxd.Logger

	// Stats is metrics collector, default is no-op.
	Stats stats.Tracker

	// Name is cache instance name, used in stats and logging.
	Name string

	// MaxSize is the maximum number of entries, default 1000.
	MaxSize int

	// TimeToLive is delay before entry expiration, default 5m.
	TimeToLive time.Duration

	// CleanupInterval is delay between two background cleanup sweeps, default 1m.
	CleanupInterval time.Duration

	// CapacitySweepRatio is the fill fraction above which a non-aggressive
	// cleanup also runs the capacity sweep, default 0.8.
	CapacitySweepRatio float64

	// CapacityTargetRatio is the fill fraction the capacity sweep evicts
	// down to, default 0.7.
	CapacityTargetRatio float64

	// Now is the time source for expiry and eviction scoring, default time.Now.
	Now func() time.Time

	// Registry receives this instance for coordinated memory reclamation,
	// can be nil.
	Registry *Registry

	// Priority orders coordinated reclamation, 1 is reclaimed first and 10
	// last, default 5. Values outside 1..10 are clamped.
	Priority int
}

var instanceSeq int64

// Cache is a TTL-bounded, capacity-bounded key/value cache with per-key
// serialization of asynchronous mutations.
//
// Please use New to create an instance.
type Cache[V any] struct {
	mu   sync.RWMutex
	data map[string]*entry[V]

	ops      *opTable
	cleaning atomic.Bool
	closed   chan struct{}
	destroy  sync.Once

	id     string
	config Config
	log    ctxd.Logger
	stat   stats.Tracker
	now    func() time.Time
}

// New creates a cache instance with optional configuration and starts its
// background cleanup job. If a Registry is configured, the instance is
// registered with it until Destroy.
func New[V any](cfg ...Config) *Cache[V] {
	config := Config{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.Logger == nil {
		config.Logger = ctxd.NoOpLogger{}
	}

	if config.Stats == nil {
		config.Stats = stats.NoOp{}
	}

	if config.MaxSize == 0 {
		config.MaxSize = 1000
	}

	if config.TimeToLive == 0 {
		config.TimeToLive = 5 * time.Minute
	}

	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	if config.CapacitySweepRatio == 0 {
		config.CapacitySweepRatio = 0.8
	}

	if config.CapacityTargetRatio == 0 {
		config.CapacityTargetRatio = 0.7
	}

	if config.Now == nil {
		config.Now = time.Now
	}

	if config.Priority < 1 {
		if config.Priority == 0 {
			config.Priority = 5
		} else {
			config.Priority = 1
		}
	} else if config.Priority > 10 {
		config.Priority = 10
	}

	c := &Cache[V]{
		data:   make(map[string]*entry[V]),
		closed: make(chan struct{}),
		id:     config.Name + "-" + strconv.FormatInt(atomic.AddInt64(&instanceSeq, 1), 10),
		config: config,
		log:    config.Logger,
		stat:   config.Stats,
		now:    config.Now,
	}

	c.ops = newOpTable(config.Name, config.Logger)

	go c.cleaner()

	if config.Registry != nil {
		config.Registry.Register(c)
	}

	return c
}

// Get returns the cached value for key, or a miss if the key is absent or
// expired. An expired entry is collected on detection unless an in-flight
// operation holds the key. On a live hit the entry's access statistics are
// bumped, again only if the key is unlocked; mid-mutation statistics are a
// documented best-effort, not a hard guarantee.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V

	if SkipRead(ctx) {
		return zero, false
	}

	now := c.now()

	c.mu.RLock()
	closedCache := c.data == nil
	e, found := c.data[key]
	c.mu.RUnlock()

	if closedCache {
		return zero, false
	}

	if !found {
		c.log.Debug(ctx, "cache miss", "name", c.config.Name, "key", key)
		c.stat.Add(ctx, MetricMiss, 1, "name", c.config.Name)

		return zero, false
	}

	if e.expired(now) {
		collected := false

		if !c.ops.locked(key) {
			c.mu.Lock()
			if cur, ok := c.data[key]; ok && cur == e {
				delete(c.data, key)
				collected = true
			}
			c.mu.Unlock()
		}

		c.log.Debug(ctx, "cache key expired", "name", c.config.Name, "key", key)

		// A locked-expired entry stays in place and can be seen again, only a
		// collection counts towards the expiry metric.
		if collected {
			c.stat.Add(ctx, MetricExpired, 1, "name", c.config.Name)
		}

		return zero, false
	}

	if !c.ops.locked(key) {
		c.mu.Lock()
		e.accessCount++
		e.lastAccessed = now
		c.mu.Unlock()
	}

	c.stat.Add(ctx, MetricHit, 1, "name", c.config.Name)

	return e.val, true
}

// Has reports whether key holds a live entry. It performs the same liveness
// check as Get without touching access statistics.
func (c *Cache[V]) Has(ctx context.Context, key string) bool {
	now := c.now()

	c.mu.RLock()
	e, found := c.data[key]
	c.mu.RUnlock()

	if !found {
		return false
	}

	if e.expired(now) {
		if !c.ops.locked(key) {
			c.mu.Lock()
			if cur, ok := c.data[key]; ok && cur == e {
				delete(c.data, key)
			}
			c.mu.Unlock()
		}

		return false
	}

	return true
}

// Set stores value under key and reports whether the write took effect.
//
// The write is rejected if an asynchronous operation currently holds the key.
// A write to a new key at capacity triggers an aggressive cleanup first and
// is rejected if the cache is still full; a write to an existing key always
// succeeds regardless of capacity. Per-write TTL can be set with WithTTL.
func (c *Cache[V]) Set(ctx context.Context, key string, v V) bool {
	if c.ops.locked(key) {
		c.log.Warn(ctx, "cache write rejected",
			"name", c.config.Name,
			"key", key,
			"error", ErrOperationInProgress)
		c.stat.Add(ctx, MetricRejectLocked, 1, "name", c.config.Name)

		return false
	}

	return c.store(ctx, key, v)
}

// SetAsync stores value under key through the per-key operation queue.
// Concurrent SetAsync calls on the same key run strictly in call order
// instead of racing. The result arrives on the returned channel once the
// write's turn completes.
func (c *Cache[V]) SetAsync(ctx context.Context, key string, v V) <-chan bool {
	res := make(chan bool, 1)

	c.ops.run(detachedContext{ctx}, key, func(ctx context.Context) {
		res <- c.store(ctx, key, v)
	})

	return res
}

// Delete removes key and reports whether an entry was removed. Like Set, it
// is rejected if an asynchronous operation currently holds the key.
func (c *Cache[V]) Delete(ctx context.Context, key string) bool {
	if c.ops.locked(key) {
		c.log.Warn(ctx, "cache delete rejected",
			"name", c.config.Name,
			"key", key,
			"error", ErrOperationInProgress)
		c.stat.Add(ctx, MetricRejectLocked, 1, "name", c.config.Name)

		return false
	}

	return c.remove(ctx, key)
}

// DeleteAsync removes key through the per-key operation queue, ordered with
// other asynchronous operations on the same key.
func (c *Cache[V]) DeleteAsync(ctx context.Context, key string) <-chan bool {
	res := make(chan bool, 1)

	c.ops.run(detachedContext{ctx}, key, func(ctx context.Context) {
		res <- c.remove(ctx, key)
	})

	return res
}

// Clear removes all entries. It is a conservative no-op, reported as false,
// while any key is locked or a cleanup sweep is running.
func (c *Cache[V]) Clear(ctx context.Context) bool {
	if c.ops.anyLocked() || c.cleaning.Load() {
		c.log.Warn(ctx, "cache clear skipped, operations in flight",
			"name", c.config.Name)

		return false
	}

	c.mu.Lock()
	if c.data == nil {
		c.mu.Unlock()

		return false
	}

	cnt := len(c.data)
	c.data = make(map[string]*entry[V])
	c.mu.Unlock()

	c.log.Important(ctx, "cleared cache", "name", c.config.Name, "count", cnt)

	return true
}

// ID returns the unique registration id of this instance.
func (c *Cache[V]) ID() string {
	return c.id
}

// CacheName returns the configured instance name.
func (c *Cache[V]) CacheName() string {
	return c.config.Name
}

// Priority returns the coordinated-reclamation priority, 1 reclaimed first.
func (c *Cache[V]) Priority() int {
	return c.config.Priority
}

// MaxLen returns the configured capacity.
func (c *Cache[V]) MaxLen() int {
	return c.config.MaxSize
}

// Len returns number of entries in cache, including lazily-expired ones that
// have not been collected yet.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	cnt := len(c.data)
	c.mu.RUnlock()

	return cnt
}

// Stats returns a read-only snapshot of cache state. It walks all entries and
// never mutates or blocks writers beyond the shared read lock.
func (c *Cache[V]) Stats(ctx context.Context) Snapshot {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Size:    len(c.data),
		MaxSize: c.config.MaxSize,
	}

	var accessTotal int64

	for _, e := range c.data {
		if e.expired(now) {
			s.ExpiredCount++
		}

		accessTotal += e.accessCount
	}

	if s.MaxSize > 0 {
		s.UtilizationPercent = 100 * float64(s.Size) / float64(s.MaxSize)
	}

	if s.Size > 0 {
		s.AverageAccessCount = float64(accessTotal) / float64(s.Size)
	}

	c.stat.Set(ctx, MetricItems, float64(s.Size), "name", c.config.Name)

	return s
}

// Destroy stops the background cleanup job, unregisters the instance and
// drops all state. It is idempotent and best-effort: queued asynchronous
// operations are not awaited and their results are discarded.
func (c *Cache[V]) Destroy() {
	c.destroy.Do(func() {
		close(c.closed)

		if c.config.Registry != nil {
			c.config.Registry.Unregister(c.id)
		}

		c.mu.Lock()
		c.data = nil
		c.mu.Unlock()

		c.ops.reset()

		c.log.Important(context.Background(), "destroyed cache", "name", c.config.Name)
	})
}

// store is the write path shared by Set and SetAsync, entered either directly
// or with the key lock held by the operation queue.
func (c *Cache[V]) store(ctx context.Context, key string, v V) bool {
	now := c.now()

	ttl := TTL(ctx)
	if ttl == DefaultTTL {
		ttl = c.config.TimeToLive
	}

	c.mu.RLock()
	closedCache := c.data == nil
	_, exists := c.data[key]
	size := len(c.data)
	c.mu.RUnlock()

	if closedCache {
		c.log.Debug(ctx, "writing to a closed cache", "name", c.config.Name, "key", key)

		return false
	}

	// Updates do not count as growth, only a brand-new key enforces capacity.
	if !exists && size >= c.config.MaxSize {
		c.Cleanup(ctx, true)

		c.mu.RLock()
		size = len(c.data)
		c.mu.RUnlock()

		if size >= c.config.MaxSize {
			c.log.Warn(ctx, "cache write rejected",
				"name", c.config.Name,
				"key", key,
				"error", ErrCapacityExceeded)
			c.stat.Add(ctx, MetricRejectCapacity, 1, "name", c.config.Name)

			return false
		}
	}

	c.mu.Lock()
	if c.data == nil {
		c.mu.Unlock()

		return false
	}

	c.data[key] = &entry[V]{
		val:          v,
		created:      now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	}
	c.mu.Unlock()

	c.log.Debug(ctx, "wrote to cache", "name", c.config.Name, "key", key, "ttl", ttl)
	c.stat.Add(ctx, MetricWrite, 1, "name", c.config.Name)

	return true
}

func (c *Cache[V]) remove(ctx context.Context, key string) bool {
	c.mu.Lock()
	_, found := c.data[key]
	if found {
		delete(c.data, key)
	}
	c.mu.Unlock()

	if !found {
		return false
	}

	c.log.Debug(ctx, "deleted cache entry", "name", c.config.Name, "key", key)
	c.stat.Add(ctx, MetricDelete, 1, "name", c.config.Name)

	return true
}

func (c *Cache[V]) cleaner() {
	for {
		select {
		case <-time.After(c.config.CleanupInterval):
			c.Cleanup(context.Background(), false)
		case <-c.closed:
			return
		}
	}
}
