package cachekit

import (
	"context"
	"sort"
	"time"
)

// Cleanup sweeps expired entries and, when aggressive or above the sweep
// ratio, evicts the coldest entries until the cache is back under the target
// ratio. Keys held by in-flight operations are never touched. At most one
// sweep runs at a time; overlapping calls return immediately.
func (c *Cache[V]) Cleanup(ctx context.Context, aggressive bool) {
	if !c.cleaning.CompareAndSwap(false, true) {
		return
	}
	defer c.cleaning.Store(false)

	now := c.now()

	expired := c.sweepExpired(ctx, now)

	c.mu.RLock()
	size := len(c.data)
	c.mu.RUnlock()

	if !aggressive && float64(size) <= c.config.CapacitySweepRatio*float64(c.config.MaxSize) {
		if expired > 0 {
			c.log.Debug(ctx, "cache cleanup finished",
				"name", c.config.Name,
				"expired", expired)
		}

		return
	}

	evicted := c.sweepCapacity(ctx, now, size)

	if expired > 0 || evicted > 0 {
		c.log.Debug(ctx, "cache cleanup finished",
			"name", c.config.Name,
			"expired", expired,
			"evicted", evicted,
			"aggressive", aggressive)
	}
}

// sweepExpired deletes every entry past its expiry, skipping locked keys so
// an in-flight writer is never pulled out from under its own entry.
func (c *Cache[V]) sweepExpired(ctx context.Context, now time.Time) int {
	keys := make([]string, 0, 100)

	c.mu.RLock()
	for k, e := range c.data {
		if e.expired(now) && !c.ops.locked(k) {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()

	cnt := 0

	c.mu.Lock()
	for _, k := range keys {
		if e, ok := c.data[k]; ok && e.expired(now) {
			delete(c.data, k)
			cnt++
		}
	}
	c.mu.Unlock()

	if cnt > 0 {
		c.stat.Add(ctx, MetricExpired, float64(cnt), "name", c.config.Name)
	}

	return cnt
}

// sweepCapacity evicts unlocked entries in ascending score order until size
// drops to the target ratio. Scores are computed against a single clock
// sample so the ordering is a consistent snapshot.
func (c *Cache[V]) sweepCapacity(ctx context.Context, now time.Time, size int) int {
	type candidate struct {
		key   string
		score float64
	}

	candidates := make([]candidate, 0, size)

	c.mu.RLock()
	for k, e := range c.data {
		if !c.ops.locked(k) {
			candidates = append(candidates, candidate{key: k, score: e.evictScore(now)})
		}
	}
	size = len(c.data)
	c.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score < candidates[j].score
	})

	target := int(c.config.CapacityTargetRatio * float64(c.config.MaxSize))
	evicted := 0

	for _, cand := range candidates {
		if size <= target {
			break
		}

		// The key can have become locked since the snapshot.
		if c.ops.locked(cand.key) {
			continue
		}

		c.mu.Lock()
		if _, ok := c.data[cand.key]; ok {
			delete(c.data, cand.key)
			size--
			evicted++
		}
		c.mu.Unlock()
	}

	if evicted > 0 {
		c.stat.Add(ctx, MetricEvict, float64(evicted), "name", c.config.Name)
	}

	return evicted
}
