package cachekit

// Metric names for stats.Tracker, labeled with cache instance "name".
const (
	// MetricHit is a name of a counter of cache hits.
	MetricHit = "cache_hit"
	// MetricMiss is a name of a counter of cache misses.
	MetricMiss = "cache_miss"
	// MetricExpired is a name of a counter of expired cache entries.
	MetricExpired = "cache_expired"
	// MetricWrite is a name of a counter of cache writes.
	MetricWrite = "cache_write"
	// MetricDelete is a name of a counter of cache deletions.
	MetricDelete = "cache_delete"
	// MetricEvict is a name of a counter of entries evicted under capacity pressure.
	MetricEvict = "cache_evict"
	// MetricRejectLocked is a name of a counter of synchronous mutations
	// rejected due to an in-flight operation on the key.
	MetricRejectLocked = "cache_reject_locked"
	// MetricRejectCapacity is a name of a counter of new-key writes rejected
	// at capacity.
	MetricRejectCapacity = "cache_reject_capacity"
	// MetricItems is a name of a gauge of cached entries.
	MetricItems = "cache_items"
	// MetricPressure is a name of a counter of handled memory-pressure signals.
	MetricPressure = "cache_pressure"

	// MetricStoreWrite is a name of a counter of persistent store writes.
	MetricStoreWrite = "store_write"
	// MetricStoreRejectQuota is a name of a counter of persistent store writes
	// rejected on quota.
	MetricStoreRejectQuota = "store_reject_quota"
	// MetricStoreCleanup is a name of a counter of persistent store cleanup runs.
	MetricStoreCleanup = "store_cleanup"
)

// Snapshot is a read-only point-in-time view of cache state.
type Snapshot struct {
	// Size is the current number of entries, live or lazily-expired.
	Size int

	// MaxSize is the configured capacity.
	MaxSize int

	// ExpiredCount is the number of entries past their expiry that have not
	// been collected yet.
	ExpiredCount int

	// UtilizationPercent is Size relative to MaxSize.
	UtilizationPercent float64

	// AverageAccessCount is the mean access count across entries.
	AverageAccessCount float64
}
