package cachekit

import "time"

// entry is a cache entry with its expiry and access bookkeeping.
//
// accessCount and lastAccessed drive eviction scoring, not correctness; they
// are updated on unlocked reads only.
type entry[V any] struct {
	val          V
	created      time.Time
	expiresAt    time.Time
	accessCount  int64
	lastAccessed time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// evictScore is recency-weighted access frequency, lower means colder.
// Entries with the lowest score are evicted first under capacity pressure,
// so a frequently and recently used entry outlives a purely-recent or
// purely-frequent one.
func (e *entry[V]) evictScore(now time.Time) float64 {
	age := now.Sub(e.lastAccessed).Seconds()
	if age < 0 {
		age = 0
	}

	return float64(e.accessCount) / (age + 1)
}
