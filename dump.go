package cachekit

import (
	"encoding/gob"
	"io"
	"time"
)

type dumpedEntry[V any] struct {
	Key          string
	Val          V
	Created      time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// Dump saves cache entries in binary format and returns the number of
// processed entries. The value type must be gob-encodable.
func (c *Cache[V]) Dump(w io.Writer) (int, error) {
	c.mu.RLock()
	records := make([]dumpedEntry[V], 0, len(c.data))

	for k, e := range c.data {
		records = append(records, dumpedEntry[V]{
			Key:          k,
			Val:          e.val,
			Created:      e.created,
			ExpiresAt:    e.expiresAt,
			AccessCount:  e.accessCount,
			LastAccessed: e.lastAccessed,
		})
	}
	c.mu.RUnlock()

	encoder := gob.NewEncoder(w)
	n := 0

	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			return n, err
		}

		n++
	}

	return n, nil
}

// Restore loads entries from a binary dump and returns the number of
// restored entries. Entries that have expired since the dump are skipped,
// and restoration stops once the cache is at capacity.
func (c *Cache[V]) Restore(r io.Reader) (int, error) {
	decoder := gob.NewDecoder(r)
	now := c.now()
	n := 0

	for {
		var rec dumpedEntry[V]

		err := decoder.Decode(&rec)
		if err == io.EOF {
			break
		}

		if err != nil {
			return n, err
		}

		if rec.ExpiresAt.Before(now) {
			continue
		}

		c.mu.Lock()
		if c.data == nil {
			c.mu.Unlock()

			return n, ErrCacheClosed
		}

		if len(c.data) >= c.config.MaxSize {
			c.mu.Unlock()

			break
		}

		c.data[rec.Key] = &entry[V]{
			val:          rec.Val,
			created:      rec.Created,
			expiresAt:    rec.ExpiresAt,
			accessCount:  rec.AccessCount,
			lastAccessed: rec.LastAccessed,
		}
		c.mu.Unlock()

		n++
	}

	return n, nil
}
