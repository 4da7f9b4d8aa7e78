package cachekit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// Medium is a size-limited external key/value medium holding serialized text
// values. The medium is shared with unrelated consumers, so the store only
// ever sweeps keys matching its own naming conventions. A Write must return
// ErrMediumQuota (possibly wrapped) when the medium rejects on size.
type Medium interface {
	// Read returns the stored value and whether the key exists.
	Read(key string) (string, bool, error)

	// Write stores value under key.
	Write(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Keys enumerates all keys currently stored, in the medium's own order.
	Keys() ([]string, error)
}

// QuotaStoreConfig controls QuotaStore.
type QuotaStoreConfig struct {
	// Logger is an instance of contextualized logger, default is no-op.
	Logger ctxd.Logger

	// Stats is metrics collector, default is no-op.
	Stats stats.Tracker

	// Name is store instance name, used in stats and logging.
	Name string

	// MaxBytes is the byte budget for keys and values combined, default 5MB.
	MaxBytes int

	// QuotaWarnRatio is the fill fraction above which a write proactively
	// runs cleanup before storing, default 0.8.
	QuotaWarnRatio float64

	// TempPrefix marks throwaway data, removed first during cleanup,
	// default "tmp:".
	TempPrefix string

	// CachePrefix marks regenerable cached data, the oldest half of which is
	// removed when cleanup needs to reclaim further, default "cache:".
	CachePrefix string

	// ProbeKey is the throwaway key used by the availability probe,
	// default "cachekit:probe".
	ProbeKey string
}

// QuotaStore wraps a size-limited persistent Medium with availability probing
// and quota-driven cleanup. No in-memory mirror is kept, every read consults
// the medium directly.
//
// If the availability probe fails at construction, every operation degrades
// to a logged no-op instead of failing the host.
type QuotaStore struct {
	mu     sync.Mutex // Serializes size accounting against cleanup.
	medium Medium

	available bool

	config QuotaStoreConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewQuotaStore creates a QuotaStore over medium with optional configuration
// and probes the medium's availability with a throwaway round-trip.
func NewQuotaStore(medium Medium, cfg ...QuotaStoreConfig) *QuotaStore {
	config := QuotaStoreConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.Logger == nil {
		config.Logger = ctxd.NoOpLogger{}
	}

	if config.Stats == nil {
		config.Stats = stats.NoOp{}
	}

	if config.MaxBytes == 0 {
		config.MaxBytes = 5 * 1024 * 1024
	}

	if config.QuotaWarnRatio == 0 {
		config.QuotaWarnRatio = 0.8
	}

	if config.TempPrefix == "" {
		config.TempPrefix = "tmp:"
	}

	if config.CachePrefix == "" {
		config.CachePrefix = "cache:"
	}

	if config.ProbeKey == "" {
		config.ProbeKey = "cachekit:probe"
	}

	s := &QuotaStore{
		medium: medium,
		config: config,
		log:    config.Logger,
		stat:   config.Stats,
	}

	s.available = s.probe()

	if !s.available {
		s.log.Warn(context.Background(), "persistent store degraded to no-op",
			"name", config.Name,
			"error", ErrStorageUnavailable)
	}

	return s
}

// Available reports whether the medium passed its availability probe.
func (s *QuotaStore) Available() bool {
	return s.available
}

// Set serializes value under key and reports whether the write took effect.
//
// When the projected total size crosses the warning ratio, cleanup runs
// first; if the projection still exceeds the budget afterwards, the write is
// rejected without partially storing data. A quota error surfaced by the
// medium itself triggers cleanup and also rejects the write.
func (s *QuotaStore) Set(ctx context.Context, key string, value interface{}) bool {
	if !s.available {
		return false
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Error(ctx, "failed to serialize value",
			"name", s.config.Name,
			"key", key,
			"error", ctxd.WrapError(ctx, err, ErrSerializationFailure.Error()))

		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	projected := s.projectedSize(key, len(raw))

	if float64(projected) > s.config.QuotaWarnRatio*float64(s.config.MaxBytes) {
		s.cleanupLocked(ctx)

		projected = s.projectedSize(key, len(raw))
	}

	if projected > s.config.MaxBytes {
		s.log.Warn(ctx, "persistent store write rejected",
			"name", s.config.Name,
			"key", key,
			"projected", projected,
			"max", s.config.MaxBytes,
			"error", ErrQuotaExceeded)
		s.stat.Add(ctx, MetricStoreRejectQuota, 1, "name", s.config.Name)

		return false
	}

	if err := s.medium.Write(key, string(raw)); err != nil {
		if errors.Is(err, ErrMediumQuota) {
			s.cleanupLocked(ctx)

			s.log.Warn(ctx, "medium rejected write on quota",
				"name", s.config.Name,
				"key", key,
				"error", ErrQuotaExceeded)
			s.stat.Add(ctx, MetricStoreRejectQuota, 1, "name", s.config.Name)

			return false
		}

		s.log.Error(ctx, "persistent store write failed",
			"name", s.config.Name,
			"key", key,
			"error", err)

		return false
	}

	s.stat.Add(ctx, MetricStoreWrite, 1, "name", s.config.Name)

	return true
}

// Get deserializes the value stored under key into dst and reports whether a
// value was found. Deserialization failures are logged and reported as a
// miss rather than surfaced.
func (s *QuotaStore) Get(ctx context.Context, key string, dst interface{}) bool {
	if !s.available {
		return false
	}

	raw, found, err := s.medium.Read(key)
	if err != nil {
		s.log.Error(ctx, "persistent store read failed",
			"name", s.config.Name,
			"key", key,
			"error", err)

		return false
	}

	if !found {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Error(ctx, "failed to deserialize value",
			"name", s.config.Name,
			"key", key,
			"error", ctxd.WrapError(ctx, err, ErrSerializationFailure.Error()))

		return false
	}

	return true
}

// Remove deletes key and reports whether the operation was attempted.
func (s *QuotaStore) Remove(ctx context.Context, key string) bool {
	if !s.available {
		return false
	}

	if err := s.medium.Remove(key); err != nil {
		s.log.Error(ctx, "persistent store remove failed",
			"name", s.config.Name,
			"key", key,
			"error", err)

		return false
	}

	return true
}

// Clear removes every key matching the store's naming conventions. Keys
// belonging to unrelated consumers of the shared medium are left alone.
func (s *QuotaStore) Clear(ctx context.Context) bool {
	if !s.available {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.medium.Keys()
	if err != nil {
		s.log.Error(ctx, "persistent store clear failed",
			"name", s.config.Name,
			"error", err)

		return false
	}

	cnt := 0

	for _, k := range keys {
		if strings.HasPrefix(k, s.config.TempPrefix) || strings.HasPrefix(k, s.config.CachePrefix) {
			if err := s.medium.Remove(k); err == nil {
				cnt++
			}
		}
	}

	s.log.Important(ctx, "cleared persistent store", "name", s.config.Name, "count", cnt)

	return true
}

// Cleanup reclaims medium space in two phases: all temp-prefixed keys go
// first, then, if still above the warning ratio, the oldest half of
// cache-prefixed keys in enumeration order.
func (s *QuotaStore) Cleanup(ctx context.Context) {
	if !s.available {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked(ctx)
}

// StoreSnapshot is a read-only view of persistent store occupancy.
type StoreSnapshot struct {
	CurrentSize        int
	MaxBytes           int
	UtilizationPercent float64
	ItemCount          int
	Available          bool
}

// Stats returns a read-only snapshot of medium occupancy.
func (s *QuotaStore) Stats(ctx context.Context) StoreSnapshot {
	snapshot := StoreSnapshot{
		MaxBytes:  s.config.MaxBytes,
		Available: s.available,
	}

	if !s.available {
		return snapshot
	}

	size, cnt := s.usage(ctx)
	snapshot.CurrentSize = size
	snapshot.ItemCount = cnt

	if snapshot.MaxBytes > 0 {
		snapshot.UtilizationPercent = 100 * float64(size) / float64(snapshot.MaxBytes)
	}

	return snapshot
}

// probe verifies the medium with a write/read/remove round-trip of a
// throwaway key.
func (s *QuotaStore) probe() bool {
	if s.medium == nil {
		return false
	}

	if err := s.medium.Write(s.config.ProbeKey, "1"); err != nil {
		return false
	}

	if _, found, err := s.medium.Read(s.config.ProbeKey); err != nil || !found {
		return false
	}

	return s.medium.Remove(s.config.ProbeKey) == nil
}

// usage sums stored key and value lengths across the whole medium.
func (s *QuotaStore) usage(ctx context.Context) (int, int) {
	keys, err := s.medium.Keys()
	if err != nil {
		s.log.Error(ctx, "failed to enumerate medium keys",
			"name", s.config.Name,
			"error", err)

		return 0, 0
	}

	size := 0

	for _, k := range keys {
		v, found, err := s.medium.Read(k)
		if err != nil || !found {
			continue
		}

		size += len(k) + len(v)
	}

	return size, len(keys)
}

// projectedSize is the total occupancy after writing rawLen bytes under key,
// accounting for the value it would replace.
func (s *QuotaStore) projectedSize(key string, rawLen int) int {
	size, _ := s.usage(context.Background())

	if old, found, err := s.medium.Read(key); err == nil && found {
		size -= len(key) + len(old)
	}

	return size + len(key) + rawLen
}

func (s *QuotaStore) cleanupLocked(ctx context.Context) {
	keys, err := s.medium.Keys()
	if err != nil {
		s.log.Error(ctx, "persistent store cleanup failed",
			"name", s.config.Name,
			"error", err)

		return
	}

	removed := 0

	for _, k := range keys {
		if strings.HasPrefix(k, s.config.TempPrefix) {
			if err := s.medium.Remove(k); err == nil {
				removed++
			}
		}
	}

	size, _ := s.usage(ctx)

	if float64(size) > s.config.QuotaWarnRatio*float64(s.config.MaxBytes) {
		cacheKeys := make([]string, 0, len(keys))

		for _, k := range keys {
			if strings.HasPrefix(k, s.config.CachePrefix) {
				cacheKeys = append(cacheKeys, k)
			}
		}

		// Oldest half by enumeration order.
		for _, k := range cacheKeys[:len(cacheKeys)/2] {
			if err := s.medium.Remove(k); err == nil {
				removed++
			}
		}
	}

	s.log.Info(ctx, "persistent store cleanup finished",
		"name", s.config.Name,
		"removed", removed)
	s.stat.Add(ctx, MetricStoreCleanup, 1, "name", s.config.Name)
}
