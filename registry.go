package cachekit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/puzpuzpuz/xsync"
)

// Descriptor is the capability surface a cache exposes to the Registry. The
// Registry never reaches into an instance's internals, it only calls these
// methods.
type Descriptor interface {
	// ID returns a registration id unique among live instances.
	ID() string

	// CacheName returns a human-readable instance name for logs.
	CacheName() string

	// Priority orders coordinated reclamation, lowest reclaimed first.
	Priority() int

	// Len returns the current number of entries.
	Len() int

	// MaxLen returns the configured capacity.
	MaxLen() int

	// Stats returns a read-only snapshot.
	Stats(ctx context.Context) Snapshot

	// Cleanup reclaims expired and, when aggressive, cold entries.
	Cleanup(ctx context.Context, aggressive bool)

	// Clear removes all entries if no operations are in flight.
	Clear(ctx context.Context) bool

	// Destroy tears the instance down.
	Destroy()
}

// RegistryConfig controls Registry.
type RegistryConfig struct {
	// Logger is an instance of contextualized logger, default is no-op.
	Logger ctxd.Logger

	// Stats is metrics collector, default is no-op.
	Stats stats.Tracker

	// SkipInterval defines minimal duration between two pressure responses
	// (flood protection), default 15s.
	SkipInterval time.Duration

	// OnShutdown registers a teardown callback with the host lifecycle
	// (process signal handler, page teardown, test cleanup). When provided,
	// the Registry registers its own Shutdown with it.
	OnShutdown func(func())
}

// Registry coordinates memory reclamation across independently-owned cache
// instances. On a memory-pressure signal it fans out aggressive cleanup to
// registrants in ascending priority order, so low-priority easily-regenerable
// caches are reclaimed before high-priority ones.
//
// A Registry is owned by the application's composition root and passed by
// handle to cache configs; there is no package-level singleton.
type Registry struct {
	mu      sync.Mutex // Guards lastRun.
	lastRun time.Time

	caches *xsync.Map

	config RegistryConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewRegistry creates a Registry with optional configuration.
func NewRegistry(cfg ...RegistryConfig) *Registry {
	config := RegistryConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.Logger == nil {
		config.Logger = ctxd.NoOpLogger{}
	}

	if config.Stats == nil {
		config.Stats = stats.NoOp{}
	}

	if config.SkipInterval == 0 {
		config.SkipInterval = 15 * time.Second
	}

	r := &Registry{
		caches: xsync.NewMap(),
		config: config,
		log:    config.Logger,
		stat:   config.Stats,
	}

	if config.OnShutdown != nil {
		config.OnShutdown(func() {
			r.Shutdown(context.Background())
		})
	}

	return r
}

// Register adds a cache descriptor. Registration happens once per instance at
// construction and is undone only by Unregister at Destroy.
func (r *Registry) Register(d Descriptor) {
	r.caches.Store(d.ID(), d)

	r.log.Debug(context.Background(), "registered cache",
		"id", d.ID(),
		"name", d.CacheName(),
		"priority", d.Priority())
}

// Unregister removes a cache descriptor by id.
func (r *Registry) Unregister(id string) {
	r.caches.Delete(id)
}

// ReleaseMemory responds to a memory-pressure signal by invoking aggressive
// cleanup on every registrant in ascending priority order. Signals arriving
// within SkipInterval of the previous one are rejected.
func (r *Registry) ReleaseMemory(ctx context.Context) error {
	descriptors := r.descriptors()
	if len(descriptors) == 0 {
		return ErrNothingRegistered
	}

	r.mu.Lock()
	if time.Since(r.lastRun) < r.config.SkipInterval {
		r.mu.Unlock()

		return ErrPressureThrottled
	}

	r.lastRun = time.Now()
	r.mu.Unlock()

	for _, d := range descriptors {
		before := d.Len()
		d.Cleanup(ctx, true)

		r.log.Info(ctx, "reclaimed cache memory",
			"name", d.CacheName(),
			"priority", d.Priority(),
			"before", before,
			"after", d.Len())
	}

	r.stat.Add(ctx, MetricPressure, 1, "name", "registry")

	return nil
}

// Shutdown destroys every registered cache. Destroy is idempotent per
// instance and unregisters itself, so repeated Shutdown calls are harmless.
func (r *Registry) Shutdown(ctx context.Context) {
	descriptors := r.descriptors()

	for _, d := range descriptors {
		d.Destroy()
	}

	r.log.Important(ctx, "registry shut down", "caches", len(descriptors))
}

// Len returns the number of registered caches.
func (r *Registry) Len() int {
	cnt := 0

	r.caches.Range(func(_ string, _ interface{}) bool {
		cnt++

		return true
	})

	return cnt
}

// descriptors snapshots registrants sorted by ascending priority, ties broken
// by name for deterministic fan-out order.
func (r *Registry) descriptors() []Descriptor {
	descriptors := make([]Descriptor, 0)

	r.caches.Range(func(_ string, value interface{}) bool {
		descriptors = append(descriptors, value.(Descriptor))

		return true
	})

	sort.SliceStable(descriptors, func(i, j int) bool {
		if descriptors[i].Priority() != descriptors[j].Priority() {
			return descriptors[i].Priority() < descriptors[j].Priority()
		}

		return descriptors[i].CacheName() < descriptors[j].CacheName()
	})

	return descriptors
}
