package cachekit

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMedium is an in-memory Medium with insertion-ordered enumeration, an
// optional byte budget and an optional hard failure mode.
type fakeMedium struct {
	mu       sync.Mutex
	order    []string
	values   map[string]string
	maxBytes int
	broken   bool
}

func newFakeMedium() *fakeMedium {
	return &fakeMedium{values: map[string]string{}}
}

func (m *fakeMedium) Read(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken {
		return "", false, ErrStorageUnavailable
	}

	v, found := m.values[key]

	return v, found, nil
}

func (m *fakeMedium) Write(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken {
		return ErrStorageUnavailable
	}

	if m.maxBytes > 0 {
		total := len(key) + len(value)

		for k, v := range m.values {
			if k == key {
				continue
			}

			total += len(k) + len(v)
		}

		if total > m.maxBytes {
			return ErrMediumQuota
		}
	}

	if _, found := m.values[key]; !found {
		m.order = append(m.order, key)
	}

	m.values[key] = value

	return nil
}

func (m *fakeMedium) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken {
		return ErrStorageUnavailable
	}

	if _, found := m.values[key]; found {
		delete(m.values, key)

		for i, k := range m.order {
			if k == key {
				m.order = append(m.order[:i], m.order[i+1:]...)

				break
			}
		}
	}

	return nil
}

func (m *fakeMedium) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.broken {
		return nil, ErrStorageUnavailable
	}

	return append([]string(nil), m.order...), nil
}

func (m *fakeMedium) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.values)
}

type payload struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

func TestQuotaStore_SetGet(t *testing.T) {
	m := newFakeMedium()
	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test"})

	ctx := context.Background()

	require.True(t, s.Available())
	require.True(t, s.Set(ctx, "cache:product", payload{Title: "boots", Count: 3}))

	var got payload

	require.True(t, s.Get(ctx, "cache:product", &got))
	assert.Equal(t, payload{Title: "boots", Count: 3}, got)

	assert.False(t, s.Get(ctx, "cache:absent", &got))

	assert.True(t, s.Remove(ctx, "cache:product"))
	assert.False(t, s.Get(ctx, "cache:product", &got))
}

func TestQuotaStore_QuotaReject(t *testing.T) {
	m := newFakeMedium()
	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test", MaxBytes: 64})

	ctx := context.Background()

	// The serialized value cannot fit even after cleanup, so the write is
	// rejected with nothing stored.
	big := strings.Repeat("x", 200)
	assert.False(t, s.Set(ctx, "cache:big", big))
	assert.Equal(t, 0, m.len())
}

func TestQuotaStore_ProactiveCleanup(t *testing.T) {
	m := newFakeMedium()
	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test", MaxBytes: 100})

	ctx := context.Background()

	// Temp data fills most of the budget.
	require.True(t, s.Set(ctx, "tmp:scratch", strings.Repeat("a", 40)))

	// The projected total crosses the warning ratio, so cleanup reclaims the
	// temp key and the write lands.
	assert.True(t, s.Set(ctx, "cache:fresh", strings.Repeat("b", 40)))

	_, found, err := m.Read("tmp:scratch")
	require.NoError(t, err)
	assert.False(t, found)

	var got string

	assert.True(t, s.Get(ctx, "cache:fresh", &got))
}

func TestQuotaStore_MediumQuotaError(t *testing.T) {
	m := newFakeMedium()
	// Medium budget is tighter than the store budget, so the medium rejects
	// first with its own quota signal.
	m.maxBytes = 32

	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test", MaxBytes: 1024})

	ctx := context.Background()

	require.True(t, s.Set(ctx, "tmp:junk", "0123456789"))

	assert.False(t, s.Set(ctx, "cache:item", strings.Repeat("y", 30)))

	// The medium-signaled quota error triggered cleanup of temp data.
	_, found, err := m.Read("tmp:junk")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQuotaStore_Degraded(t *testing.T) {
	m := newFakeMedium()
	m.broken = true

	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test"})

	ctx := context.Background()

	// Probe failed, every operation is a logged no-op rather than an error.
	assert.False(t, s.Available())
	assert.False(t, s.Set(ctx, "cache:k", "v"))

	var got string

	assert.False(t, s.Get(ctx, "cache:k", &got))
	assert.False(t, s.Remove(ctx, "cache:k"))
	assert.False(t, s.Clear(ctx))

	stats := s.Stats(ctx)
	assert.False(t, stats.Available)
	assert.Zero(t, stats.ItemCount)
}

func TestQuotaStore_NilMedium(t *testing.T) {
	s := NewQuotaStore(nil, QuotaStoreConfig{Name: "test"})

	assert.False(t, s.Available())
	assert.False(t, s.Set(context.Background(), "cache:k", "v"))
}

func TestQuotaStore_CleanupPhases(t *testing.T) {
	m := newFakeMedium()
	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test", MaxBytes: 200})

	ctx := context.Background()

	filler := strings.Repeat("z", 10)

	require.True(t, s.Set(ctx, "cache:old1", filler))
	require.True(t, s.Set(ctx, "cache:old2", filler))
	require.True(t, s.Set(ctx, "cache:new1", filler))
	require.True(t, s.Set(ctx, "cache:new2", filler))
	require.True(t, s.Set(ctx, "tmp:a", filler))

	s.Cleanup(ctx)

	// Phase one removes temp data; occupancy is back under the warning
	// ratio, so cache data survives.
	_, found, err := m.Read("tmp:a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 4, m.len())

	// Refill past the warning ratio with temp data gone: phase two removes
	// the oldest half of cache keys in enumeration order.
	require.True(t, s.Set(ctx, "unrelated", strings.Repeat("w", 80)))

	s.Cleanup(ctx)

	_, found, err = m.Read("cache:old1")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = m.Read("cache:old2")
	require.NoError(t, err)
	assert.False(t, found)

	var got string

	assert.True(t, s.Get(ctx, "cache:new1", &got))
	assert.True(t, s.Get(ctx, "cache:new2", &got))

	// Keys of unrelated consumers on the shared medium are never swept.
	_, found, err = m.Read("unrelated")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestQuotaStore_BadPayload(t *testing.T) {
	m := newFakeMedium()
	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test"})

	require.NoError(t, m.Write("cache:bad", "{not json"))

	var got payload

	assert.False(t, s.Get(context.Background(), "cache:bad", &got))
}

func TestQuotaStore_UnserializableValue(t *testing.T) {
	m := newFakeMedium()
	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test"})

	// Channels have no JSON representation.
	assert.False(t, s.Set(context.Background(), "cache:chan", make(chan int)))
	assert.Equal(t, 0, m.len())
}

func TestQuotaStore_Stats(t *testing.T) {
	m := newFakeMedium()
	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test", MaxBytes: 1000})

	ctx := context.Background()

	require.True(t, s.Set(ctx, "cache:a", "12345678"))

	stats := s.Stats(ctx)
	assert.True(t, stats.Available)
	assert.Equal(t, 1, stats.ItemCount)
	assert.Equal(t, 1000, stats.MaxBytes)
	// len("cache:a") + len(`"12345678"`) including JSON quotes.
	assert.Equal(t, 17, stats.CurrentSize)
	assert.InDelta(t, 1.7, stats.UtilizationPercent, 0.01)
}

func TestQuotaStore_Clear(t *testing.T) {
	m := newFakeMedium()
	s := NewQuotaStore(m, QuotaStoreConfig{Name: "test"})

	ctx := context.Background()

	require.True(t, s.Set(ctx, "cache:a", "1"))
	require.True(t, s.Set(ctx, "tmp:b", "2"))
	require.NoError(t, m.Write("unrelated", "3"))

	require.True(t, s.Clear(ctx))

	assert.Equal(t, 1, m.len())

	_, found, err := m.Read("unrelated")
	require.NoError(t, err)
	assert.True(t, found)
}
