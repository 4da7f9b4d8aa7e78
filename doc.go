// Package cachekit provides an in-process cache subsystem: TTL-bounded,
// capacity-bounded key/value caches with per-key mutation serialization, a
// cross-cache registry that reclaims memory under pressure in priority order,
// and a quota-aware wrapper over a size-limited persistent key/value medium.
//
// Features:
//
//   - Lazy expiration on access plus a background cleanup job.
//   - Hybrid frequency/recency eviction under capacity pressure, which favors
//     entries that are both frequently and recently used and reduces churn
//     under bursty access patterns compared to pure LRU.
//   - Asynchronous mutations to the same key are queued FIFO behind an
//     advisory per-key lock; mutations on unrelated keys are independent.
//   - Synchronous mutations never block: they are rejected while a key is
//     held, with a logged warning.
//   - Locked keys are never removed by expiry or eviction sweeps.
//   - Expected failures (capacity, in-flight lock, quota, unavailable
//     storage) degrade to "operation did not take effect", never a crash.
//   - Coordinated reclamation across caches in ascending priority order, so
//     the most valuable data survives sustained pressure longest.
//   - Allows logging, stats collection.
//   - Injectable clock for deterministic expiry and scoring in tests.
package cachekit
