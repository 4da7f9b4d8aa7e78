package cachekit

// SentinelError is an error.
type SentinelError string

const (
	// ErrCapacityExceeded indicates a new-key write rejected because the cache
	// is still at capacity after an aggressive cleanup.
	ErrCapacityExceeded = SentinelError("cache capacity exceeded")

	// ErrOperationInProgress indicates a synchronous mutation rejected because
	// the key is held by an in-flight asynchronous operation.
	ErrOperationInProgress = SentinelError("operation in progress for key")

	// ErrCacheClosed indicates cache was destroyed and deactivated.
	ErrCacheClosed = SentinelError("cache is closed")

	// ErrQuotaExceeded indicates a persistent store write rejected because the
	// projected total size exceeds the byte budget.
	ErrQuotaExceeded = SentinelError("storage quota exceeded")

	// ErrStorageUnavailable indicates the persistent medium failed its
	// availability probe and the store degraded to no-ops.
	ErrStorageUnavailable = SentinelError("storage unavailable")

	// ErrSerializationFailure indicates a value could not be serialized or
	// deserialized by the persistent store.
	ErrSerializationFailure = SentinelError("value serialization failed")

	// ErrMediumQuota is returned by a Medium when the medium itself rejects a
	// write on size.
	ErrMediumQuota = SentinelError("medium quota exceeded")

	// ErrNothingRegistered indicates no caches were added to Registry.
	ErrNothingRegistered = SentinelError("nothing registered")

	// ErrPressureThrottled indicates recent memory-pressure handling.
	ErrPressureThrottled = SentinelError("memory pressure already handled")
)

// Error implements error.
func (e SentinelError) Error() string {
	return string(e)
}
