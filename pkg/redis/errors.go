package redis

import "errors"

var (
	// ErrCacheDisabled is returned by every operation of a disabled cache
	ErrCacheDisabled = errors.New("redis: cache disabled")

	// ErrClientNotInitialized is returned when no client was created
	ErrClientNotInitialized = errors.New("redis: client not initialized")

	// ErrKeyNotFound reports a cache miss
	ErrKeyNotFound = errors.New("redis: key not found")

	// ErrConnectionFailed wraps failed pings
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrSerializationFailed wraps msgpack encoding and decoding failures
	ErrSerializationFailed = errors.New("redis: serialization failed")
)

// IsCacheDisabled checks if an error is ErrCacheDisabled
func IsCacheDisabled(err error) bool {
	return errors.Is(err, ErrCacheDisabled)
}

// IsKeyNotFound checks if an error is ErrKeyNotFound
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsConnectionFailed checks if an error is ErrConnectionFailed
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// IsSilent reports errors a read-through caller treats as a plain miss
// without logging: the key is absent or the cache is switched off.
func IsSilent(err error) bool {
	return IsKeyNotFound(err) || IsCacheDisabled(err)
}
