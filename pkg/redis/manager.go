package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// scanCount is the COUNT hint of each SCAN round
const scanCount = 100

// Manager stores msgpack-encoded values in Redis for the row cache
type Manager struct {
	config  *Config
	client  redis.UniversalClient
	metrics *Metrics
	logger  *slog.Logger
}

// NewManager validates the configuration and creates the client. A disabled
// configuration yields a manager whose operations return ErrCacheDisabled.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	m, err := newManager(config)
	if err != nil {
		return nil, err
	}
	if config.Enabled {
		m.client = config.newClient()
	}
	return m, nil
}

// NewManagerWithClient wraps a client created elsewhere. A nil config uses DefaultConfig.
func NewManagerWithClient(config *Config, client redis.UniversalClient) (*Manager, error) {
	if client == nil {
		return nil, ErrClientNotInitialized
	}
	if config == nil {
		config = DefaultConfig()
	}
	m, err := newManager(config)
	if err != nil {
		return nil, err
	}
	m.client = client
	return m, nil
}

func newManager(config *Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}
	return &Manager{
		config:  config,
		metrics: NewMetrics(),
		logger:  slog.Default().With("component", "redis"),
	}, nil
}

// SetLogger replaces the logger of hit, miss and invalidation messages
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config { return m.config }

// KeyPrefix returns the namespace of every key the cache writes
func (m *Manager) KeyPrefix() string { return m.config.Prefix() }

// Close closes the client
func (m *Manager) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Ping checks the connection. A disabled cache is not an error.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (m *Manager) ready() error {
	switch {
	case !m.config.Enabled:
		return ErrCacheDisabled
	case m.client == nil:
		return ErrClientNotInitialized
	}
	return nil
}

// Get returns the raw bytes of a key, or ErrKeyNotFound
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := m.client.Get(ctx, key).Bytes()
	m.metrics.RecordGet(time.Since(start))

	switch {
	case errors.Is(err, redis.Nil):
		m.metrics.RecordCacheMiss()
		if m.config.Logging.LogCacheMisses {
			m.logger.DebugContext(ctx, "cache miss", "key", key)
		}
		return nil, ErrKeyNotFound
	case err != nil:
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	m.metrics.RecordCacheHit()
	if m.config.Logging.LogCacheHits {
		m.logger.DebugContext(ctx, "cache hit", "key", key)
	}
	return data, nil
}

// Set stores raw bytes with the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, m.config.DefaultTTL)
}

// SetWithTTL stores raw bytes with a custom TTL
func (m *Manager) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.ready(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Set(ctx, key, value, ttl).Err()
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// GetValue decodes the msgpack value of a key into target
func (m *Manager) GetValue(ctx context.Context, key string, target any) error {
	data, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	return Decode(data, target)
}

// SetValue stores the msgpack encoding of value with the default TTL
func (m *Manager) SetValue(ctx context.Context, key string, value any) error {
	if err := m.ready(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return m.Set(ctx, key, data)
}

// Decode unmarshals a value written by SetValue. Values decoded into
// interfaces use int64, uint64 and float64 for numbers.
func Decode(data []byte, target any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return nil
}

// Delete removes keys
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := m.client.Del(ctx, keys...).Err()
	m.metrics.RecordDelete(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Exists reports whether a key is present
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}
	n, err := m.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// InvalidatePattern deletes every key matching a glob pattern. Keys are
// walked with SCAN and deleted one batch at a time; KEYS would block the server.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) error {
	if err := m.ready(); err != nil {
		return err
	}

	removed := 0
	iter := m.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	batch := make([]string, 0, scanCount)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := m.Delete(ctx, batch...); err != nil {
			return err
		}
		removed += len(batch)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanCount {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return err
	}

	m.metrics.RecordInvalidation(removed)
	if m.config.Logging.LogInvalidations {
		m.logger.DebugContext(ctx, "cache invalidated", "pattern", pattern, "keys", removed)
	}
	return nil
}

// GetMetrics returns current cache performance metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	if !m.config.EnableMetrics {
		return MetricsSnapshot{}
	}
	return m.metrics.GetSnapshot()
}

// ResetMetrics resets all performance metrics counters
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}
