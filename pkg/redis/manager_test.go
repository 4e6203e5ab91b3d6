package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "disabled skips checks", mutate: func(c *Config) { c.Enabled = false; c.Host = "" }},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: "host is required"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }, wantErr: "port must be positive"},
		{name: "zero ttl", mutate: func(c *Config) { c.DefaultTTL = 0 }, wantErr: "default_ttl"},
		{name: "empty pool", mutate: func(c *Config) { c.Pool.Size = 0 }, wantErr: "pool size"},
		{name: "idle above size", mutate: func(c *Config) { c.Pool.MinIdleConns = 20 }, wantErr: "min_idle_conns"},
		{
			name: "cluster without host",
			mutate: func(c *Config) {
				c.Host = ""
				c.Port = 0
				c.Cluster = ClusterConfig{Enabled: true, Addresses: []string{"a:7000", "b:7000"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigPrefix(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "mapper4go", c.Prefix())
	c.KeyPrefix = ""
	assert.Equal(t, DefaultKeyPrefix, c.Prefix())
	c.KeyPrefix = "billing"
	assert.Equal(t, "billing", c.Prefix())
	assert.Equal(t, "localhost:6379", c.GetAddr())
}

func TestDisabledManager(t *testing.T) {
	ctx := context.Background()
	c := DefaultConfig()
	c.Enabled = false
	m, err := NewManager(c)
	require.NoError(t, err)
	defer m.Close()

	assert.NoError(t, m.Ping(ctx))

	_, err = m.Get(ctx, "k")
	assert.True(t, IsCacheDisabled(err))
	assert.True(t, IsCacheDisabled(m.SetValue(ctx, "k", 1)))
	assert.True(t, IsCacheDisabled(m.GetValue(ctx, "k", new(int))))
	assert.True(t, IsCacheDisabled(m.Delete(ctx, "k")))
	assert.True(t, IsCacheDisabled(m.InvalidatePattern(ctx, "k*")))
	_, err = m.Exists(ctx, "k")
	assert.True(t, IsCacheDisabled(err))
	assert.True(t, IsSilent(err))
	assert.True(t, IsSilent(ErrKeyNotFound))
	assert.False(t, IsSilent(ErrConnectionFailed))
}

func TestNewManagerErrors(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)

	c := DefaultConfig()
	c.Host = ""
	_, err = NewManager(c)
	assert.ErrorContains(t, err, "invalid redis config")

	_, err = NewManagerWithClient(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrClientNotInitialized)
}

func TestPingUnreachable(t *testing.T) {
	c := DefaultConfig()
	c.Port = 1
	c.Timeouts.Dial = 100 * time.Millisecond
	m, err := NewManager(c)
	require.NoError(t, err)
	defer m.Close()

	err = m.Ping(context.Background())
	assert.True(t, IsConnectionFailed(err))
}

func TestDecodeUsesLooseInterfaces(t *testing.T) {
	rows := []map[string]any{{"id": int64(7), "name": "ada", "score": 1.5, "deleted_at": nil}}
	data, err := msgpack.Marshal(rows)
	require.NoError(t, err)

	var out []map[string]any
	require.NoError(t, Decode(data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, int64(7), out[0]["id"])
	assert.Equal(t, 1.5, out[0]["score"])
	assert.Nil(t, out[0]["deleted_at"])

	err = Decode([]byte{0xc1}, &out)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordGet(10 * time.Millisecond)
	m.RecordGet(30 * time.Millisecond)
	m.RecordInvalidation(4)
	m.RecordInvalidation(0)

	s := m.GetSnapshot()
	assert.Equal(t, uint64(3), s.CacheHits)
	assert.Equal(t, uint64(1), s.CacheMisses)
	assert.InDelta(t, 75.0, s.CacheHitRate, 0.001)
	assert.Equal(t, 20*time.Millisecond, s.AvgGetLatency)
	assert.Equal(t, uint64(2), s.InvalidationCount)
	assert.Equal(t, uint64(4), s.InvalidatedKeys)

	m.Reset()
	assert.Equal(t, MetricsSnapshot{}, m.GetSnapshot())
}
