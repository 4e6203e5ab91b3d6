package redis

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty
const DefaultKeyPrefix = "mapper4go"

// Config holds the settings of the row cache connection
type Config struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`

	// KeyPrefix namespaces every key written by the cache
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	Database int    `json:"database" yaml:"database"`

	Pool     PoolConfig    `json:"pool" yaml:"pool"`
	Timeouts TimeoutConfig `json:"timeouts" yaml:"timeouts"`

	// Cluster replaces Host/Port when enabled with at least one address
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	EnableMetrics bool          `json:"enable_metrics" yaml:"enable_metrics"`
	Logging       LoggingConfig `json:"logging" yaml:"logging"`
}

// PoolConfig sizes the connection pool
type PoolConfig struct {
	Size         int           `json:"size" yaml:"size"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	MaxConnAge   time.Duration `json:"max_conn_age" yaml:"max_conn_age"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// TimeoutConfig bounds single commands
type TimeoutConfig struct {
	Read  time.Duration `json:"read" yaml:"read"`
	Write time.Duration `json:"write" yaml:"write"`
	Dial  time.Duration `json:"dial" yaml:"dial"`
}

// ClusterConfig for Redis Cluster setup
type ClusterConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"password" yaml:"password"`
}

// LoggingConfig selects which cache events are logged at debug level
type LoggingConfig struct {
	LogCacheHits     bool `json:"log_cache_hits" yaml:"log_cache_hits"`
	LogCacheMisses   bool `json:"log_cache_misses" yaml:"log_cache_misses"`
	LogInvalidations bool `json:"log_invalidations" yaml:"log_invalidations"`
}

// DefaultConfig returns an enabled cache on localhost:6379 caching rows for an hour
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		DefaultTTL: time.Hour,
		KeyPrefix:  DefaultKeyPrefix,
		Host:       "localhost",
		Port:       6379,
		Pool: PoolConfig{
			Size:         10,
			MinIdleConns: 3,
			MaxConnAge:   time.Hour,
			Timeout:      4 * time.Second,
			IdleTimeout:  5 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			Read:  3 * time.Second,
			Write: 3 * time.Second,
			Dial:  5 * time.Second,
		},
		EnableMetrics: true,
		Logging: LoggingConfig{
			LogCacheMisses:   true,
			LogInvalidations: true,
		},
	}
}

// Validate checks the configuration of an enabled cache
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !c.IsClusterMode() {
		if c.Host == "" {
			return fmt.Errorf("redis host is required when cache is enabled")
		}
		if c.Port <= 0 {
			return fmt.Errorf("redis port must be positive")
		}
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive when cache is enabled")
	}
	if c.Pool.Size < 1 {
		return fmt.Errorf("pool size must be at least 1")
	}
	if c.Pool.MinIdleConns > c.Pool.Size {
		return fmt.Errorf("pool min_idle_conns cannot exceed the pool size")
	}
	return nil
}

// GetAddr returns the host:port address of a single node
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsClusterMode returns true if Redis cluster is enabled
func (c *Config) IsClusterMode() bool {
	return c.Cluster.Enabled && len(c.Cluster.Addresses) > 0
}

// Prefix returns the key prefix, falling back to DefaultKeyPrefix
func (c *Config) Prefix() string {
	if c.KeyPrefix == "" {
		return DefaultKeyPrefix
	}
	return c.KeyPrefix
}

// newClient builds a single node or cluster client from the configuration
func (c *Config) newClient() redis.UniversalClient {
	if c.IsClusterMode() {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           c.Cluster.Addresses,
			Username:        c.Cluster.Username,
			Password:        c.Cluster.Password,
			PoolSize:        c.Pool.Size,
			MinIdleConns:    c.Pool.MinIdleConns,
			ConnMaxLifetime: c.Pool.MaxConnAge,
			PoolTimeout:     c.Pool.Timeout,
			ConnMaxIdleTime: c.Pool.IdleTimeout,
			ReadTimeout:     c.Timeouts.Read,
			WriteTimeout:    c.Timeouts.Write,
			DialTimeout:     c.Timeouts.Dial,
		})
	}
	return redis.NewClient(&redis.Options{
		Addr:            c.GetAddr(),
		Password:        c.Password,
		DB:              c.Database,
		PoolSize:        c.Pool.Size,
		MinIdleConns:    c.Pool.MinIdleConns,
		ConnMaxLifetime: c.Pool.MaxConnAge,
		PoolTimeout:     c.Pool.Timeout,
		ConnMaxIdleTime: c.Pool.IdleTimeout,
		ReadTimeout:     c.Timeouts.Read,
		WriteTimeout:    c.Timeouts.Write,
		DialTimeout:     c.Timeouts.Dial,
	})
}
