// Package config loads the settings of the database connections, the redis
// row cache and the mapper from one YAML file:
//
//	database:
//	  default:
//	    driver: mysql
//	    host: db.internal
//	    database: shop
//	  reports:
//	    driver: postgres
//	    host: reports.internal
//	    database: reports
//	redis:
//	  enabled: true
//	  host: cache.internal
//	mapper:
//	  strict: true
//	  transactions: required
//
// Every connection starts from db.DefaultConfig, the redis section from
// redis.DefaultConfig and the mapper section from orm.DefaultConfig; values
// in the file override them. The row cache stays off unless redis.enabled is
// set.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/orm"
	"github.com/ammar0144/mapper4go/pkg/redis"
)

// Config is the complete configuration
type Config struct {
	Database map[string]*db.Config `json:"database" yaml:"database"`
	Redis    *redis.Config         `json:"redis" yaml:"redis"`
	Mapper   orm.Config            `json:"mapper" yaml:"mapper"`
}

// file mirrors Config with connections left undecoded until their
// defaults are in place
type file struct {
	Database map[string]yaml.Node `yaml:"database"`
	Redis    yaml.Node            `yaml:"redis"`
	Mapper   yaml.Node            `yaml:"mapper"`
}

// Default returns a configuration without connections and with the cache off
func Default() *Config {
	cache := redis.DefaultConfig()
	cache.Enabled = false
	return &Config{
		Database: make(map[string]*db.Config),
		Redis:    cache,
		Mapper:   orm.DefaultConfig(),
	}
}

// Load reads and validates a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML configuration data
func Parse(data []byte) (*Config, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg := Default()
	for name, node := range f.Database {
		conn := db.DefaultConfig()
		if err := decode(&node, conn); err != nil {
			return nil, fmt.Errorf("database %q: %w", name, err)
		}
		cfg.Database[name] = conn
	}
	if err := decode(&f.Redis, cfg.Redis); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if err := decode(&f.Mapper, &cfg.Mapper); err != nil {
		return nil, fmt.Errorf("mapper: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays a node on target; missing sections keep the defaults
func decode(node *yaml.Node, target any) error {
	if node.Kind == 0 {
		return nil
	}
	return node.Decode(target)
}

// Validate checks every section
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.Connections() {
		if err := c.Database[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("database %q: %w", name, err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := c.Mapper.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mapper: %w", err))
	}
	if len(c.Database) > 0 {
		if _, ok := c.Database[c.defaultConnection()]; !ok {
			errs = append(errs, fmt.Errorf("mapper: default connection %q is not configured", c.defaultConnection()))
		}
	}
	return errors.Join(errs...)
}

// Connections returns the configured connection names in sorted order
func (c *Config) Connections() []string {
	names := make([]string, 0, len(c.Database))
	for name := range c.Database {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheEnabled reports whether the redis row cache is configured
func (c *Config) CacheEnabled() bool {
	return c.Redis != nil && c.Redis.Enabled
}

func (c *Config) defaultConnection() string {
	if c.Mapper.DefaultConnection == "" {
		return db.DefaultConnection
	}
	return c.Mapper.DefaultConnection
}
