// Package mapper4go is a data-mapper ORM: entities are plain key/value
// objects described by entity maps, and a unit of work per request tracks
// their state and writes the changes back to a relational store.
package mapper4go

import (
	"errors"
	"fmt"

	"github.com/ammar0144/mapper4go/pkg/cache"
	"github.com/ammar0144/mapper4go/pkg/config"
	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
	"github.com/ammar0144/mapper4go/pkg/orm"
	"github.com/ammar0144/mapper4go/pkg/redis"
	"github.com/ammar0144/mapper4go/pkg/repository"
)

// Config represents the complete configuration
type Config = config.Config

// Entity is one mapped domain object
type Entity = entity.Entity

// EntityMap describes how a type maps to its table
type EntityMap = mapping.EntityMap

// UnitOfWork tracks the entities of one request or session
type UnitOfWork = orm.UnitOfWork

// LoadConfig reads a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Define starts the entity map of a type
func Define(typeName string) *mapping.Builder {
	return mapping.New(typeName)
}

// NewRepository creates a typed repository within a unit of work
func NewRepository[T repository.Record](u *UnitOfWork, typeName string, wrap repository.WrapFunc[T]) (*repository.GenericRepository[T], error) {
	return repository.For(u, typeName, wrap)
}

// Client is a mapper Manager together with the connections it opened
type Client struct {
	*orm.Manager

	gorm  *db.Manager
	sql   *db.SQLDriver
	cache *redis.Manager
}

// Open connects every configured database and registers them as the
// mapper's default driver. MySQL connections go through gorm, postgres and
// sqlite through database/sql. With redis enabled, selects of every
// connection are served by the row cache.
func Open(cfg *Config, opts ...orm.Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mgr, err := orm.NewManager(cfg.Mapper, opts...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Manager: mgr,
		gorm:    db.NewManager(),
		sql:     db.NewSQLDriver(mgr.Logger()),
	}
	router := make(connections, len(cfg.Database))
	for _, name := range cfg.Connections() {
		conn := cfg.Database[name]
		if conn.DriverName() == db.DriverMySQL {
			err = c.gorm.AddConnection(name, conn)
			router[name] = c.gorm
		} else {
			err = c.sql.Open(name, conn)
			router[name] = c.sql
		}
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}

	var driver db.Driver = router
	if cfg.CacheEnabled() {
		c.cache, err = redis.NewManager(cfg.Redis)
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}
		c.cache.SetLogger(mgr.Logger().With("component", "redis"))
		driver = cache.NewDriver(router, c.cache,
			cache.WithPrefix(c.cache.KeyPrefix()),
			cache.WithLogger(mgr.Logger().With("component", "cache")))
	}
	if err := mgr.AddDriver(mgr.Config().DefaultDriver, driver); err != nil {
		return nil, errors.Join(err, c.Close())
	}
	return c, nil
}

// Begin starts a unit of work on the default connection
func (c *Client) Begin() (*UnitOfWork, error) {
	return c.Open("", "")
}

// Cache returns the redis manager, nil when the row cache is off
func (c *Client) Cache() *redis.Manager { return c.cache }

// Gorm returns the driver holding the MySQL connections
func (c *Client) Gorm() *db.Manager { return c.gorm }

// SQL returns the driver holding the postgres and sqlite connections
func (c *Client) SQL() *db.SQLDriver { return c.sql }

// Close closes every connection and the cache
func (c *Client) Close() error {
	errs := []error{c.gorm.Close(), c.sql.Close()}
	if c.cache != nil {
		errs = append(errs, c.cache.Close())
	}
	return errors.Join(errs...)
}

// connections routes connection names to the driver holding them
type connections map[string]db.Driver

func (c connections) Connection(name string) (db.Adapter, error) {
	if name == "" {
		name = db.DefaultConnection
	}
	d, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", db.ErrUnknownConnection, name)
	}
	return d.Connection(name)
}
