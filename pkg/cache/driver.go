package cache

import (
	"github.com/ammar0144/mapper4go/pkg/db"
)

// Driver caches every connection of the driver it wraps. Each connection
// gets its own key namespace.
type Driver struct {
	next  db.Driver
	store Store
	opts  []Option
}

// NewDriver wraps a driver
func NewDriver(next db.Driver, store Store, opts ...Option) *Driver {
	return &Driver{next: next, store: store, opts: opts}
}

// Connection returns the cached adapter of a named connection
func (d *Driver) Connection(name string) (db.Adapter, error) {
	a, err := d.next.Connection(name)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = db.DefaultConnection
	}
	opts := append([]Option{WithConnection(name)}, d.opts...)
	return Wrap(a, d.store, opts...), nil
}
