// Package orm is the data mapper: a Manager shared by the application hands
// out units of work, each with its own identity map, which load, store and
// delete entities through per-type mappers.
package orm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/events"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// TxMode decides how a store or delete spanning several writes is made atomic
type TxMode string

const (
	// TxPreferred wraps each operation in a transaction when the adapter
	// supports it and falls back to sequential writes otherwise.
	TxPreferred TxMode = "preferred"
	// TxRequired fails with ErrTransactionsUnsupported on adapters without transactions
	TxRequired TxMode = "required"
	// TxDisabled always writes sequentially without a transaction
	TxDisabled TxMode = "disabled"
)

// Config holds the mapper settings
type Config struct {
	Strict            bool   `json:"strict" yaml:"strict"`
	Transactions      TxMode `json:"transactions" yaml:"transactions"`
	DefaultDriver     string `json:"default_driver" yaml:"default_driver"`
	DefaultConnection string `json:"default_connection" yaml:"default_connection"`
}

// DefaultConfig returns lenient registration with preferred transactions
func DefaultConfig() Config {
	return Config{
		Transactions:      TxPreferred,
		DefaultDriver:     "default",
		DefaultConnection: db.DefaultConnection,
	}
}

// Validate checks the mapper configuration
func (c Config) Validate() error {
	switch c.Transactions {
	case TxPreferred, TxRequired, TxDisabled, "":
	default:
		return fmt.Errorf("unknown transactions mode %q", c.Transactions)
	}
	return nil
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger for lifecycle messages
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithBus shares an existing event bus
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// Manager owns the entity map registry, the event bus, the plugins and the
// storage drivers. It is safe for concurrent use; units of work are not.
type Manager struct {
	config   Config
	registry *mapping.Registry
	bus      *events.Bus
	logger   *slog.Logger

	mu      sync.RWMutex
	drivers map[string]db.Driver
	plugins []events.Plugin
}

// NewManager creates a manager
func NewManager(config Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapper config: %w", err)
	}
	if config.Transactions == "" {
		config.Transactions = TxPreferred
	}
	if config.DefaultConnection == "" {
		config.DefaultConnection = db.DefaultConnection
	}
	m := &Manager{
		config:   config,
		registry: mapping.NewRegistry(config.Strict),
		drivers:  make(map[string]db.Driver),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewBus()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// Config returns the manager configuration
func (m *Manager) Config() Config { return m.config }

// Registry returns the entity map registry
func (m *Manager) Registry() *mapping.Registry { return m.registry }

// Events returns the event bus shared by every mapper
func (m *Manager) Events() *events.Bus { return m.bus }

// Logger returns the lifecycle logger
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Define publishes a conventional map definition, e.g. "UserMap"
func (m *Manager) Define(name string, em *mapping.EntityMap) error {
	return m.registry.Define(name, em)
}

// Register binds an entity type to its map, see mapping.Registry.Register
func (m *Manager) Register(typeName string, maps ...*mapping.EntityMap) (*mapping.EntityMap, error) {
	em, err := m.registry.Register(typeName, maps...)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("entity type registered", "type", typeName, "table", em.Table(), "dynamic", em.IsDynamic())
	return em, nil
}

// AddDriver registers a storage driver under a name
func (m *Manager) AddDriver(name string, driver db.Driver) error {
	if driver == nil {
		return fmt.Errorf("driver %q is nil", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.drivers[name]; exists {
		return fmt.Errorf("driver %q already registered", name)
	}
	m.drivers[name] = driver
	return nil
}

// Drivers returns the registered driver names in sorted order
func (m *Manager) Drivers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.drivers))
	for name := range m.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Adapter returns the adapter of a named connection of a named driver.
// Empty names select the configured defaults.
func (m *Manager) Adapter(driver, connection string) (db.Adapter, error) {
	if driver == "" {
		driver = m.config.DefaultDriver
	}
	if connection == "" {
		connection = m.config.DefaultConnection
	}
	m.mu.RLock()
	d, ok := m.drivers[driver]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driver %q is not registered", driver)
	}
	a, err := d.Connection(connection)
	if err != nil {
		return nil, fmt.Errorf("driver %q: %w", driver, err)
	}
	return a, nil
}

// RegisterPlugin declares the plugin's custom events and lets it attach its handlers
func (m *Manager) RegisterPlugin(p events.Plugin) error {
	if err := m.bus.Declare(p.CustomEvents()...); err != nil {
		return fmt.Errorf("plugin %T: %w", p, err)
	}
	if err := p.Register(); err != nil {
		return fmt.Errorf("plugin %T: %w", p, err)
	}
	m.mu.Lock()
	m.plugins = append(m.plugins, p)
	m.mu.Unlock()
	m.logger.Debug("plugin registered", "plugin", fmt.Sprintf("%T", p))
	return nil
}

// Plugins returns the registered plugins in registration order
func (m *Manager) Plugins() []events.Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]events.Plugin(nil), m.plugins...)
}

// Open starts a unit of work on a named connection of a named driver
func (m *Manager) Open(driver, connection string) (*UnitOfWork, error) {
	a, err := m.Adapter(driver, connection)
	if err != nil {
		return nil, err
	}
	return m.NewUnitOfWork(a), nil
}

// NewUnitOfWork starts a unit of work on an adapter
func (m *Manager) NewUnitOfWork(adapter db.Adapter) *UnitOfWork {
	return newUnitOfWork(m, adapter)
}
