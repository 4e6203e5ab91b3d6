package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewManager creates an empty gorm driver. Connections are added with AddConnection.
func NewManager() *Manager {
	return &Manager{connections: make(map[string]*connection)}
}

// NewDefaultManager creates a driver holding one MySQL connection named "default"
func NewDefaultManager(host, database, username, password string) (*Manager, error) {
	config := DefaultConfig()
	config.Host = host
	config.Database = database
	config.Username = username
	config.Password = password
	config.PrepareStmt = true

	m := NewManager()
	if err := m.AddConnection(DefaultConnection, config); err != nil {
		return nil, err
	}
	return m, nil
}

// AddConnection opens a named MySQL connection through gorm
func (m *Manager) AddConnection(name string, config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config for connection %q: %w", name, err)
	}
	if config.DriverName() != DriverMySQL {
		return fmt.Errorf("connection %q: the gorm driver supports mysql only, use SQLDriver for %s", name, config.DriverName())
	}

	dsn, err := config.GetDSN()
	if err != nil {
		return fmt.Errorf("connection %q: %w", name, err)
	}
	db, err := gorm.Open(mysql.Open(dsn), gormConfig(config))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return m.AddGorm(name, db, config)
}

// AddGorm registers an already opened gorm handle under a name
func (m *Manager) AddGorm(name string, db *gorm.DB, config *Config) error {
	if db == nil {
		return fmt.Errorf("connection %q: nil gorm handle", name)
	}
	if config == nil {
		config = DefaultConfig()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.connections[name]; exists {
		return fmt.Errorf("connection %q already registered", name)
	}
	m.connections[name] = &connection{config: config, db: db}
	return nil
}

func gormConfig(config *Config) *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: config.SkipDefaultTransaction,
		PrepareStmt:            config.PrepareStmt,
		Logger:                 newLogger(config.Logging),
	}
}

func newLogger(cfg LoggingConfig) logger.Interface {
	threshold := cfg.SlowQueryThreshold
	if !cfg.LogSlowQueries {
		threshold = 0
	}
	return logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             threshold,
		LogLevel:                  getLogLevel(cfg.Level),
		IgnoreRecordNotFoundError: true,
	})
}

func (m *Manager) get(name string) (*connection, error) {
	if name == "" {
		name = DefaultConnection
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[name]
	if !ok {
		return nil, unknownConnection(name)
	}
	return c, nil
}

// Connection returns the adapter of a named connection
func (m *Manager) Connection(name string) (Adapter, error) {
	c, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return NewGormAdapter(c.db, c.config.QueryTimeout), nil
}

// DB returns the gorm handle of a named connection
func (m *Manager) DB(name string) (*gorm.DB, error) {
	c, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return c.db, nil
}

// Config returns the configuration of a named connection
func (m *Manager) Config(name string) (*Config, error) {
	c, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return c.config, nil
}

// Names returns the registered connection names
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	return names
}

// Ping tests a named connection
func (m *Manager) Ping(ctx context.Context, name string) error {
	c, err := m.get(name)
	if err != nil {
		return err
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns the pool statistics of a named connection
func (m *Manager) Stats(name string) (sql.DBStats, error) {
	c, err := m.get(name)
	if err != nil {
		return sql.DBStats{}, err
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

// Close closes every connection
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, c := range m.connections {
		sqlDB, err := c.db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
		delete(m.connections, name)
	}
	return errors.Join(errs...)
}

func getLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		return logger.Error // Default to error
	}
}
