package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// sqlDriverNames maps config drivers to their database/sql registrations
var sqlDriverNames = map[string]string{
	DriverMySQL:    "mysql",
	DriverPostgres: "postgres",
	DriverSQLite:   "sqlite",
}

// QueryStats holds statement execution counters of a SQLDriver
type QueryStats struct {
	Queries     atomic.Int64
	Execs       atomic.Int64
	SlowQueries atomic.Int64
	Errors      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of QueryStats
type StatsSnapshot struct {
	Queries     int64
	Execs       int64
	SlowQueries int64
	Errors      int64
}

// Snapshot returns the current counters
func (s *QueryStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:     s.Queries.Load(),
		Execs:       s.Execs.Load(),
		SlowQueries: s.SlowQueries.Load(),
		Errors:      s.Errors.Load(),
	}
}

// SQLDriver holds named database/sql connections for mysql, postgres and sqlite
type SQLDriver struct {
	mu          sync.RWMutex
	connections map[string]*SQLAdapter
	logger      *slog.Logger
	stats       *QueryStats
}

// SQLOption configures a connection added to a SQLDriver
type SQLOption func(*SQLAdapter)

// WithSlowThreshold logs statements slower than d as warnings
func WithSlowThreshold(d time.Duration) SQLOption {
	return func(a *SQLAdapter) { a.slow = d }
}

// WithQueryTimeout bounds each statement
func WithQueryTimeout(d time.Duration) SQLOption {
	return func(a *SQLAdapter) { a.timeout = d }
}

// NewSQLDriver creates an empty driver. A nil logger uses slog.Default().
func NewSQLDriver(logger *slog.Logger) *SQLDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLDriver{
		connections: make(map[string]*SQLAdapter),
		logger:      logger,
		stats:       &QueryStats{},
	}
}

// Open opens a named connection from its configuration
func (d *SQLDriver) Open(name string, config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config for connection %q: %w", name, err)
	}
	dsn, err := config.GetDSN()
	if err != nil {
		return fmt.Errorf("connection %q: %w", name, err)
	}
	sqlDB, err := sql.Open(sqlDriverNames[config.DriverName()], dsn)
	if err != nil {
		return fmt.Errorf("open connection %q: %w", name, err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	var opts []SQLOption
	if config.Logging.LogSlowQueries {
		opts = append(opts, WithSlowThreshold(config.Logging.SlowQueryThreshold))
	}
	if config.QueryTimeout > 0 {
		opts = append(opts, WithQueryTimeout(config.QueryTimeout))
	}
	if err := d.Add(name, sqlDB, config.DriverName(), opts...); err != nil {
		_ = sqlDB.Close()
		return err
	}
	return nil
}

// Add registers an open *sql.DB under a name. dialect is one of the Driver constants.
func (d *SQLDriver) Add(name string, db *sql.DB, dialect string, opts ...SQLOption) error {
	if _, ok := sqlDriverNames[dialect]; !ok {
		return fmt.Errorf("unsupported driver %q", dialect)
	}
	a := &SQLAdapter{
		conn:    db,
		db:      db,
		dialect: dialect,
		logger:  d.logger.With("connection", name),
		stats:   d.stats,
	}
	for _, opt := range opts {
		opt(a)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.connections[name]; exists {
		return fmt.Errorf("connection %q already registered", name)
	}
	d.connections[name] = a
	return nil
}

// Connection implements Driver
func (d *SQLDriver) Connection(name string) (Adapter, error) {
	if name == "" {
		name = DefaultConnection
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.connections[name]
	if !ok {
		return nil, unknownConnection(name)
	}
	return a, nil
}

// Stats returns the statement counters of every connection
func (d *SQLDriver) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}

// Close closes every connection
func (d *SQLDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for name, a := range d.connections {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
		delete(d.connections, name)
	}
	return errors.Join(errs...)
}

// conn is the subset of *sql.DB and *sql.Tx the adapter needs
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLAdapter executes statements on a database/sql connection or transaction
type SQLAdapter struct {
	conn    conn
	db      *sql.DB
	tx      *sql.Tx
	dialect string
	timeout time.Duration
	slow    time.Duration
	logger  *slog.Logger
	stats   *QueryStats
}

// DB returns the underlying handle, e.g. for schema statements
func (a *SQLAdapter) DB() *sql.DB { return a.db }

func (a *SQLAdapter) builder(table string) *Builder {
	b := NewBuilder(table)
	if a.dialect == DriverPostgres {
		b.Placeholder(Dollar)
	}
	return b
}

func (a *SQLAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return ctx, func() {}
}

func (a *SQLAdapter) record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		a.stats.Queries.Add(1)
	} else {
		a.stats.Execs.Add(1)
	}
	if err != nil {
		a.stats.Errors.Add(1)
		a.logger.DebugContext(ctx, "statement failed", "query", query, "error", err)
	}
	if a.slow > 0 && duration > a.slow {
		a.stats.SlowQueries.Add(1)
		a.logger.WarnContext(ctx, "slow query detected", "duration", duration, "query", query, "args", len(args))
	}
}

// Select implements Adapter
func (a *SQLAdapter) Select(ctx context.Context, table string, where *ConditionGroup) ([]map[string]any, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	query, args := a.builder(table).WhereGroup(where).BuildSelect()
	start := time.Now()
	rows, err := a.conn.QueryContext(ctx, query, args...)
	if err != nil {
		a.record(ctx, query, args, start, err, true)
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	a.record(ctx, query, args, start, err, true)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return out, nil
}

// Insert implements Adapter. Postgres reads the generated key back with RETURNING.
func (a *SQLAdapter) Insert(ctx context.Context, table, keyColumn string, values map[string]any) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("insert into %s: %w", table, ErrEmptyValues)
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	query, args := a.builder(table).BuildInsert(values)
	supplied, hasKey := values[keyColumn]
	hasKey = hasKey && supplied != nil

	if a.dialect == DriverPostgres && !hasKey && keyColumn != "" {
		query += " RETURNING " + keyColumn
		var id any
		start := time.Now()
		err := a.conn.QueryRowContext(ctx, query, args...).Scan(&id)
		a.record(ctx, query, args, start, err, true)
		if err != nil {
			return nil, fmt.Errorf("insert into %s: %w", table, err)
		}
		return id, nil
	}

	start := time.Now()
	res, err := a.conn.ExecContext(ctx, query, args...)
	a.record(ctx, query, args, start, err, false)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	if hasKey {
		return supplied, nil
	}
	return lastInsertID(res), nil
}

// Update implements Adapter
func (a *SQLAdapter) Update(ctx context.Context, table string, where *ConditionGroup, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("update %s: %w", table, ErrEmptyValues)
	}
	query, args := a.builder(table).WhereGroup(where).BuildUpdate(values)
	n, err := a.exec(ctx, query, args)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	return n, nil
}

// Delete implements Adapter
func (a *SQLAdapter) Delete(ctx context.Context, table string, where *ConditionGroup) (int64, error) {
	query, args := a.builder(table).WhereGroup(where).BuildDelete()
	n, err := a.exec(ctx, query, args)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return n, nil
}

func (a *SQLAdapter) exec(ctx context.Context, query string, args []any) (int64, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := a.conn.ExecContext(ctx, query, args...)
	a.record(ctx, query, args, start, err, false)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Begin implements Transactional
func (a *SQLAdapter) Begin(ctx context.Context) (Tx, error) {
	if a.tx != nil {
		return nil, fmt.Errorf("begin: transaction already open")
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	child := *a
	child.conn = tx
	child.tx = tx
	return &sqlTx{SQLAdapter: &child}, nil
}

type sqlTx struct {
	*SQLAdapter
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }
