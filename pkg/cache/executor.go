// Package cache keeps Select results of a db.Adapter in a key/value store.
// Rows are cached per table and predicate; every write to a table drops all
// cached results of that table. Statements inside a transaction bypass the
// cache and the tables they touched are invalidated on commit.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/redis"
)

const keySeparator = ":"

// Store is the key/value store behind the cache. redis.Manager implements it;
// misses are reported with redis.ErrKeyNotFound.
type Store interface {
	GetValue(ctx context.Context, key string, target any) error
	SetValue(ctx context.Context, key string, value any) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

// Option configures an Executor
type Option func(*Executor)

// WithConnection isolates the keys of one connection from other connections
// sharing the store.
func WithConnection(name string) Option {
	return func(e *Executor) { e.conn = name }
}

// WithPrefix sets the namespace of every cache key
func WithPrefix(prefix string) Option {
	return func(e *Executor) { e.prefix = prefix }
}

// WithLogger sets the logger for store failures
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Executor is a db.Adapter caching the Select results of the adapter it wraps.
// Store failures are logged and never fail a statement.
type Executor struct {
	next   db.Adapter
	store  Store
	prefix string
	conn   string
	logger *slog.Logger
}

// New wraps next. The returned Executor never opens transactions; use Wrap
// to keep the transaction capability of next.
func New(next db.Adapter, store Store, opts ...Option) *Executor {
	e := &Executor{
		next:   next,
		store:  store,
		prefix: redis.DefaultKeyPrefix,
		conn:   db.DefaultConnection,
		logger: slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wrap wraps next and returns an adapter that is db.Transactional exactly
// when next is.
func Wrap(next db.Adapter, store Store, opts ...Option) db.Adapter {
	e := New(next, store, opts...)
	if tr, ok := next.(db.Transactional); ok {
		return &TxExecutor{Executor: e, tr: tr}
	}
	return e
}

// Key returns the cache key of a select
func (e *Executor) Key(table string, where *db.ConditionGroup) (string, bool) {
	query, args := db.NewBuilder(table).WhereGroup(where).BuildSelect()
	packed, err := msgpack.Marshal(args)
	if err != nil {
		// arguments msgpack cannot encode are not cached
		return "", false
	}
	h := xxhash.New()
	h.WriteString(query)
	h.WriteString(keySeparator)
	h.Write(packed)
	return fmt.Sprintf("%s:%016x", e.tablePrefix(table)+"select", h.Sum64()), true
}

func (e *Executor) tablePrefix(table string) string {
	return e.prefix + keySeparator + e.conn + keySeparator + table + keySeparator
}

// Select returns cached rows when present, otherwise reads and caches them
func (e *Executor) Select(ctx context.Context, table string, where *db.ConditionGroup) ([]map[string]any, error) {
	key, ok := e.Key(table, where)
	if !ok {
		return e.next.Select(ctx, table, where)
	}

	var rows []map[string]any
	err := e.store.GetValue(ctx, key, &rows)
	if err == nil {
		return rows, nil
	}
	if !redis.IsSilent(err) {
		e.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
	}

	rows, err = e.next.Select(ctx, table, where)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	if err := e.store.SetValue(ctx, key, rows); err != nil && !redis.IsCacheDisabled(err) {
		e.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
	return rows, nil
}

// Insert writes through and invalidates the table
func (e *Executor) Insert(ctx context.Context, table, keyColumn string, values map[string]any) (any, error) {
	id, err := e.next.Insert(ctx, table, keyColumn, values)
	if err != nil {
		return nil, err
	}
	e.Invalidate(ctx, table)
	return id, nil
}

// Update writes through and invalidates the table
func (e *Executor) Update(ctx context.Context, table string, where *db.ConditionGroup, values map[string]any) (int64, error) {
	n, err := e.next.Update(ctx, table, where, values)
	if err != nil {
		return 0, err
	}
	e.Invalidate(ctx, table)
	return n, nil
}

// Delete writes through and invalidates the table
func (e *Executor) Delete(ctx context.Context, table string, where *db.ConditionGroup) (int64, error) {
	n, err := e.next.Delete(ctx, table, where)
	if err != nil {
		return 0, err
	}
	e.Invalidate(ctx, table)
	return n, nil
}

// Invalidate drops every cached result of the given tables
func (e *Executor) Invalidate(ctx context.Context, tables ...string) {
	for _, table := range tables {
		pattern := e.tablePrefix(table) + "*"
		if err := e.store.InvalidatePattern(ctx, pattern); err != nil && !redis.IsCacheDisabled(err) {
			e.logger.WarnContext(ctx, "cache invalidation failed", "pattern", pattern, "error", err)
		}
	}
}

// TxExecutor is an Executor over a transactional adapter
type TxExecutor struct {
	*Executor
	tr db.Transactional
}

// Begin opens a transaction on the wrapped adapter. Statements of the
// transaction go straight to the store.
func (t *TxExecutor) Begin(ctx context.Context) (db.Tx, error) {
	tx, err := t.tr.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &cacheTx{Tx: tx, owner: t.Executor, ctx: ctx, touched: make(map[string]bool)}, nil
}

// cacheTx records the tables written inside a transaction
type cacheTx struct {
	db.Tx
	owner *Executor
	ctx   context.Context

	mu      sync.Mutex
	touched map[string]bool
}

func (t *cacheTx) touch(table string) {
	t.mu.Lock()
	t.touched[table] = true
	t.mu.Unlock()
}

func (t *cacheTx) Insert(ctx context.Context, table, keyColumn string, values map[string]any) (any, error) {
	t.touch(table)
	return t.Tx.Insert(ctx, table, keyColumn, values)
}

func (t *cacheTx) Update(ctx context.Context, table string, where *db.ConditionGroup, values map[string]any) (int64, error) {
	t.touch(table)
	return t.Tx.Update(ctx, table, where, values)
}

func (t *cacheTx) Delete(ctx context.Context, table string, where *db.ConditionGroup) (int64, error) {
	t.touch(table)
	return t.Tx.Delete(ctx, table, where)
}

// Commit commits and then invalidates every table written by the transaction
func (t *cacheTx) Commit() error {
	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.mu.Lock()
	tables := make([]string, 0, len(t.touched))
	for table := range t.touched {
		tables = append(tables, table)
	}
	t.mu.Unlock()
	sort.Strings(tables)
	t.owner.Invalidate(context.WithoutCancel(t.ctx), tables...)
	return nil
}
