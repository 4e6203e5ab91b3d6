package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormAdapter executes statements through a gorm handle. Statements go
// through gorm's logger; QueryTimeout bounds each one.
type GormAdapter struct {
	db      *gorm.DB
	timeout time.Duration
	inTx    bool
}

// NewGormAdapter wraps a gorm handle
func NewGormAdapter(db *gorm.DB, timeout time.Duration) *GormAdapter {
	return &GormAdapter{db: db, timeout: timeout}
}

func (a *GormAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return ctx, func() {}
}

// Select implements Adapter
func (a *GormAdapter) Select(ctx context.Context, table string, where *ConditionGroup) ([]map[string]any, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	query, args := NewBuilder(table).WhereGroup(where).BuildSelect()
	rows, err := a.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return out, nil
}

// Insert implements Adapter. The generated key is read from LastInsertId
// unless the values already carry one.
func (a *GormAdapter) Insert(ctx context.Context, table, keyColumn string, values map[string]any) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("insert into %s: %w", table, ErrEmptyValues)
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	query, args := NewBuilder(table).BuildInsert(values)

	// gorm's Exec does not expose sql.Result, so run on its pool and trace through its logger
	begin := time.Now()
	res, err := a.db.Statement.ConnPool.ExecContext(ctx, query, args...)
	var affected int64 = -1
	if err == nil {
		affected, _ = res.RowsAffected()
	}
	a.db.Logger.Trace(ctx, begin, func() (string, int64) {
		return a.db.Dialector.Explain(query, args...), affected
	}, err)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}

	if v, ok := values[keyColumn]; ok && v != nil {
		return v, nil
	}
	return lastInsertID(res), nil
}

func lastInsertID(res sql.Result) any {
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		return nil
	}
	return id
}

// Update implements Adapter
func (a *GormAdapter) Update(ctx context.Context, table string, where *ConditionGroup, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("update %s: %w", table, ErrEmptyValues)
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	query, args := NewBuilder(table).WhereGroup(where).BuildUpdate(values)
	result := a.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, fmt.Errorf("update %s: %w", table, result.Error)
	}
	return result.RowsAffected, nil
}

// Delete implements Adapter
func (a *GormAdapter) Delete(ctx context.Context, table string, where *ConditionGroup) (int64, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	query, args := NewBuilder(table).WhereGroup(where).BuildDelete()
	result := a.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, result.Error)
	}
	return result.RowsAffected, nil
}

// Begin implements Transactional
func (a *GormAdapter) Begin(ctx context.Context) (Tx, error) {
	if a.inTx {
		return nil, fmt.Errorf("begin: transaction already open")
	}
	// The context stays attached to the transaction until it ends, so no timeout here
	tx := a.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &gormTx{GormAdapter: &GormAdapter{db: tx, timeout: a.timeout, inTx: true}}, nil
}

type gormTx struct {
	*GormAdapter
}

func (t *gormTx) Commit() error {
	return t.db.Commit().Error
}

func (t *gormTx) Rollback() error {
	return t.db.Rollback().Error
}
