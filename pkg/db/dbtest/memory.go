// Package dbtest provides an in-memory db.Adapter for tests of code built on
// top of the mapper. It understands the condition trees the mapper produces:
// equality, IN and NULL checks combined with AND/OR.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/ammar0144/mapper4go/pkg/db"
)

// Call records one adapter call
type Call struct {
	Op    string // select, insert, update, delete, begin, commit, rollback
	Table string
}

// Memory is an in-memory store of tables. Begin snapshots every table and
// Rollback restores the snapshot.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
	nextID map[string]int64
	calls  []Call

	// FailOn makes the next matching call fail with the given error
	failOp    string
	failTable string
	failErr   error
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]map[string]any),
		nextID: make(map[string]int64),
	}
}

// Seed appends rows to a table without recording a call
func (m *Memory) Seed(table string, rows ...map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.tables[table] = append(m.tables[table], copyRow(r))
		if id, ok := r["id"].(int64); ok && id > m.nextID[table] {
			m.nextID[table] = id
		}
	}
}

// Rows returns a copy of a table's rows
func (m *Memory) Rows(table string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Calls returns the recorded calls
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Count returns how many calls of an operation hit a table
func (m *Memory) Count(op, table string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Op == op && c.Table == table {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// FailNext makes the next call of op on table return err
func (m *Memory) FailNext(op, table string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOp, m.failTable, m.failErr = op, table, err
}

func (m *Memory) record(op, table string) error {
	m.calls = append(m.calls, Call{Op: op, Table: table})
	if m.failErr != nil && m.failOp == op && m.failTable == table {
		err := m.failErr
		m.failErr = nil
		return err
	}
	return nil
}

// Select implements db.Adapter
func (m *Memory) Select(ctx context.Context, table string, where *db.ConditionGroup) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("select", table); err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, r := range m.tables[table] {
		if Match(where, r) {
			out = append(out, copyRow(r))
		}
	}
	return out, nil
}

// Insert implements db.Adapter. Missing integer keys are auto-incremented.
func (m *Memory) Insert(ctx context.Context, table, keyColumn string, values map[string]any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("insert", table); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, db.ErrEmptyValues
	}
	row := copyRow(values)
	if keyColumn == "" {
		m.tables[table] = append(m.tables[table], row)
		return nil, nil
	}
	key, ok := row[keyColumn]
	if !ok || key == nil {
		m.nextID[table]++
		key = m.nextID[table]
		row[keyColumn] = key
	} else if id, isInt := key.(int64); isInt && id > m.nextID[table] {
		m.nextID[table] = id
	}
	for _, existing := range m.tables[table] {
		if looseEqual(existing[keyColumn], key) {
			return nil, fmt.Errorf("duplicate key %v in %s", key, table)
		}
	}
	m.tables[table] = append(m.tables[table], row)
	return key, nil
}

// Update implements db.Adapter
func (m *Memory) Update(ctx context.Context, table string, where *db.ConditionGroup, values map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("update", table); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range m.tables[table] {
		if Match(where, r) {
			for k, v := range values {
				r[k] = v
			}
			n++
		}
	}
	return n, nil
}

// Delete implements db.Adapter
func (m *Memory) Delete(ctx context.Context, table string, where *db.ConditionGroup) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete", table); err != nil {
		return 0, err
	}
	kept := m.tables[table][:0]
	var n int64
	for _, r := range m.tables[table] {
		if Match(where, r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.tables[table] = kept
	return n, nil
}

// Begin implements db.Transactional
func (m *Memory) Begin(ctx context.Context) (db.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("begin", ""); err != nil {
		return nil, err
	}
	return &memoryTx{Memory: m, snapshot: m.snapshot()}, nil
}

func (m *Memory) snapshot() *Memory {
	s := &Memory{
		tables: make(map[string][]map[string]any, len(m.tables)),
		nextID: make(map[string]int64, len(m.nextID)),
	}
	for t, rows := range m.tables {
		for _, r := range rows {
			s.tables[t] = append(s.tables[t], copyRow(r))
		}
	}
	for t, id := range m.nextID {
		s.nextID[t] = id
	}
	return s
}

var errTxDone = errors.New("dbtest: transaction already finished")

type memoryTx struct {
	*Memory
	snapshot *Memory
	done     bool
}

func (t *memoryTx) Begin(ctx context.Context) (db.Tx, error) {
	return nil, errors.New("dbtest: nested transaction")
}

func (t *memoryTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.done = true
	return t.record("commit", "")
}

func (t *memoryTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.done = true
	t.tables = t.snapshot.tables
	t.nextID = t.snapshot.nextID
	return t.record("rollback", "")
}

// Plain hides the Transactional capability of an adapter
type Plain struct {
	db.Adapter
}

func copyRow(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Match evaluates a condition tree against a row. Operators other than
// equality, IN and NULL checks never match.
func Match(group *db.ConditionGroup, row map[string]any) bool {
	if group.IsEmpty() {
		return true
	}
	or := group.Operator == db.Or
	for _, item := range group.Conditions {
		var ok bool
		switch cond := item.(type) {
		case db.Condition:
			ok = matchCondition(cond, row)
		case *db.ConditionGroup:
			ok = Match(cond, row)
		}
		if or && ok {
			return true
		}
		if !or && !ok {
			return false
		}
	}
	return !or
}

func matchCondition(cond db.Condition, row map[string]any) bool {
	v, present := row[cond.Field]
	switch cond.Operator {
	case db.IsNull:
		return !present || v == nil
	case db.IsNotNull:
		return present && v != nil
	case db.Equal:
		return present && looseEqual(v, cond.Value)
	case db.NotEqual:
		return present && v != nil && !looseEqual(v, cond.Value)
	case db.In, db.NotIn:
		found := false
		rv := reflect.ValueOf(cond.Value)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			for i := 0; i < rv.Len(); i++ {
				if looseEqual(v, rv.Index(i).Interface()) {
					found = true
					break
				}
			}
		}
		if cond.Operator == db.In {
			return present && found
		}
		return present && v != nil && !found
	}
	return false
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Tables returns the names of non-empty tables in sorted order
func (m *Memory) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for t, rows := range m.tables {
		if len(rows) > 0 {
			names = append(names, t)
		}
	}
	sort.Strings(names)
	return names
}
