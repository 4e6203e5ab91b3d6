package orm

import (
	"context"
	"fmt"
	"sort"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/events"
	"github.com/ammar0144/mapper4go/pkg/hydrate"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// store persists e and the relations it has resolved. It must run inside atomic.
func (u *UnitOfWork) store(ctx context.Context, e *entity.Entity) error {
	if u.storing[e] {
		return nil
	}
	u.storing[e] = true
	defer delete(u.storing, e)

	if _, err := u.mapperFor(e); err != nil {
		return err
	}
	e.Bind(u)
	m := e.Map()

	// parents first so their keys can be copied into the foreign keys
	for _, rel := range m.Relations() {
		if rel.Kind != mapping.BelongsTo {
			continue
		}
		v, state := e.Loaded(rel.Name)
		switch state {
		case entity.Resolved:
			parent, _ := v.(*entity.Entity)
			if parent == nil {
				continue
			}
			if err := u.store(ctx, parent); err != nil {
				return err
			}
			if parent.HasKey() {
				e.Set(rel.ForeignKey, parent.Key())
			}
		case entity.Nulled:
			e.Set(rel.ForeignKey, nil)
		}
	}

	var (
		written bool
		err     error
	)
	if u.persisted(e) {
		written, err = u.update(ctx, e)
	} else {
		written, err = u.insert(ctx, e)
	}
	if err != nil || !written {
		return err
	}

	for _, rel := range m.Relations() {
		switch rel.Kind {
		case mapping.HasOne, mapping.HasMany:
			if err := u.storeChildren(ctx, e, rel); err != nil {
				return err
			}
		case mapping.BelongsToMany:
			if err := u.storeAttached(ctx, e, rel); err != nil {
				return err
			}
		}
	}
	return nil
}

// persisted reports whether e has a row: it is managed, was inserted
// earlier in the running operation, or carries a key only the store can
// have generated. UUID and manual keys are assigned before the first insert,
// so for them only the unit of work's own state counts.
func (u *UnitOfWork) persisted(e *entity.Entity) bool {
	if _, ok := u.written[e]; ok {
		return true
	}
	if u.identity.IsManaged(e) {
		return true
	}
	return e.HasKey() && e.Map().KeyStrategy() == mapping.KeyAutoIncrement
}

// detached reports whether e is persisted without a snapshot in this unit of
// work. Every attribute of a detached entity is written on update.
func (u *UnitOfWork) detached(e *entity.Entity) bool {
	if _, ok := u.written[e]; ok {
		return false
	}
	return !u.identity.IsManaged(e)
}

func (u *UnitOfWork) diff(e *entity.Entity) ([]string, error) {
	prev, ok := u.written[e]
	if !ok {
		return u.identity.Diff(e)
	}
	current, err := hydrate.Snapshot(e)
	if err != nil {
		return nil, err
	}
	var dirty []string
	for attr, v := range current {
		if old, ok := prev[attr]; !ok || !hydrate.Equal(old, v) {
			dirty = append(dirty, attr)
		}
	}
	sort.Strings(dirty)
	return dirty, nil
}

// insert writes a new row. It returns false when a handler vetoed the write.
func (u *UnitOfWork) insert(ctx context.Context, e *entity.Entity) (bool, error) {
	m := e.Map()
	hadKey := e.HasKey()

	if ok, err := u.fire(ctx, events.Storing, e, nil); !ok || err != nil {
		return false, err
	}
	if ok, err := u.fire(ctx, events.Creating, e, nil); !ok || err != nil {
		return false, err
	}
	if !e.HasKey() && m.KeyStrategy() != mapping.KeyAutoIncrement {
		return false, fmt.Errorf("insert %s: %s key strategy needs a key before insert", m.Name(), m.KeyStrategy())
	}

	row, err := hydrate.Dehydrate(e)
	if err != nil {
		return false, err
	}
	keyCol := m.KeyColumn()
	if v, ok := row[keyCol]; ok && v == nil {
		delete(row, keyCol)
	}
	generated, err := u.Executor().Insert(ctx, m.Table(), keyCol, row)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", m.Name(), err)
	}

	if !hadKey {
		if !e.HasKey() {
			if generated == nil {
				return false, fmt.Errorf("insert %s: store returned no generated key", m.Name())
			}
			key := generated
			if c, ok := m.Column(m.KeyName()); ok {
				if key, err = c.Caster.FromStore(generated); err != nil {
					return false, &hydrate.HydrationError{TypeName: m.Name(), Attribute: m.KeyName(), Cause: err}
				}
			}
			e.SetKey(key)
		}
		u.onRollback(func() { e.Unset(m.KeyName()) })
	}

	snap, err := hydrate.Snapshot(e)
	if err != nil {
		return false, err
	}
	u.written[e] = snap
	u.afterCommit(func() error { return u.identity.CommitAs(e, snap) })

	if _, err := u.fire(ctx, events.Created, e, nil); err != nil {
		return false, err
	}
	if _, err := u.fire(ctx, events.Stored, e, nil); err != nil {
		return false, err
	}
	return true, nil
}

// update writes the changed columns of a persisted entity. An unchanged
// entity is not written and fires no event.
func (u *UnitOfWork) update(ctx context.Context, e *entity.Entity) (bool, error) {
	m := e.Map()
	dirty, err := u.changes(e)
	if err != nil {
		return false, err
	}
	if len(dirty) == 0 {
		return true, nil
	}

	if ok, err := u.fire(ctx, events.Storing, e, dirty); !ok || err != nil {
		return false, err
	}
	if ok, err := u.fire(ctx, events.Updating, e, dirty); !ok || err != nil {
		return false, err
	}
	// handlers may have changed more attributes
	if dirty, err = u.changes(e); err != nil {
		return false, err
	}
	for _, attr := range dirty {
		if attr == m.KeyName() {
			return false, fmt.Errorf("update %s: the key of a stored entity cannot change", m.Name())
		}
	}

	snap, err := hydrate.Snapshot(e)
	if err != nil {
		return false, err
	}
	if len(dirty) > 0 {
		key, err := storedKey(m, e.Key())
		if err != nil {
			return false, err
		}
		values := hydrate.Columns(m, snap, dirty)
		if _, err := u.Executor().Update(ctx, m.Table(), db.Eq(m.KeyColumn(), key), values); err != nil {
			return false, fmt.Errorf("update %s %v: %w", m.Name(), e.Key(), err)
		}
	}
	u.written[e] = snap
	u.afterCommit(func() error { return u.identity.CommitAs(e, snap) })

	if _, err := u.fire(ctx, events.Updated, e, dirty); err != nil {
		return false, err
	}
	if _, err := u.fire(ctx, events.Stored, e, dirty); err != nil {
		return false, err
	}
	return true, nil
}

// changes is diff without the key of a detached entity, whose row is
// addressed by that key
func (u *UnitOfWork) changes(e *entity.Entity) ([]string, error) {
	dirty, err := u.diff(e)
	if err != nil || !u.detached(e) {
		return dirty, err
	}
	return withoutAttribute(dirty, e.Map().KeyName()), nil
}

func withoutAttribute(attrs []string, name string) []string {
	out := attrs[:0:0]
	for _, a := range attrs {
		if a != name {
			out = append(out, a)
		}
	}
	return out
}

func (u *UnitOfWork) storeChildren(ctx context.Context, e *entity.Entity, rel mapping.RelationSpec) error {
	v, state := e.Loaded(rel.Name)
	if state != entity.Resolved {
		return nil
	}
	for _, child := range entities(v) {
		child.Set(rel.ForeignKey, e.Key())
		if err := u.store(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) storeAttached(ctx context.Context, e *entity.Entity, rel mapping.RelationSpec) error {
	v, state := e.Loaded(rel.Name)
	switch state {
	case entity.Resolved:
		related := entities(v)
		for _, r := range related {
			if err := u.store(ctx, r); err != nil {
				return err
			}
		}
		return u.syncPivot(ctx, e, rel, related)
	case entity.Nulled:
		return u.syncPivot(ctx, e, rel, nil)
	}
	return nil
}

// delete removes e's pivot rows and its row. It must run inside atomic.
func (u *UnitOfWork) delete(ctx context.Context, e *entity.Entity) error {
	if u.deleting[e] {
		return nil
	}
	u.deleting[e] = true
	defer delete(u.deleting, e)

	if _, err := u.mapperFor(e); err != nil {
		return err
	}
	m := e.Map()
	if !e.HasKey() {
		return fmt.Errorf("delete %s: entity has no key", m.Name())
	}
	e.Bind(u)

	if ok, err := u.fire(ctx, events.Deleting, e, nil); !ok || err != nil {
		return err
	}

	key := e.Key()
	stored, err := storedKey(m, key)
	if err != nil {
		return err
	}
	for _, rel := range m.Relations() {
		if rel.Kind != mapping.BelongsToMany {
			continue
		}
		if _, err := u.Executor().Delete(ctx, rel.Pivot, db.Eq(rel.PivotForeignKey, stored)); err != nil {
			return fmt.Errorf("detach %s.%s: %w", m.Name(), rel.Name, err)
		}
	}
	if _, err := u.Executor().Delete(ctx, m.Table(), db.Eq(m.KeyColumn(), stored)); err != nil {
		return fmt.Errorf("delete %s %v: %w", m.Name(), key, err)
	}
	delete(u.written, e)
	u.afterCommit(func() error {
		u.identity.Forget(m.Name(), key)
		return nil
	})

	_, err = u.fire(ctx, events.Deleted, e, nil)
	return err
}

// entities flattens a relation slot value
func entities(v any) []*entity.Entity {
	switch val := v.(type) {
	case *entity.Entity:
		if val == nil {
			return nil
		}
		return []*entity.Entity{val}
	case []*entity.Entity:
		out := make([]*entity.Entity, 0, len(val))
		for _, e := range val {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	}
	return nil
}
