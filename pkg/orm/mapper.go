package orm

import (
	"context"
	"fmt"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/events"
	"github.com/ammar0144/mapper4go/pkg/hydrate"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// Mapper loads, stores and deletes the entities of one type within a unit of work
type Mapper struct {
	m       *mapping.EntityMap
	uow     *UnitOfWork
	trashed bool
}

// EntityMap returns the map of the mapper's type
func (mp *Mapper) EntityMap() *mapping.EntityMap { return mp.m }

// UnitOfWork returns the unit of work the mapper belongs to
func (mp *Mapper) UnitOfWork() *UnitOfWork { return mp.uow }

// On attaches a handler to an event of the mapper's type
func (mp *Mapper) On(event string, h events.Handler) error {
	return mp.uow.manager.bus.On(mp.m, event, h)
}

// WithTrashed returns a mapper whose queries include soft-deleted rows
func (mp *Mapper) WithTrashed() *Mapper {
	cp := *mp
	cp.trashed = true
	return &cp
}

// New returns an empty entity of the mapper's type bound to the unit of work
func (mp *Mapper) New() *entity.Entity {
	e := entity.New(mp.m)
	e.Bind(mp.uow)
	return e
}

// Find returns the entity with the given key. Within a unit of work every
// call for the same key returns the same instance and queries at most once.
func (mp *Mapper) Find(ctx context.Context, key any) (*entity.Entity, error) {
	if key == nil || entity.IsAbsent(key) {
		return nil, &EntityNotFoundError{Type: mp.m.Name(), Key: key}
	}
	stored, err := storedKey(mp.m, key)
	if err != nil {
		return nil, fmt.Errorf("find %s: key %v: %w", mp.m.Name(), key, err)
	}
	normalized, err := attributeKey(mp.m, stored)
	if err != nil {
		return nil, fmt.Errorf("find %s: key %v: %w", mp.m.Name(), key, err)
	}

	loaded := false
	e, err := mp.uow.identity.GetOrLoad(mp.m, normalized, func() (*entity.Entity, error) {
		rows, err := mp.uow.Executor().Select(ctx, mp.m.Table(), mp.scope(db.Eq(mp.m.KeyColumn(), stored)))
		if err != nil {
			return nil, fmt.Errorf("find %s %v: %w", mp.m.Name(), key, err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		e, err := hydrate.Hydrate(mp.m, rows[0])
		if err != nil {
			return nil, err
		}
		e.Bind(mp.uow)
		loaded = true
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	if e == nil || (!mp.trashed && mp.isTrashed(e)) {
		return nil, &EntityNotFoundError{Type: mp.m.Name(), Key: key}
	}
	if loaded {
		if _, err := mp.uow.fire(ctx, events.Retrieved, e, nil); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Where returns the entities whose rows match a condition tree over column
// names. A nil condition matches every row.
func (mp *Mapper) Where(ctx context.Context, cond *db.ConditionGroup) ([]*entity.Entity, error) {
	rows, err := mp.uow.Executor().Select(ctx, mp.m.Table(), mp.scope(cond))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", mp.m.Name(), err)
	}
	out := make([]*entity.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := mp.load(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// All returns every entity of the type
func (mp *Mapper) All(ctx context.Context) ([]*entity.Entity, error) {
	return mp.Where(ctx, nil)
}

// First returns the first entity matching a condition
func (mp *Mapper) First(ctx context.Context, cond *db.ConditionGroup) (*entity.Entity, error) {
	list, err := mp.Where(ctx, cond)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, &EntityNotFoundError{Type: mp.m.Name()}
	}
	return list[0], nil
}

// Exists reports whether any row matches a condition
func (mp *Mapper) Exists(ctx context.Context, cond *db.ConditionGroup) (bool, error) {
	rows, err := mp.uow.Executor().Select(ctx, mp.m.Table(), mp.scope(cond))
	if err != nil {
		return false, fmt.Errorf("select %s: %w", mp.m.Name(), err)
	}
	return len(rows) > 0, nil
}

// Count returns the number of rows matching a condition
func (mp *Mapper) Count(ctx context.Context, cond *db.ConditionGroup) (int, error) {
	rows, err := mp.uow.Executor().Select(ctx, mp.m.Table(), mp.scope(cond))
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", mp.m.Name(), err)
	}
	return len(rows), nil
}

// Store inserts or updates an entity together with its loaded relations
func (mp *Mapper) Store(ctx context.Context, e *entity.Entity) error {
	if err := mp.check(e); err != nil {
		return err
	}
	return mp.uow.atomic(ctx, func(ctx context.Context) error {
		return mp.uow.store(ctx, e)
	})
}

// Delete removes an entity and its pivot rows
func (mp *Mapper) Delete(ctx context.Context, e *entity.Entity) error {
	if err := mp.check(e); err != nil {
		return err
	}
	return mp.uow.atomic(ctx, func(ctx context.Context) error {
		return mp.uow.delete(ctx, e)
	})
}

func (mp *Mapper) check(e *entity.Entity) error {
	if e == nil {
		return fmt.Errorf("%s mapper: nil entity", mp.m.Name())
	}
	if e.Map() != mp.m {
		return &TypeMismatchError{Expected: mp.m.Name(), Actual: e.Type()}
	}
	return nil
}

// load hydrates a row and returns the canonical instance for its key
func (mp *Mapper) load(ctx context.Context, row map[string]any) (*entity.Entity, error) {
	e, err := hydrate.Hydrate(mp.m, row)
	if err != nil {
		return nil, err
	}
	canonical, err := mp.uow.identity.Track(e)
	if err != nil {
		return nil, err
	}
	if canonical != e {
		return canonical, nil
	}
	e.Bind(mp.uow)
	if _, err := mp.uow.fire(ctx, events.Retrieved, e, nil); err != nil {
		return nil, err
	}
	return e, nil
}

// scope hides soft-deleted rows unless the mapper includes them
func (mp *Mapper) scope(cond *db.ConditionGroup) *db.ConditionGroup {
	if mp.trashed || !mp.m.HasSoftDeletes() {
		return cond
	}
	return db.AllOf(cond, db.IsNullGroup(mp.m.ColumnFor(mp.m.DeletedAtAttribute())))
}

func (mp *Mapper) isTrashed(e *entity.Entity) bool {
	if !mp.m.HasSoftDeletes() {
		return false
	}
	v := e.Get(mp.m.DeletedAtAttribute())
	return v != nil && !entity.IsAbsent(v)
}
