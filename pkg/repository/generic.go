package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
	"github.com/ammar0144/mapper4go/pkg/orm"
)

var (
	// ErrAlreadyStored is returned by Create for entities that already have a row
	ErrAlreadyStored = errors.New("repository: entity is already stored")

	// ErrNotStored is returned by Update for entities that were never stored or loaded
	ErrNotStored = errors.New("repository: entity is not stored")

	// ErrNilRecord is returned for nil records
	ErrNilRecord = errors.New("repository: nil record")
)

// GenericRepository provides typed CRUD operations over the mapper of one type
type GenericRepository[T Record] struct {
	mapper *orm.Mapper
	wrap   WrapFunc[T]
}

// NewGenericRepository creates a repository over a mapper. wrap builds the
// domain value around every entity the repository returns.
func NewGenericRepository[T Record](mapper *orm.Mapper, wrap WrapFunc[T]) *GenericRepository[T] {
	return &GenericRepository[T]{mapper: mapper, wrap: wrap}
}

// For creates a repository for a type name within a unit of work
func For[T Record](u *orm.UnitOfWork, typeName string, wrap WrapFunc[T]) (*GenericRepository[T], error) {
	mp, err := u.Mapper(typeName)
	if err != nil {
		return nil, err
	}
	return NewGenericRepository(mp, wrap), nil
}

// Mapper returns the underlying mapper
func (r *GenericRepository[T]) Mapper() *orm.Mapper {
	return r.mapper
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// New returns an empty record bound to the unit of work
func (r *GenericRepository[T]) New() T {
	return r.wrap(r.mapper.New())
}

// FindByID finds a record by key. Missing keys return an orm.EntityNotFoundError.
func (r *GenericRepository[T]) FindByID(ctx context.Context, id any) (T, error) {
	var zero T
	if id == nil {
		return zero, fmt.Errorf("id cannot be nil")
	}
	e, err := r.mapper.Find(ctx, id)
	if err != nil {
		return zero, err
	}
	return r.wrap(e), nil
}

// FindAll returns every record of the type
func (r *GenericRepository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.FindWhere(ctx, nil)
}

// FindWhere returns the records matching a condition over column names
func (r *GenericRepository[T]) FindWhere(ctx context.Context, where *db.ConditionGroup) ([]T, error) {
	list, err := r.mapper.Where(ctx, where)
	if err != nil {
		return nil, err
	}
	return r.wrapAll(list), nil
}

// First returns the first record matching a condition
func (r *GenericRepository[T]) First(ctx context.Context, where *db.ConditionGroup) (T, error) {
	var zero T
	e, err := r.mapper.First(ctx, where)
	if err != nil {
		return zero, err
	}
	return r.wrap(e), nil
}

// Count returns the number of records matching a condition
func (r *GenericRepository[T]) Count(ctx context.Context, where *db.ConditionGroup) (int, error) {
	return r.mapper.Count(ctx, where)
}

// Exists reports whether a record with the key exists
func (r *GenericRepository[T]) Exists(ctx context.Context, id any) (bool, error) {
	if id == nil {
		return false, nil
	}
	_, err := r.mapper.Find(ctx, id)
	if orm.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ============================================================================
// WRITE OPERATIONS
// ============================================================================

// Create stores a new record
func (r *GenericRepository[T]) Create(ctx context.Context, record T) error {
	e, err := base(record)
	if err != nil {
		return err
	}
	if r.stored(e) {
		return fmt.Errorf("create %s: %w", e.Type(), ErrAlreadyStored)
	}
	return r.mapper.Store(ctx, e)
}

// Update stores the changes of a loaded or created record
func (r *GenericRepository[T]) Update(ctx context.Context, record T) error {
	e, err := base(record)
	if err != nil {
		return err
	}
	if !r.stored(e) {
		return fmt.Errorf("update %s: %w", e.Type(), ErrNotStored)
	}
	return r.mapper.Store(ctx, e)
}

// Delete removes a record
func (r *GenericRepository[T]) Delete(ctx context.Context, record T) error {
	e, err := base(record)
	if err != nil {
		return err
	}
	return r.mapper.Delete(ctx, e)
}

// CreateBatch creates several records in one transaction
func (r *GenericRepository[T]) CreateBatch(ctx context.Context, records []T) error {
	if len(records) == 0 {
		return nil
	}
	return r.mapper.UnitOfWork().Transaction(ctx, func(ctx context.Context) error {
		for i, record := range records {
			if err := r.Create(ctx, record); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		return nil
	})
}

// UpdateBatch updates several records in one transaction
func (r *GenericRepository[T]) UpdateBatch(ctx context.Context, records []T) error {
	if len(records) == 0 {
		return nil
	}
	return r.mapper.UnitOfWork().Transaction(ctx, func(ctx context.Context) error {
		for i, record := range records {
			if err := r.Update(ctx, record); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		return nil
	})
}

func (r *GenericRepository[T]) wrapAll(list []*entity.Entity) []T {
	out := make([]T, len(list))
	for i, e := range list {
		out[i] = r.wrap(e)
	}
	return out
}

// stored reports whether e has a row: the unit of work manages it, or it
// carries a generated key from an earlier unit of work
func (r *GenericRepository[T]) stored(e *entity.Entity) bool {
	if r.mapper.UnitOfWork().Identity().IsManaged(e) {
		return true
	}
	return e.HasKey() && e.Map().KeyStrategy() == mapping.KeyAutoIncrement
}

// base returns the entity behind a record, rejecting nil pointers before
// the promoted Base call could dereference them
func base[T Record](record T) (*entity.Entity, error) {
	v := reflect.ValueOf(record)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return nil, ErrNilRecord
	}
	e := record.Base()
	if e == nil {
		return nil, ErrNilRecord
	}
	return e, nil
}

var _ Repository[*entity.Entity] = (*GenericRepository[*entity.Entity])(nil)
