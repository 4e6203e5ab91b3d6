package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/events"
	"github.com/ammar0144/mapper4go/pkg/identity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// UnitOfWork tracks the entities loaded during one logical request and
// synchronises their changes to one connection. It is not safe for
// concurrent use; discard it or call Reset between requests.
type UnitOfWork struct {
	manager  *Manager
	adapter  db.Adapter
	identity *identity.Map
	mappers  map[string]*Mapper

	// state of the running outermost operation
	tx        db.Tx
	depth     int
	storing   map[*entity.Entity]bool
	deleting  map[*entity.Entity]bool
	written   map[*entity.Entity]map[string]any
	onCommit  []func() error
	onFailure []func()
}

func newUnitOfWork(m *Manager, adapter db.Adapter) *UnitOfWork {
	return &UnitOfWork{
		manager:  m,
		adapter:  adapter,
		identity: identity.New(nil),
		mappers:  make(map[string]*Mapper),
	}
}

// Manager returns the owning manager
func (u *UnitOfWork) Manager() *Manager { return u.manager }

// Identity exposes the identity map, mostly for diagnostics and tests
func (u *UnitOfWork) Identity() *identity.Map { return u.identity }

// Executor returns the adapter statements currently go to: the open
// transaction during an operation, the connection otherwise.
func (u *UnitOfWork) Executor() db.Adapter {
	if u.tx != nil {
		return u.tx
	}
	return u.adapter
}

// EntityMap returns the map of a type, registering it by convention when allowed
func (u *UnitOfWork) EntityMap(typeName string) (*mapping.EntityMap, error) {
	return u.manager.registry.Lookup(typeName)
}

// Mapper returns the mapper of an entity type. The first mapper built for a
// type runs the bus's initialization callbacks.
func (u *UnitOfWork) Mapper(typeName string) (*Mapper, error) {
	if mp, ok := u.mappers[typeName]; ok {
		return mp, nil
	}
	m, err := u.manager.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	if err := u.manager.registry.Check(typeName); err != nil {
		return nil, err
	}
	mp := &Mapper{m: m, uow: u}
	if err := u.manager.bus.Initialize(mp); err != nil {
		return nil, err
	}
	u.mappers[typeName] = mp
	return mp, nil
}

func (u *UnitOfWork) mapperFor(e *entity.Entity) (*Mapper, error) {
	mp, err := u.Mapper(e.Type())
	if err != nil {
		return nil, err
	}
	if mp.m != e.Map() {
		return nil, fmt.Errorf("%s entity was built from a map that is not registered", e.Type())
	}
	return mp, nil
}

// Find loads an entity of a type by key
func (u *UnitOfWork) Find(ctx context.Context, typeName string, key any) (*entity.Entity, error) {
	mp, err := u.Mapper(typeName)
	if err != nil {
		return nil, err
	}
	return mp.Find(ctx, key)
}

// Store persists an entity of any registered type
func (u *UnitOfWork) Store(ctx context.Context, e *entity.Entity) error {
	if _, err := u.mapperFor(e); err != nil {
		return err
	}
	return u.atomic(ctx, func(ctx context.Context) error {
		return u.store(ctx, e)
	})
}

// Delete removes an entity of any registered type
func (u *UnitOfWork) Delete(ctx context.Context, e *entity.Entity) error {
	if _, err := u.mapperFor(e); err != nil {
		return err
	}
	return u.atomic(ctx, func(ctx context.Context) error {
		return u.delete(ctx, e)
	})
}

// Transaction runs fn as a single store operation: every Store and Delete
// called inside it shares one transaction and one commit.
func (u *UnitOfWork) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return u.atomic(ctx, fn)
}

// Reset forgets every managed entity
func (u *UnitOfWork) Reset() {
	u.identity.Reset()
}

// atomic runs fn as one operation. The outermost call opens a transaction
// according to the manager's TxMode; snapshot commits and identity removals
// queued during fn are applied only once the writes are durable.
func (u *UnitOfWork) atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if u.depth > 0 {
		u.depth++
		defer func() { u.depth-- }()
		return fn(ctx)
	}

	if err := u.begin(ctx); err != nil {
		return err
	}
	u.depth = 1
	u.storing = make(map[*entity.Entity]bool)
	u.deleting = make(map[*entity.Entity]bool)
	u.written = make(map[*entity.Entity]map[string]any)
	defer func() {
		u.depth = 0
		u.tx = nil
		u.storing, u.deleting, u.written = nil, nil, nil
		u.onCommit, u.onFailure = nil, nil
	}()

	err := fn(ctx)
	if u.tx != nil {
		if err != nil {
			if rbErr := u.tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			u.undo()
			return err
		}
		if cErr := u.tx.Commit(); cErr != nil {
			u.undo()
			return fmt.Errorf("commit: %w", cErr)
		}
	}

	// Without a transaction the writes that succeeded are persisted, so
	// their snapshots are committed even when a later write failed
	var commitErrs []error
	for _, f := range u.onCommit {
		if cErr := f(); cErr != nil {
			commitErrs = append(commitErrs, cErr)
		}
	}
	return errors.Join(append([]error{err}, commitErrs...)...)
}

func (u *UnitOfWork) begin(ctx context.Context) error {
	mode := u.manager.config.Transactions
	if mode == TxDisabled {
		return nil
	}
	tr, ok := u.adapter.(db.Transactional)
	if !ok {
		if mode == TxRequired {
			return ErrTransactionsUnsupported
		}
		return nil
	}
	tx, err := tr.Begin(ctx)
	if err != nil {
		return err
	}
	u.tx = tx
	return nil
}

func (u *UnitOfWork) undo() {
	for i := len(u.onFailure) - 1; i >= 0; i-- {
		u.onFailure[i]()
	}
}

// afterCommit queues f until the running operation is durable
func (u *UnitOfWork) afterCommit(f func() error) {
	u.onCommit = append(u.onCommit, f)
}

// onRollback queues f to revert in-memory state when the transaction rolls back
func (u *UnitOfWork) onRollback(f func()) {
	u.onFailure = append(u.onFailure, f)
}

// fire dispatches an event for an entity within this unit of work
func (u *UnitOfWork) fire(ctx context.Context, name string, e *entity.Entity, dirty []string) (bool, error) {
	ok, err := u.manager.bus.Fire(ctx, &events.Event{Name: name, Entity: e, Session: u, Dirty: dirty})
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", name, e.Type(), err)
	}
	return ok, nil
}

// storedKey converts a key attribute value into its stored form
func storedKey(m *mapping.EntityMap, key any) (any, error) {
	c, ok := m.Column(m.KeyName())
	if !ok {
		return key, nil
	}
	return c.Caster.ToStore(key)
}

// attributeKey normalises a caller's key through the key caster so that
// every spelling of one stored key names the same identity entry
func attributeKey(m *mapping.EntityMap, stored any) (any, error) {
	c, ok := m.Column(m.KeyName())
	if !ok {
		return stored, nil
	}
	return c.Caster.FromStore(stored)
}

// storedValue converts an attribute value into its stored form
func storedValue(m *mapping.EntityMap, attribute string, v any) (any, error) {
	if entity.IsAbsent(v) {
		return nil, nil
	}
	c, ok := m.Column(attribute)
	if !ok {
		return v, nil
	}
	return c.Caster.ToStore(v)
}

var _ events.Session = (*UnitOfWork)(nil)
var _ entity.Resolver = (*UnitOfWork)(nil)
