// Package identity keeps one canonical entity instance per (type, key) within
// a unit of work and tracks the last persisted snapshot of each instance.
//
// A Map is not safe for concurrent use; it belongs to a single unit of work.
package identity

import (
	"fmt"
	"sort"

	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/hydrate"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// SnapshotFunc produces the stored-form attribute values of an entity
type SnapshotFunc func(e *entity.Entity) (map[string]any, error)

// Loader produces a freshly hydrated entity when the key is not yet managed
type Loader func() (*entity.Entity, error)

type entry struct {
	entity   *entity.Entity
	snapshot map[string]any
}

// Map is the identity map and state tracker of a unit of work
type Map struct {
	entries  map[string]*entry
	byEntity map[*entity.Entity]string
	snapshot SnapshotFunc
}

// New creates an empty identity map. A nil snapshot function uses hydrate.Snapshot.
func New(snapshot SnapshotFunc) *Map {
	if snapshot == nil {
		snapshot = hydrate.Snapshot
	}
	return &Map{
		entries:  make(map[string]*entry),
		byEntity: make(map[*entity.Entity]string),
		snapshot: snapshot,
	}
}

func keyOf(typeName string, key any) string {
	return fmt.Sprintf("%s#%v", typeName, key)
}

// GetOrLoad returns the managed instance for (type, key), calling load only
// when none exists. The loaded entity becomes canonical and is snapshotted.
func (im *Map) GetOrLoad(m *mapping.EntityMap, key any, load Loader) (*entity.Entity, error) {
	k := keyOf(m.Name(), key)
	if en, ok := im.entries[k]; ok {
		return en.entity, nil
	}
	e, err := load()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	if err := im.put(k, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Track returns the canonical instance for a hydrated entity. When the key is
// already managed the existing instance wins and e is discarded.
func (im *Map) Track(e *entity.Entity) (*entity.Entity, error) {
	if !e.HasKey() {
		return nil, fmt.Errorf("track %s: entity has no key", e.Type())
	}
	k := keyOf(e.Type(), e.Key())
	if en, ok := im.entries[k]; ok {
		return en.entity, nil
	}
	if err := im.put(k, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (im *Map) put(k string, e *entity.Entity) error {
	snap, err := im.snapshot(e)
	if err != nil {
		return err
	}
	im.entries[k] = &entry{entity: e, snapshot: snap}
	im.byEntity[e] = k
	return nil
}

// Lookup returns the managed instance for (type, key), if any
func (im *Map) Lookup(typeName string, key any) (*entity.Entity, bool) {
	en, ok := im.entries[keyOf(typeName, key)]
	if !ok {
		return nil, false
	}
	return en.entity, true
}

// IsManaged reports whether e is the canonical instance of a managed key
func (im *Map) IsManaged(e *entity.Entity) bool {
	_, ok := im.byEntity[e]
	return ok
}

// Diff returns, in sorted order, the attributes whose current stored form
// differs from the last snapshot. An unmanaged entity reports every present
// attribute.
func (im *Map) Diff(e *entity.Entity) ([]string, error) {
	current, err := im.snapshot(e)
	if err != nil {
		return nil, err
	}
	var dirty []string
	k, managed := im.byEntity[e]
	if !managed {
		for attr := range current {
			dirty = append(dirty, attr)
		}
		sort.Strings(dirty)
		return dirty, nil
	}
	prev := im.entries[k].snapshot
	for attr, v := range current {
		old, ok := prev[attr]
		if !ok || !hydrate.Equal(old, v) {
			dirty = append(dirty, attr)
		}
	}
	sort.Strings(dirty)
	return dirty, nil
}

// Commit records the current state of e as persisted and makes it the
// canonical instance for its key.
func (im *Map) Commit(e *entity.Entity) error {
	snap, err := im.snapshot(e)
	if err != nil {
		return err
	}
	return im.CommitAs(e, snap)
}

// CommitAs is Commit with a snapshot taken earlier, at the time of the write
func (im *Map) CommitAs(e *entity.Entity, snap map[string]any) error {
	if !e.HasKey() {
		return fmt.Errorf("commit %s: entity has no key", e.Type())
	}
	k := keyOf(e.Type(), e.Key())
	if old, ok := im.byEntity[e]; ok && old != k {
		delete(im.entries, old)
	}
	if en, ok := im.entries[k]; ok && en.entity != e {
		delete(im.byEntity, en.entity)
	}
	im.entries[k] = &entry{entity: e, snapshot: snap}
	im.byEntity[e] = k
	return nil
}

// Forget drops (type, key) from the map
func (im *Map) Forget(typeName string, key any) {
	k := keyOf(typeName, key)
	if en, ok := im.entries[k]; ok {
		delete(im.byEntity, en.entity)
		delete(im.entries, k)
	}
}

// Len returns the number of managed entities
func (im *Map) Len() int { return len(im.entries) }

// Reset forgets every managed entity
func (im *Map) Reset() {
	im.entries = make(map[string]*entry)
	im.byEntity = make(map[*entity.Entity]string)
}
