package entity

import (
	"context"
	"fmt"
)

// SlotState is the resolution state of a relation slot
type SlotState uint8

const (
	// Unresolved: never accessed nor assigned; the first access loads it
	Unresolved SlotState = iota
	// Resolved: loaded or assigned; further access never queries
	Resolved
	// Nulled: explicitly cleared by the caller; storing detaches the relation
	Nulled
)

// String returns the state name
func (s SlotState) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Nulled:
		return "nulled"
	default:
		return "unresolved"
	}
}

type slot struct {
	state SlotState
	one   *Entity
	many  []*Entity
}

func (e *Entity) declared(name string) error {
	if _, ok := e.m.Relation(name); !ok {
		return fmt.Errorf("%s has no relation %q", e.Type(), name)
	}
	return nil
}

// RelationState returns the state of a relation slot
func (e *Entity) RelationState(name string) SlotState {
	if s, ok := e.relations[name]; ok {
		return s.state
	}
	return Unresolved
}

// Related returns a to-one relation, loading it on first access.
// A nil entity with a nil error means there is no related row.
func (e *Entity) Related(ctx context.Context, name string) (*Entity, error) {
	rel, ok := e.m.Relation(name)
	if !ok {
		return nil, e.declared(name)
	}
	if rel.IsToMany() {
		return nil, fmt.Errorf("%s.%s is a collection, use RelatedMany", e.Type(), name)
	}
	s, err := e.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.one, nil
}

// RelatedMany returns a to-many relation, loading it on first access
func (e *Entity) RelatedMany(ctx context.Context, name string) ([]*Entity, error) {
	rel, ok := e.m.Relation(name)
	if !ok {
		return nil, e.declared(name)
	}
	if !rel.IsToMany() {
		return nil, fmt.Errorf("%s.%s is a single entity, use Related", e.Type(), name)
	}
	s, err := e.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, len(s.many))
	copy(out, s.many)
	return out, nil
}

func (e *Entity) resolve(ctx context.Context, name string) (*slot, error) {
	if s, ok := e.relations[name]; ok && s.state != Unresolved {
		return s, nil
	}
	if e.resolver == nil {
		return nil, fmt.Errorf("%s.%s: entity is not managed by a unit of work", e.Type(), name)
	}
	v, err := e.resolver.ResolveRelation(ctx, e, name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s.%s: %w", e.Type(), name, err)
	}
	s := &slot{state: Resolved}
	switch val := v.(type) {
	case *Entity:
		s.one = val
	case []*Entity:
		s.many = val
	case nil:
	default:
		return nil, fmt.Errorf("resolve %s.%s: unexpected value %T", e.Type(), name, v)
	}
	e.relations[name] = s
	return s, nil
}

// SetRelated assigns a to-one relation. Assigning nil clears it explicitly.
func (e *Entity) SetRelated(name string, related *Entity) error {
	if err := e.declared(name); err != nil {
		return err
	}
	if related == nil {
		e.relations[name] = &slot{state: Nulled}
		return nil
	}
	e.relations[name] = &slot{state: Resolved, one: related}
	return nil
}

// SetRelatedMany assigns a to-many relation
func (e *Entity) SetRelatedMany(name string, related []*Entity) error {
	if err := e.declared(name); err != nil {
		return err
	}
	items := make([]*Entity, len(related))
	copy(items, related)
	e.relations[name] = &slot{state: Resolved, many: items}
	return nil
}

// ClearRelated marks a relation as explicitly empty
func (e *Entity) ClearRelated(name string) error {
	if err := e.declared(name); err != nil {
		return err
	}
	e.relations[name] = &slot{state: Nulled}
	return nil
}

// Loaded returns the current value of a relation slot without loading it.
// The value is a *Entity for to-one relations and []*Entity for collections.
func (e *Entity) Loaded(name string) (any, SlotState) {
	s, ok := e.relations[name]
	if !ok || s.state == Unresolved {
		return nil, Unresolved
	}
	if rel, ok := e.m.Relation(name); ok && rel.IsToMany() {
		out := make([]*Entity, len(s.many))
		copy(out, s.many)
		return out, s.state
	}
	if s.one == nil {
		return nil, s.state
	}
	return s.one, s.state
}

// Unload resets a relation slot so the next access queries again
func (e *Entity) Unload(name string) {
	delete(e.relations, name)
}
