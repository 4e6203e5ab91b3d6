// Package entity provides the plain key/value container behind every mapped
// domain object. Domain types embed *Entity and expose typed accessors:
//
//	type User struct{ *entity.Entity }
//
//	func (u User) Email() string        { return u.String("email") }
//	func (u User) SetEmail(v string)    { u.Set("email", v) }
//	func (u User) Role(ctx context.Context) (*entity.Entity, error) { return u.Related(ctx, "role") }
package entity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ammar0144/mapper4go/pkg/mapping"
)

type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent marks an attribute whose column was not present in the hydrated row.
// It is distinct from nil, which stands for SQL NULL.
var Absent any = absent{}

// IsAbsent reports whether v is the Absent sentinel
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// Resolver loads relation values on first access. The unit of work that
// manages an entity binds itself as the resolver.
type Resolver interface {
	ResolveRelation(ctx context.Context, e *Entity, relation string) (any, error)
}

// Entity holds the attribute values and relation slots of one domain object
type Entity struct {
	m         *mapping.EntityMap
	attrs     map[string]any
	relations map[string]*slot
	resolver  Resolver
}

// New creates an empty, unpersisted entity of a mapped type
func New(m *mapping.EntityMap) *Entity {
	return &Entity{
		m:         m,
		attrs:     make(map[string]any),
		relations: make(map[string]*slot),
	}
}

// Base returns e. Domain types embedding *Entity inherit it, which lets
// generic code reach the entity behind them.
func (e *Entity) Base() *Entity { return e }

// Map returns the entity map of the entity's type
func (e *Entity) Map() *mapping.EntityMap { return e.m }

// Type returns the entity type name
func (e *Entity) Type() string { return e.m.Name() }

// Bind attaches the resolver used for lazy relations
func (e *Entity) Bind(r Resolver) { e.resolver = r }

// Get returns an attribute value, or Absent when it was never set
func (e *Entity) Get(attribute string) any {
	v, ok := e.attrs[attribute]
	if !ok {
		return Absent
	}
	return v
}

// Has reports whether the attribute holds a value other than Absent
func (e *Entity) Has(attribute string) bool {
	v, ok := e.attrs[attribute]
	return ok && !IsAbsent(v)
}

// Set assigns an attribute value
func (e *Entity) Set(attribute string, value any) {
	e.attrs[attribute] = value
}

// Unset makes an attribute Absent again
func (e *Entity) Unset(attribute string) {
	delete(e.attrs, attribute)
}

// Attributes returns a shallow copy of the attribute values
func (e *Entity) Attributes() map[string]any {
	out := make(map[string]any, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}

// AttributeNames returns the names of the set attributes in sorted order
func (e *Entity) AttributeNames() []string {
	names := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Key returns the primary key value, or nil while the entity is unpersisted
func (e *Entity) Key() any {
	v, ok := e.attrs[e.m.KeyName()]
	if !ok || IsAbsent(v) {
		return nil
	}
	return v
}

// HasKey reports whether a primary key value is present
func (e *Entity) HasKey() bool { return e.Key() != nil }

// SetKey assigns the primary key
func (e *Entity) SetKey(v any) { e.Set(e.m.KeyName(), v) }

// String returns a text attribute, "" when unset or of another type
func (e *Entity) String(attribute string) string {
	s, _ := e.Get(attribute).(string)
	return s
}

// Int64 returns an integer attribute, 0 when unset or of another type
func (e *Entity) Int64(attribute string) int64 {
	switch n := e.Get(attribute).(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	}
	return 0
}

// Float64 returns a numeric attribute, 0 when unset or of another type
func (e *Entity) Float64(attribute string) float64 {
	f, _ := e.Get(attribute).(float64)
	return f
}

// Bool returns a boolean attribute
func (e *Entity) Bool(attribute string) bool {
	b, _ := e.Get(attribute).(bool)
	return b
}

// Time returns a time attribute, the zero time when unset
func (e *Entity) Time(attribute string) time.Time {
	t, _ := e.Get(attribute).(time.Time)
	return t
}

// GoString identifies the entity in debug output
func (e *Entity) GoString() string {
	return fmt.Sprintf("%s(%v)", e.Type(), e.Key())
}
