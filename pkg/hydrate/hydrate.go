// Package hydrate converts raw rows into entities and entities back into
// flat column values. It has no side effects and never touches the identity map.
package hydrate

import (
	"bytes"
	"fmt"
	"reflect"
	"time"

	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// Row is a raw result row or a set of write values, keyed by column name
type Row = map[string]any

// HydrationError is returned when a row cannot be converted into an entity
// or an entity into write values.
type HydrationError struct {
	TypeName  string
	Attribute string
	Cause     error
}

// Error returns the error message for HydrationError.
func (e *HydrationError) Error() string {
	return fmt.Sprintf("hydrating %s.%s: %v", e.TypeName, e.Attribute, e.Cause)
}

// Unwrap returns the underlying cause of the HydrationError.
func (e *HydrationError) Unwrap() error {
	return e.Cause
}

// Hydrate builds an entity of type m from a row. Missing nullable columns
// become entity.Absent; a missing required column is an error.
func Hydrate(m *mapping.EntityMap, row Row) (*entity.Entity, error) {
	e := entity.New(m)

	for _, c := range m.Columns() {
		raw, ok := row[c.Name]
		if !ok {
			if c.Nullable {
				e.Set(c.Attribute, entity.Absent)
				continue
			}
			return nil, &HydrationError{TypeName: m.Name(), Attribute: c.Attribute, Cause: fmt.Errorf("column %q missing from row", c.Name)}
		}
		v, err := c.Caster.FromStore(raw)
		if err != nil {
			return nil, &HydrationError{TypeName: m.Name(), Attribute: c.Attribute, Cause: err}
		}
		e.Set(c.Attribute, v)
	}

	for _, emb := range m.Embeds() {
		v, err := composeEmbedded(emb, row)
		if err != nil {
			return nil, &HydrationError{TypeName: m.Name(), Attribute: emb.Attribute, Cause: err}
		}
		e.Set(emb.Attribute, v)
	}

	if m.IsDynamic() {
		for col, raw := range row {
			if _, mapped := m.AttributeFor(col); mapped {
				continue
			}
			if b, ok := raw.([]byte); ok {
				raw = append([]byte(nil), b...)
			}
			e.Set(col, raw)
		}
	}

	return e, nil
}

func composeEmbedded(emb mapping.Embedded, row Row) (any, error) {
	fields := make(map[string]any, len(emb.Columns))
	present, allNull := false, true
	for _, c := range emb.Columns {
		raw, ok := row[c.Name]
		if !ok {
			continue
		}
		present = true
		v, err := c.Caster.FromStore(raw)
		if err != nil {
			return nil, err
		}
		if v != nil {
			allNull = false
		}
		fields[c.Attribute] = v
	}
	switch {
	case !present:
		return entity.Absent, nil
	case allNull:
		return nil, nil
	}
	return emb.Codec.Compose(fields)
}

// Dehydrate returns the flat column values of an entity, suitable for an
// insert or update. Relation slots and Absent attributes are never included.
func Dehydrate(e *entity.Entity) (Row, error) {
	snap, err := Snapshot(e)
	if err != nil {
		return nil, err
	}
	m := e.Map()
	row := make(Row, len(snap))
	for attr, v := range snap {
		expandAttribute(m, attr, v, row)
	}
	return row, nil
}

// Columns expands the given attributes of a snapshot into column values
func Columns(m *mapping.EntityMap, snap map[string]any, attributes []string) Row {
	row := make(Row, len(attributes))
	for _, attr := range attributes {
		v, ok := snap[attr]
		if !ok {
			continue
		}
		expandAttribute(m, attr, v, row)
	}
	return row
}

func expandAttribute(m *mapping.EntityMap, attr string, v any, row Row) {
	for _, emb := range m.Embeds() {
		if emb.Attribute != attr {
			continue
		}
		fields, _ := v.(map[string]any)
		for _, c := range emb.Columns {
			row[c.Name] = fields[c.Attribute]
		}
		return
	}
	row[m.ColumnFor(attr)] = v
}

// Snapshot returns every present attribute of an entity converted to its
// stored form. Embedded value objects are kept as a map of their column values.
func Snapshot(e *entity.Entity) (map[string]any, error) {
	m := e.Map()
	snap := make(map[string]any)

	for _, c := range m.Columns() {
		v := e.Get(c.Attribute)
		if entity.IsAbsent(v) {
			continue
		}
		stored, err := c.Caster.ToStore(v)
		if err != nil {
			return nil, &HydrationError{TypeName: m.Name(), Attribute: c.Attribute, Cause: err}
		}
		snap[c.Attribute] = copyBytes(stored)
	}

	for _, emb := range m.Embeds() {
		v := e.Get(emb.Attribute)
		if entity.IsAbsent(v) {
			continue
		}
		cols := make(map[string]any, len(emb.Columns))
		if v != nil {
			fields, err := emb.Codec.Decompose(v)
			if err != nil {
				return nil, &HydrationError{TypeName: m.Name(), Attribute: emb.Attribute, Cause: err}
			}
			for _, c := range emb.Columns {
				stored, err := c.Caster.ToStore(fields[c.Attribute])
				if err != nil {
					return nil, &HydrationError{TypeName: m.Name(), Attribute: emb.Attribute, Cause: err}
				}
				cols[c.Attribute] = copyBytes(stored)
			}
		} else {
			for _, c := range emb.Columns {
				cols[c.Attribute] = nil
			}
		}
		snap[emb.Attribute] = cols
	}

	if m.IsDynamic() {
		for _, attr := range e.AttributeNames() {
			if m.IsAttribute(attr) {
				continue
			}
			v := e.Get(attr)
			if entity.IsAbsent(v) {
				continue
			}
			snap[attr] = copyBytes(v)
		}
	}

	return snap, nil
}

func copyBytes(v any) any {
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v
}

// Equal compares two stored values the way dirty checking needs: times by
// instant, byte slices by content, everything else deeply.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}
