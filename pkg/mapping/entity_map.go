// Package mapping describes how entity types map onto relational tables:
// table and key names, column casters, embedded value objects, relations and
// the lifecycle flags plugins react to.
package mapping

import (
	"fmt"
	"regexp"

	"github.com/go-openapi/inflect"
)

// KeyStrategy tells the unit of work who produces primary key values
type KeyStrategy string

const (
	KeyAutoIncrement KeyStrategy = "auto_increment" // generated by the store on insert
	KeyUUID          KeyStrategy = "uuid"           // assigned by a plugin before insert
	KeyManual        KeyStrategy = "manual"         // set by the caller
)

// Default attribute names used by the timestamp and soft-delete flags
const (
	DefaultCreatedAt = "created_at"
	DefaultUpdatedAt = "updated_at"
	DefaultDeletedAt = "deleted_at"
)

// identifierRe validates type, attribute and column names
var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Column maps one entity attribute onto one table column
type Column struct {
	Attribute string
	Name      string
	Caster    Caster
	Nullable  bool
}

// ColumnOption customises a column declaration
type ColumnOption func(*Column)

// ColumnName overrides the column name (defaults to the attribute name)
func ColumnName(name string) ColumnOption {
	return func(c *Column) { c.Name = name }
}

// Nullable marks the column as optional: a row without it hydrates to entity.Absent
func Nullable() ColumnOption {
	return func(c *Column) { c.Nullable = true }
}

// ValueCodec composes an embedded value object from its fields and splits it back
type ValueCodec interface {
	Compose(fields map[string]any) (any, error)
	Decompose(value any) (map[string]any, error)
}

// CodecFuncs adapts a pair of functions to ValueCodec
type CodecFuncs struct {
	ComposeFunc   func(fields map[string]any) (any, error)
	DecomposeFunc func(value any) (map[string]any, error)
}

// Compose implements ValueCodec
func (c CodecFuncs) Compose(fields map[string]any) (any, error) { return c.ComposeFunc(fields) }

// Decompose implements ValueCodec
func (c CodecFuncs) Decompose(value any) (map[string]any, error) { return c.DecomposeFunc(value) }

// Embedded is a value object persisted as several columns of its owner's row.
// Each column's Attribute is the field name inside the value object.
type Embedded struct {
	Attribute string
	Columns   []Column
	Codec     ValueCodec
}

// EntityMap is the immutable mapping configuration of one entity type.
// It is built once with a Builder and shared read-only by every entity of the type.
type EntityMap struct {
	name          string
	table         string
	key           string
	keyStrategy   KeyStrategy
	columns       []Column
	byAttribute   map[string]int
	byColumn      map[string]string
	embeds        []Embedded
	relations     map[string]RelationSpec
	relationOrder []string
	timestamps    bool
	createdAt     string
	updatedAt     string
	softDeletes   bool
	deletedAt     string
	cascades      []string
	events        []string
	dynamic       bool
}

// Name returns the entity type name
func (m *EntityMap) Name() string { return m.name }

// Table returns the table name
func (m *EntityMap) Table() string { return m.table }

// KeyName returns the primary key attribute
func (m *EntityMap) KeyName() string { return m.key }

// KeyColumn returns the primary key column
func (m *EntityMap) KeyColumn() string { return m.ColumnFor(m.key) }

// KeyStrategy returns how primary keys are produced
func (m *EntityMap) KeyStrategy() KeyStrategy { return m.keyStrategy }

// IsDynamic reports whether unmapped row columns pass through as attributes
func (m *EntityMap) IsDynamic() bool { return m.dynamic }

// Columns returns the plain column declarations in declaration order
func (m *EntityMap) Columns() []Column {
	out := make([]Column, len(m.columns))
	copy(out, m.columns)
	return out
}

// Column returns the declaration of an attribute
func (m *EntityMap) Column(attribute string) (Column, bool) {
	i, ok := m.byAttribute[attribute]
	if !ok {
		return Column{}, false
	}
	return m.columns[i], true
}

// ColumnFor returns the column name of an attribute. Unknown attributes map
// to themselves, which is what dynamic maps rely on.
func (m *EntityMap) ColumnFor(attribute string) string {
	if i, ok := m.byAttribute[attribute]; ok {
		return m.columns[i].Name
	}
	return attribute
}

// AttributeFor returns the attribute stored in a column
func (m *EntityMap) AttributeFor(column string) (string, bool) {
	attr, ok := m.byColumn[column]
	return attr, ok
}

// Embeds returns the embedded value objects
func (m *EntityMap) Embeds() []Embedded {
	out := make([]Embedded, len(m.embeds))
	copy(out, m.embeds)
	return out
}

// Relation returns a relation by name
func (m *EntityMap) Relation(name string) (RelationSpec, bool) {
	r, ok := m.relations[name]
	return r, ok
}

// Relations returns every relation in declaration order
func (m *EntityMap) Relations() []RelationSpec {
	out := make([]RelationSpec, 0, len(m.relationOrder))
	for _, name := range m.relationOrder {
		out = append(out, m.relations[name])
	}
	return out
}

// HasTimestamps reports whether created/updated attributes are maintained
func (m *EntityMap) HasTimestamps() bool { return m.timestamps }

// CreatedAtAttribute returns the creation timestamp attribute
func (m *EntityMap) CreatedAtAttribute() string { return m.createdAt }

// UpdatedAtAttribute returns the update timestamp attribute
func (m *EntityMap) UpdatedAtAttribute() string { return m.updatedAt }

// HasSoftDeletes reports whether deletes only stamp the deleted attribute
func (m *EntityMap) HasSoftDeletes() bool { return m.softDeletes }

// DeletedAtAttribute returns the soft-delete attribute
func (m *EntityMap) DeletedAtAttribute() string { return m.deletedAt }

// CascadeDeletes returns the relations deleted together with the owner
func (m *EntityMap) CascadeDeletes() []string {
	out := make([]string, len(m.cascades))
	copy(out, m.cascades)
	return out
}

// CustomEvents returns extra event names declared by this map
func (m *EntityMap) CustomEvents() []string {
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

// IsAttribute reports whether name is a plain or embedded attribute
func (m *EntityMap) IsAttribute(name string) bool {
	if _, ok := m.byAttribute[name]; ok {
		return true
	}
	for _, e := range m.embeds {
		if e.Attribute == name {
			return true
		}
	}
	return false
}

// Builder assembles an EntityMap. Errors are collected and reported by Build.
type Builder struct {
	m    *EntityMap
	errs []string
}

// New starts the map of an entity type. The table defaults to the
// pluralised snake-case type name and the key to "id".
func New(typeName string) *Builder {
	return &Builder{m: &EntityMap{
		name:        typeName,
		table:       inflect.Tableize(typeName),
		key:         "id",
		keyStrategy: KeyAutoIncrement,
		byAttribute: make(map[string]int),
		byColumn:    make(map[string]string),
		relations:   make(map[string]RelationSpec),
	}}
}

func (b *Builder) fail(format string, args ...any) *Builder {
	b.errs = append(b.errs, fmt.Sprintf(format, args...))
	return b
}

// Table sets the table name
func (b *Builder) Table(table string) *Builder {
	b.m.table = table
	return b
}

// Key sets the primary key attribute
func (b *Builder) Key(attribute string) *Builder {
	b.m.key = attribute
	return b
}

// KeyStrategy sets how primary keys are produced
func (b *Builder) KeyStrategy(s KeyStrategy) *Builder {
	b.m.keyStrategy = s
	return b
}

// Column declares an attribute stored in one column
func (b *Builder) Column(attribute string, caster Caster, opts ...ColumnOption) *Builder {
	c := Column{Attribute: attribute, Name: attribute, Caster: caster}
	for _, opt := range opts {
		opt(&c)
	}
	if c.Caster == nil {
		c.Caster = Raw()
	}
	return b.addColumn(c)
}

func (b *Builder) addColumn(c Column) *Builder {
	if !identifierRe.MatchString(c.Attribute) || !identifierRe.MatchString(c.Name) {
		return b.fail("invalid column %q -> %q", c.Attribute, c.Name)
	}
	if _, dup := b.m.byAttribute[c.Attribute]; dup {
		return b.fail("attribute %q declared twice", c.Attribute)
	}
	if _, dup := b.m.byColumn[c.Name]; dup {
		return b.fail("column %q declared twice", c.Name)
	}
	b.m.byAttribute[c.Attribute] = len(b.m.columns)
	b.m.byColumn[c.Name] = c.Attribute
	b.m.columns = append(b.m.columns, c)
	return b
}

// Embed declares a value object stored in the columns <attribute>_<field>
func (b *Builder) Embed(attribute string, codec ValueCodec, fields ...string) *Builder {
	if codec == nil || len(fields) == 0 {
		return b.fail("embedded %q needs a codec and at least one field", attribute)
	}
	e := Embedded{Attribute: attribute, Codec: codec}
	prefix := inflect.Underscore(attribute)
	for _, f := range fields {
		col := prefix + "_" + f
		if _, dup := b.m.byColumn[col]; dup {
			return b.fail("column %q declared twice", col)
		}
		b.m.byColumn[col] = attribute
		e.Columns = append(e.Columns, Column{Attribute: f, Name: col, Caster: Raw(), Nullable: true})
	}
	b.m.embeds = append(b.m.embeds, e)
	return b
}

func (b *Builder) addRelation(r RelationSpec) *Builder {
	if !identifierRe.MatchString(r.Name) {
		return b.fail("invalid relation name %q", r.Name)
	}
	if _, dup := b.m.relations[r.Name]; dup {
		return b.fail("relation %q declared twice", r.Name)
	}
	if r.Related == "" {
		return b.fail("relation %q has no related type", r.Name)
	}
	b.m.relations[r.Name] = r
	b.m.relationOrder = append(b.m.relationOrder, r.Name)
	return b
}

// BelongsTo declares that the owner holds the key of a related entity.
// foreignKey defaults to the related type's conventional foreign key.
func (b *Builder) BelongsTo(name, related, foreignKey string) *Builder {
	if foreignKey == "" {
		foreignKey = defaultForeignKey(related)
	}
	return b.addRelation(RelationSpec{Name: name, Kind: BelongsTo, Related: related, ForeignKey: foreignKey})
}

// HasOne declares a single related entity holding the owner's key.
// foreignKey defaults to the owner type's conventional foreign key.
func (b *Builder) HasOne(name, related, foreignKey string) *Builder {
	if foreignKey == "" {
		foreignKey = defaultForeignKey(b.m.name)
	}
	return b.addRelation(RelationSpec{Name: name, Kind: HasOne, Related: related, ForeignKey: foreignKey})
}

// HasMany declares a collection of related entities holding the owner's key
func (b *Builder) HasMany(name, related, foreignKey string) *Builder {
	if foreignKey == "" {
		foreignKey = defaultForeignKey(b.m.name)
	}
	return b.addRelation(RelationSpec{Name: name, Kind: HasMany, Related: related, ForeignKey: foreignKey})
}

// BelongsToMany declares a many-to-many relation through a pivot table.
// Empty arguments fall back to naming conventions.
func (b *Builder) BelongsToMany(name, related, pivot, pivotForeignKey, pivotRelatedKey string) *Builder {
	if pivot == "" {
		pivot = defaultPivot(b.m.name, related)
	}
	if pivotForeignKey == "" {
		pivotForeignKey = defaultForeignKey(b.m.name)
	}
	if pivotRelatedKey == "" {
		pivotRelatedKey = defaultForeignKey(related)
	}
	if pivotForeignKey == pivotRelatedKey {
		return b.fail("relation %q: pivot keys must differ, both are %q", name, pivotForeignKey)
	}
	return b.addRelation(RelationSpec{
		Name:            name,
		Kind:            BelongsToMany,
		Related:         related,
		Pivot:           pivot,
		PivotForeignKey: pivotForeignKey,
		PivotRelatedKey: pivotRelatedKey,
	})
}

// Timestamps enables created/updated stamping. Empty names use created_at/updated_at;
// undeclared timestamp attributes are added as nullable time columns.
func (b *Builder) Timestamps(createdAt, updatedAt string) *Builder {
	if createdAt == "" {
		createdAt = DefaultCreatedAt
	}
	if updatedAt == "" {
		updatedAt = DefaultUpdatedAt
	}
	b.m.timestamps = true
	b.m.createdAt = createdAt
	b.m.updatedAt = updatedAt
	return b
}

// SoftDeletes makes deletes stamp deletedAt instead of removing the row
func (b *Builder) SoftDeletes(deletedAt string) *Builder {
	if deletedAt == "" {
		deletedAt = DefaultDeletedAt
	}
	b.m.softDeletes = true
	b.m.deletedAt = deletedAt
	return b
}

// CascadeDelete marks relations whose entities are deleted with the owner
func (b *Builder) CascadeDelete(relations ...string) *Builder {
	b.m.cascades = append(b.m.cascades, relations...)
	return b
}

// Events declares custom event names plugins may fire for this map
func (b *Builder) Events(names ...string) *Builder {
	b.m.events = append(b.m.events, names...)
	return b
}

// Build validates the declaration and returns the immutable map
func (b *Builder) Build() (*EntityMap, error) {
	m := b.m
	if !identifierRe.MatchString(m.name) {
		return nil, mappingErrorf(m.name, "invalid type name")
	}
	if len(b.errs) > 0 {
		return nil, mappingErrorf(m.name, "%s", b.errs[0])
	}
	if m.table == "" {
		return nil, mappingErrorf(m.name, "empty table name")
	}

	if m.timestamps {
		b.ensureTimeColumn(m.createdAt)
		b.ensureTimeColumn(m.updatedAt)
	}
	if m.softDeletes {
		b.ensureTimeColumn(m.deletedAt)
	}
	if len(b.errs) > 0 {
		return nil, mappingErrorf(m.name, "%s", b.errs[0])
	}

	if _, ok := m.byAttribute[m.key]; !ok {
		return nil, mappingErrorf(m.name, "primary key %q is not a declared column", m.key)
	}
	switch m.keyStrategy {
	case KeyAutoIncrement, KeyUUID, KeyManual:
	default:
		return nil, mappingErrorf(m.name, "unknown key strategy %q", m.keyStrategy)
	}

	for _, name := range m.relationOrder {
		r := m.relations[name]
		if m.IsAttribute(name) {
			return nil, mappingErrorf(m.name, "relation %q collides with an attribute", name)
		}
		if r.Kind == BelongsTo {
			if _, ok := m.byAttribute[r.ForeignKey]; !ok && !m.dynamic {
				return nil, mappingErrorf(m.name, "relation %q: foreign key %q is not a declared column", name, r.ForeignKey)
			}
		}
	}

	seen := make(map[string]bool, len(m.cascades))
	for _, name := range m.cascades {
		if _, ok := m.relations[name]; !ok {
			return nil, mappingErrorf(m.name, "cascade delete on undeclared relation %q", name)
		}
		if seen[name] {
			return nil, mappingErrorf(m.name, "cascade delete on %q declared twice", name)
		}
		seen[name] = true
	}
	for _, ev := range m.events {
		if !identifierRe.MatchString(ev) {
			return nil, mappingErrorf(m.name, "invalid custom event name %q", ev)
		}
	}

	// The builder must not be reused to mutate a published map
	b.m = nil
	return m, nil
}

func (b *Builder) ensureTimeColumn(attribute string) {
	if _, ok := b.m.byAttribute[attribute]; ok {
		return
	}
	b.addColumn(Column{Attribute: attribute, Name: attribute, Caster: Time(), Nullable: true})
}

// conventional returns the dynamic map used for types registered without a
// declaration in non-strict mode.
func conventional(typeName string) *EntityMap {
	m, _ := New(typeName).Column("id", Raw()).Build()
	m.dynamic = true
	return m
}
