package mapping

import (
	"sort"
	"strings"

	"github.com/go-openapi/inflect"
)

// RelationKind identifies the shape of a relation between two entity maps
type RelationKind uint8

const (
	// BelongsTo: the owner row holds the foreign key of the related row
	BelongsTo RelationKind = iota + 1
	// HasOne: the related row holds the foreign key of the owner, at most one row
	HasOne
	// HasMany: the related rows hold the foreign key of the owner
	HasMany
	// BelongsToMany: owner and related are joined through a pivot table
	BelongsToMany
)

// String returns the relation kind name
func (k RelationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case BelongsToMany:
		return "belongs_to_many"
	default:
		return "unknown"
	}
}

// RelationSpec declares one relation of an entity map.
//
// ForeignKey is an attribute name: on the owner for BelongsTo, on the related
// map for HasOne/HasMany. For BelongsToMany, Pivot names the join table and
// PivotForeignKey/PivotRelatedKey are its columns referencing the owner and
// the related row.
type RelationSpec struct {
	Name            string
	Kind            RelationKind
	Related         string
	ForeignKey      string
	Pivot           string
	PivotForeignKey string
	PivotRelatedKey string
}

// IsToMany reports whether the relation resolves to a collection
func (r RelationSpec) IsToMany() bool {
	return r.Kind == HasMany || r.Kind == BelongsToMany
}

// defaultForeignKey returns the conventional foreign key for a type name, e.g. "BlogPost" -> "blog_post_id"
func defaultForeignKey(typeName string) string {
	return inflect.ForeignKey(typeName)
}

// defaultPivot returns the conventional pivot table for two types: both
// singular snake-case names in alphabetical order, e.g. "role_user".
func defaultPivot(owner, related string) string {
	names := []string{inflect.Underscore(owner), inflect.Underscore(related)}
	sort.Strings(names)
	return strings.Join(names, "_")
}
