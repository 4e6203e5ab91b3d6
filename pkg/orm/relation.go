package orm

import (
	"context"
	"fmt"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// ResolveRelation loads a relation slot on first access. To-one relations
// resolve to a *entity.Entity or nil, collections to a []*entity.Entity.
func (u *UnitOfWork) ResolveRelation(ctx context.Context, e *entity.Entity, relation string) (any, error) {
	rel, ok := e.Map().Relation(relation)
	if !ok {
		return nil, fmt.Errorf("%s has no relation %q", e.Type(), relation)
	}
	related, err := u.Mapper(rel.Related)
	if err != nil {
		return nil, err
	}

	switch rel.Kind {
	case mapping.BelongsTo:
		fk := e.Get(rel.ForeignKey)
		if fk == nil || entity.IsAbsent(fk) {
			return nil, nil
		}
		parent, err := related.Find(ctx, fk)
		if IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return parent, nil

	case mapping.HasOne, mapping.HasMany:
		if !e.HasKey() {
			if rel.Kind == mapping.HasOne {
				return nil, nil
			}
			return []*entity.Entity{}, nil
		}
		owner, err := storedKey(e.Map(), e.Key())
		if err != nil {
			return nil, err
		}
		children, err := related.Where(ctx, db.Eq(related.m.ColumnFor(rel.ForeignKey), owner))
		if err != nil {
			return nil, err
		}
		if rel.Kind == mapping.HasOne {
			if len(children) == 0 {
				return nil, nil
			}
			return children[0], nil
		}
		return children, nil

	case mapping.BelongsToMany:
		if !e.HasKey() {
			return []*entity.Entity{}, nil
		}
		return u.resolveAttached(ctx, e, rel, related)
	}
	return nil, fmt.Errorf("%s.%s: unsupported relation kind %s", e.Type(), relation, rel.Kind)
}

// resolveAttached loads the related entities of a pivot relation in pivot row
// order, each at most once.
func (u *UnitOfWork) resolveAttached(ctx context.Context, e *entity.Entity, rel mapping.RelationSpec, related *Mapper) ([]*entity.Entity, error) {
	owner, err := storedKey(e.Map(), e.Key())
	if err != nil {
		return nil, err
	}
	rows, err := u.Executor().Select(ctx, rel.Pivot, db.Eq(rel.PivotForeignKey, owner))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", rel.Pivot, err)
	}
	keys := make([]any, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		k := row[rel.PivotRelatedKey]
		if k == nil || seen[fmt.Sprint(k)] {
			continue
		}
		seen[fmt.Sprint(k)] = true
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return []*entity.Entity{}, nil
	}

	list, err := related.Where(ctx, db.AnyOf(related.m.KeyColumn(), keys))
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*entity.Entity, len(list))
	for _, r := range list {
		k, err := storedKey(related.m, r.Key())
		if err != nil {
			return nil, err
		}
		byKey[fmt.Sprint(k)] = r
	}
	out := make([]*entity.Entity, 0, len(keys))
	for _, k := range keys {
		if r, ok := byKey[fmt.Sprint(k)]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// syncPivot makes the pivot rows of e match the related entities: missing
// rows are attached and rows of entities no longer related are detached.
func (u *UnitOfWork) syncPivot(ctx context.Context, e *entity.Entity, rel mapping.RelationSpec, related []*entity.Entity) error {
	relatedMap, err := u.EntityMap(rel.Related)
	if err != nil {
		return err
	}
	owner, err := storedKey(e.Map(), e.Key())
	if err != nil {
		return err
	}

	exec := u.Executor()
	rows, err := exec.Select(ctx, rel.Pivot, db.Eq(rel.PivotForeignKey, owner))
	if err != nil {
		return fmt.Errorf("select %s: %w", rel.Pivot, err)
	}
	existing := make(map[string]any, len(rows))
	for _, row := range rows {
		k := row[rel.PivotRelatedKey]
		existing[fmt.Sprint(k)] = k
	}

	wanted := make(map[string]bool, len(related))
	for _, r := range related {
		// vetoed inserts leave the related entity without a key
		if !r.HasKey() {
			continue
		}
		k, err := storedKey(relatedMap, r.Key())
		if err != nil {
			return err
		}
		id := fmt.Sprint(k)
		if wanted[id] {
			continue
		}
		wanted[id] = true
		if _, ok := existing[id]; ok {
			continue
		}
		values := map[string]any{rel.PivotForeignKey: owner, rel.PivotRelatedKey: k}
		if _, err := exec.Insert(ctx, rel.Pivot, "", values); err != nil {
			return fmt.Errorf("attach %s.%s: %w", e.Type(), rel.Name, err)
		}
	}

	var removed []any
	for id, k := range existing {
		if !wanted[id] {
			removed = append(removed, k)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	where := db.AllOf(db.Eq(rel.PivotForeignKey, owner), db.AnyOf(rel.PivotRelatedKey, removed))
	if _, err := exec.Delete(ctx, rel.Pivot, where); err != nil {
		return fmt.Errorf("detach %s.%s: %w", e.Type(), rel.Name, err)
	}
	return nil
}

// CascadeTargets returns the related entities a delete of e should cascade to
// through one relation. HasOne and HasMany return every related entity.
// BelongsTo and BelongsToMany return only related entities no other row
// still references, so call it once e's own row and pivot rows are gone or
// after the relation was loaded.
func (u *UnitOfWork) CascadeTargets(ctx context.Context, e *entity.Entity, relation string) ([]*entity.Entity, error) {
	m := e.Map()
	rel, ok := m.Relation(relation)
	if !ok {
		return nil, fmt.Errorf("%s has no relation %q", e.Type(), relation)
	}
	e.Bind(u)

	switch rel.Kind {
	case mapping.HasOne:
		child, err := e.Related(ctx, relation)
		if err != nil || child == nil {
			return nil, err
		}
		return []*entity.Entity{child}, nil

	case mapping.HasMany:
		return e.RelatedMany(ctx, relation)

	case mapping.BelongsTo:
		parent, err := e.Related(ctx, relation)
		if err != nil || parent == nil || !parent.HasKey() {
			return nil, err
		}
		referenced, err := u.referencedBy(ctx, m, rel, e, parent)
		if err != nil || referenced {
			return nil, err
		}
		return []*entity.Entity{parent}, nil

	case mapping.BelongsToMany:
		related, err := e.RelatedMany(ctx, relation)
		if err != nil || len(related) == 0 {
			return nil, err
		}
		return u.unreferenced(ctx, rel, e, related)
	}
	return nil, nil
}

// referencedBy reports whether an owner row other than e points at parent
func (u *UnitOfWork) referencedBy(ctx context.Context, m *mapping.EntityMap, rel mapping.RelationSpec, e, parent *entity.Entity) (bool, error) {
	parentKey, err := storedKey(parent.Map(), parent.Key())
	if err != nil {
		return false, err
	}
	where := db.Eq(m.ColumnFor(rel.ForeignKey), parentKey)
	if e.HasKey() {
		owner, err := storedKey(m, e.Key())
		if err != nil {
			return false, err
		}
		where.Where(m.KeyColumn(), db.NotEqual, owner)
	}
	rows, err := u.Executor().Select(ctx, m.Table(), where)
	if err != nil {
		return false, fmt.Errorf("select %s: %w", m.Table(), err)
	}
	return len(rows) > 0, nil
}

// unreferenced keeps the related entities no pivot row of another owner points at
func (u *UnitOfWork) unreferenced(ctx context.Context, rel mapping.RelationSpec, e *entity.Entity, related []*entity.Entity) ([]*entity.Entity, error) {
	relatedMap, err := u.EntityMap(rel.Related)
	if err != nil {
		return nil, err
	}
	owner, err := storedKey(e.Map(), e.Key())
	if err != nil {
		return nil, err
	}
	keys := make([]any, 0, len(related))
	for _, r := range related {
		k, err := storedKey(relatedMap, r.Key())
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	where := db.AnyOf(rel.PivotRelatedKey, keys).Where(rel.PivotForeignKey, db.NotEqual, owner)
	rows, err := u.Executor().Select(ctx, rel.Pivot, where)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", rel.Pivot, err)
	}
	inUse := make(map[string]bool, len(rows))
	for _, row := range rows {
		inUse[fmt.Sprint(row[rel.PivotRelatedKey])] = true
	}

	var out []*entity.Entity
	for i, r := range related {
		if !inUse[fmt.Sprint(keys[i])] {
			out = append(out, r)
		}
	}
	return out, nil
}
