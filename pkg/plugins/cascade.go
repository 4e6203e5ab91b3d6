package plugins

import (
	"context"
	"fmt"

	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/events"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// CascadeDeletes deletes the related entities of the relations a map lists
// in its cascade declaration.
//
// HasOne and HasMany children are deleted before their owner. BelongsTo
// parents and BelongsToMany related entities are loaded before the owner is
// deleted and removed afterwards, unless another row still references them.
type CascadeDeletes struct {
	host Host
}

// NewCascadeDeletes creates the plugin for a host
func NewCascadeDeletes(host Host) *CascadeDeletes {
	return &CascadeDeletes{host: host}
}

// CustomEvents implements events.Plugin
func (p *CascadeDeletes) CustomEvents() []string { return nil }

// Register implements events.Plugin
func (p *CascadeDeletes) Register() error {
	return p.host.Events().OnInitialized(func(r events.Registrar) error {
		m := r.EntityMap()
		relations := m.CascadeDeletes()
		if len(relations) == 0 {
			return nil
		}
		if err := r.On(events.Deleting, func(ctx context.Context, ev *events.Event) error {
			return p.beforeDelete(ctx, ev, relations)
		}); err != nil {
			return err
		}
		return r.On(events.Deleted, func(ctx context.Context, ev *events.Event) error {
			return p.afterDelete(ctx, ev, relations)
		})
	})
}

func (p *CascadeDeletes) beforeDelete(ctx context.Context, ev *events.Event, relations []string) error {
	m := ev.Entity.Map()
	for _, name := range relations {
		rel, _ := m.Relation(name)
		switch rel.Kind {
		case mapping.HasOne, mapping.HasMany:
			targets, err := ev.Session.CascadeTargets(ctx, ev.Entity, name)
			if err != nil {
				return err
			}
			if err := deleteAll(ctx, ev.Session, targets); err != nil {
				return fmt.Errorf("cascade %s.%s: %w", m.Name(), name, err)
			}
		case mapping.BelongsTo:
			// the pivot and foreign key are gone once the row is deleted
			if _, err := ev.Entity.Related(ctx, name); err != nil {
				return err
			}
		case mapping.BelongsToMany:
			if _, err := ev.Entity.RelatedMany(ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *CascadeDeletes) afterDelete(ctx context.Context, ev *events.Event, relations []string) error {
	m := ev.Entity.Map()
	for _, name := range relations {
		rel, _ := m.Relation(name)
		if rel.Kind != mapping.BelongsTo && rel.Kind != mapping.BelongsToMany {
			continue
		}
		targets, err := ev.Session.CascadeTargets(ctx, ev.Entity, name)
		if err != nil {
			return err
		}
		if err := deleteAll(ctx, ev.Session, targets); err != nil {
			return fmt.Errorf("cascade %s.%s: %w", m.Name(), name, err)
		}
	}
	return nil
}

func deleteAll(ctx context.Context, s events.Session, targets []*entity.Entity) error {
	for _, t := range targets {
		if err := s.Delete(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

var _ events.Plugin = (*CascadeDeletes)(nil)
