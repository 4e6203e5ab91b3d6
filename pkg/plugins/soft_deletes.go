package plugins

import (
	"context"

	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/events"
)

// Custom events fired by SoftDeletes
const (
	Trashed  = "trashed"
	Restored = "restored"
)

// SoftDeletes turns the delete of an entity whose map declares soft deletes
// into an update stamping its deleted attribute. Deleting an entity that is
// already trashed removes its row.
type SoftDeletes struct {
	host Host
	now  Clock
}

// SoftDeletesOption configures the SoftDeletes plugin
type SoftDeletesOption func(*SoftDeletes)

// WithDeleteClock replaces the time source
func WithDeleteClock(now Clock) SoftDeletesOption {
	return func(p *SoftDeletes) { p.now = now }
}

// NewSoftDeletes creates the plugin for a host
func NewSoftDeletes(host Host, opts ...SoftDeletesOption) *SoftDeletes {
	p := &SoftDeletes{host: host, now: utcNow}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CustomEvents implements events.Plugin
func (p *SoftDeletes) CustomEvents() []string { return []string{Trashed, Restored} }

// Register implements events.Plugin
func (p *SoftDeletes) Register() error {
	return p.host.Events().OnInitialized(func(r events.Registrar) error {
		if !r.EntityMap().HasSoftDeletes() {
			return nil
		}
		return r.On(events.Deleting, p.trash)
	})
}

func (p *SoftDeletes) trash(ctx context.Context, ev *events.Event) error {
	e := ev.Entity
	if IsTrashed(e) {
		return nil
	}
	e.Set(e.Map().DeletedAtAttribute(), p.now())
	if err := ev.Session.Store(ctx, e); err != nil {
		e.Set(e.Map().DeletedAtAttribute(), nil)
		return err
	}
	if _, err := p.host.Events().Fire(ctx, &events.Event{Name: Trashed, Entity: e, Session: ev.Session}); err != nil {
		return err
	}
	return events.ErrHalt
}

// Restore clears the deleted attribute of a trashed entity and stores it
func (p *SoftDeletes) Restore(ctx context.Context, s events.Session, e *entity.Entity) error {
	if !IsTrashed(e) {
		return nil
	}
	e.Set(e.Map().DeletedAtAttribute(), nil)
	if err := s.Store(ctx, e); err != nil {
		return err
	}
	_, err := p.host.Events().Fire(ctx, &events.Event{Name: Restored, Entity: e, Session: s})
	return err
}

// IsTrashed reports whether a soft-deletable entity carries a deletion time
func IsTrashed(e *entity.Entity) bool {
	m := e.Map()
	if !m.HasSoftDeletes() {
		return false
	}
	v := e.Get(m.DeletedAtAttribute())
	return v != nil && !entity.IsAbsent(v)
}

var _ events.Plugin = (*SoftDeletes)(nil)
