package plugins

import (
	"context"

	"github.com/ammar0144/mapper4go/pkg/events"
)

// Timestamps stamps the created/updated attributes of maps declaring timestamps
type Timestamps struct {
	host Host
	now  Clock
}

// TimestampsOption configures the Timestamps plugin
type TimestampsOption func(*Timestamps)

// WithClock replaces the time source
func WithClock(now Clock) TimestampsOption {
	return func(p *Timestamps) { p.now = now }
}

// NewTimestamps creates the plugin for a host
func NewTimestamps(host Host, opts ...TimestampsOption) *Timestamps {
	p := &Timestamps{host: host, now: utcNow}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CustomEvents implements events.Plugin
func (p *Timestamps) CustomEvents() []string { return nil }

// Register implements events.Plugin
func (p *Timestamps) Register() error {
	return p.host.Events().OnInitialized(func(r events.Registrar) error {
		m := r.EntityMap()
		if !m.HasTimestamps() {
			return nil
		}
		created, updated := m.CreatedAtAttribute(), m.UpdatedAtAttribute()

		if err := r.On(events.Creating, func(ctx context.Context, ev *events.Event) error {
			now := p.now()
			// keep a creation time the caller set explicitly
			if v := ev.Entity.Get(created); !ev.Entity.Has(created) || v == nil {
				ev.Entity.Set(created, now)
			}
			ev.Entity.Set(updated, now)
			return nil
		}); err != nil {
			return err
		}
		return r.On(events.Updating, func(ctx context.Context, ev *events.Event) error {
			ev.Entity.Set(updated, p.now())
			return nil
		})
	})
}

var _ events.Plugin = (*Timestamps)(nil)
