package plugins

import (
	"context"

	"github.com/google/uuid"

	"github.com/ammar0144/mapper4go/pkg/events"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// UUIDKeys assigns a random UUID key to new entities of maps using the UUID
// key strategy, unless the caller set one.
type UUIDKeys struct {
	host     Host
	generate func() string
}

// NewUUIDKeys creates the plugin for a host
func NewUUIDKeys(host Host) *UUIDKeys {
	return &UUIDKeys{host: host, generate: uuid.NewString}
}

// CustomEvents implements events.Plugin
func (p *UUIDKeys) CustomEvents() []string { return nil }

// Register implements events.Plugin
func (p *UUIDKeys) Register() error {
	return p.host.Events().OnInitialized(func(r events.Registrar) error {
		if r.EntityMap().KeyStrategy() != mapping.KeyUUID {
			return nil
		}
		return r.On(events.Creating, func(ctx context.Context, ev *events.Event) error {
			if !ev.Entity.HasKey() {
				ev.Entity.SetKey(p.generate())
			}
			return nil
		})
	})
}

var _ events.Plugin = (*UUIDKeys)(nil)
