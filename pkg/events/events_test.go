package events

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

type registrar struct {
	bus *Bus
	m   *mapping.EntityMap
}

func (r registrar) EntityMap() *mapping.EntityMap { return r.m }

func (r registrar) On(event string, h Handler) error { return r.bus.On(r.m, event, h) }

func buildMap(t *testing.T, name string, cascades bool) *mapping.EntityMap {
	t.Helper()
	b := mapping.New(name).Column("id", mapping.Int()).HasMany("children", "Child", "").Events("archived")
	if cascades {
		b = b.CascadeDelete("children")
	}
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestInitializeRunsOncePerMap(t *testing.T) {
	bus := NewBus()
	var seen []string
	require.NoError(t, bus.OnInitialized(func(r Registrar) error {
		seen = append(seen, r.EntityMap().Name())
		return nil
	}))

	a := registrar{bus, buildMap(t, "Folder", false)}
	b := registrar{bus, buildMap(t, "Album", false)}
	require.NoError(t, bus.Initialize(a))
	require.NoError(t, bus.Initialize(a))
	require.NoError(t, bus.Initialize(b))

	assert.Equal(t, []string{"Folder", "Album"}, seen)
	assert.True(t, bus.Initialized("Folder"))
}

func TestLateCallbackReachesInitializedMaps(t *testing.T) {
	bus := NewBus()
	folder := registrar{bus, buildMap(t, "Folder", false)}
	album := registrar{bus, buildMap(t, "Album", false)}
	require.NoError(t, bus.Initialize(folder))
	require.NoError(t, bus.Initialize(album))

	var seen []string
	require.NoError(t, bus.OnInitialized(func(r Registrar) error {
		seen = append(seen, r.EntityMap().Name())
		return r.On(Creating, func(ctx context.Context, ev *Event) error {
			seen = append(seen, "creating "+ev.Entity.Type())
			return nil
		})
	}))
	assert.Equal(t, []string{"Album", "Folder"}, seen)

	// initializing again does not run the callback twice
	require.NoError(t, bus.Initialize(folder))
	seen = nil
	_, err := bus.Fire(context.Background(), &Event{Name: Creating, Entity: entity.New(folder.m)})
	require.NoError(t, err)
	assert.Equal(t, []string{"creating Folder"}, seen)

	boom := errors.New("boom")
	err = bus.OnInitialized(func(r Registrar) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestInitCallbackInspectsMap(t *testing.T) {
	bus := NewBus()
	var fired []string
	require.NoError(t, bus.OnInitialized(func(r Registrar) error {
		if len(r.EntityMap().CascadeDeletes()) == 0 {
			return nil
		}
		return r.On(Deleting, func(ctx context.Context, ev *Event) error {
			fired = append(fired, ev.Entity.Type())
			return nil
		})
	}))

	cascading := buildMap(t, "Folder", true)
	plain := buildMap(t, "Album", false)
	require.NoError(t, bus.Initialize(registrar{bus, cascading}))
	require.NoError(t, bus.Initialize(registrar{bus, plain}))

	ctx := context.Background()
	for _, m := range []*mapping.EntityMap{cascading, plain} {
		ok, err := bus.Fire(ctx, &Event{Name: Deleting, Entity: entity.New(m)})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, []string{"Folder"}, fired)
}

func TestFireOrderAndVeto(t *testing.T) {
	bus := NewBus()
	m := buildMap(t, "Folder", false)
	var order []string
	record := func(name string) Handler {
		return func(ctx context.Context, ev *Event) error {
			order = append(order, name)
			return nil
		}
	}

	require.NoError(t, bus.On(m, Creating, record("map-1")))
	require.NoError(t, bus.OnAll(Creating, record("global")))
	require.NoError(t, bus.On(m, Creating, record("map-2")))

	ev := &Event{Name: Creating, Entity: entity.New(m)}
	ok, err := bus.Fire(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"map-1", "global", "map-2"}, order)

	// handlers of another map do not interleave
	other := buildMap(t, "Album", false)
	require.NoError(t, bus.On(other, Creating, record("album")))
	order = nil
	_, err = bus.Fire(context.Background(), &Event{Name: Creating, Entity: entity.New(other)})
	require.NoError(t, err)
	assert.Equal(t, []string{"global", "album"}, order)

	order = nil
	require.NoError(t, bus.On(m, Updating, func(ctx context.Context, ev *Event) error {
		return fmt.Errorf("read-only folder: %w", ErrHalt)
	}))
	require.NoError(t, bus.On(m, Updating, record("after-veto")))
	ok, err = bus.Fire(context.Background(), &Event{Name: Updating, Entity: entity.New(m)})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, order, "handlers after a veto do not run")

	boom := errors.New("boom")
	require.NoError(t, bus.On(m, Deleting, func(ctx context.Context, ev *Event) error { return boom }))
	ok, err = bus.Fire(context.Background(), &Event{Name: Deleting, Entity: entity.New(m)})
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestUnknownEvents(t *testing.T) {
	bus := NewBus()
	m := buildMap(t, "Folder", false)
	noop := func(ctx context.Context, ev *Event) error { return nil }

	assert.ErrorIs(t, bus.On(m, "published", noop), ErrUnknownEvent)
	assert.ErrorIs(t, bus.OnAll(Initialized, noop), ErrUnknownEvent)
	assert.NoError(t, bus.On(m, "archived", noop), "declared by the entity map")

	require.NoError(t, bus.Declare("published"))
	assert.NoError(t, bus.On(m, "published", noop))
	assert.Error(t, bus.Declare("not valid"))
}
