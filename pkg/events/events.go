// Package events is the lifecycle event bus shared by every mapper of a manager.
//
// Registration is two-phase. Callbacks added with OnInitialized run once per
// entity map, the first time a mapper for it is built, and receive that mapper
// so they can inspect its EntityMap before attaching per-map handlers. A
// callback added after a map was initialized runs for that map right away.
package events

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/ammar0144/mapper4go/pkg/db"
	"github.com/ammar0144/mapper4go/pkg/entity"
	"github.com/ammar0144/mapper4go/pkg/mapping"
)

// Built-in lifecycle events
const (
	Initialized = "initialized"
	Retrieved   = "retrieved"
	Storing     = "storing"
	Stored      = "stored"
	Creating    = "creating"
	Created     = "created"
	Updating    = "updating"
	Updated     = "updated"
	Deleting    = "deleting"
	Deleted     = "deleted"
)

var builtin = map[string]bool{
	Retrieved: true,
	Storing:   true,
	Stored:    true,
	Creating:  true,
	Created:   true,
	Updating:  true,
	Updated:   true,
	Deleting:  true,
	Deleted:   true,
}

var eventNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

var (
	// ErrHalt stops the running operation without reporting a failure.
	// Handlers return it (optionally wrapped) to veto a write.
	ErrHalt = errors.New("events: halted")

	// ErrUnknownEvent is returned when attaching a handler to an undeclared event
	ErrUnknownEvent = errors.New("events: unknown event")
)

// IsHalt reports whether err is a veto
func IsHalt(err error) bool {
	return errors.Is(err, ErrHalt)
}

// Session is the unit of work an event fires in. Handlers use it to persist
// related entities inside the same transaction.
type Session interface {
	Store(ctx context.Context, e *entity.Entity) error
	Delete(ctx context.Context, e *entity.Entity) error
	EntityMap(typeName string) (*mapping.EntityMap, error)
	Executor() db.Adapter

	// CascadeTargets returns the related entities a delete of e cascades to
	// through one relation, following the relation kind's cascade rule.
	CascadeTargets(ctx context.Context, e *entity.Entity, relation string) ([]*entity.Entity, error)
}

// Event is passed to every handler
type Event struct {
	Name    string
	Entity  *entity.Entity
	Session Session

	// Dirty lists the changed attributes on updating/updated
	Dirty []string
}

// Handler reacts to an event. Returning ErrHalt vetoes the operation;
// any other error aborts it and is returned to the caller.
type Handler func(ctx context.Context, ev *Event) error

// Registrar is what initialization callbacks receive: the mapper being built
type Registrar interface {
	EntityMap() *mapping.EntityMap
	On(event string, h Handler) error
}

// InitFunc is an initialization callback
type InitFunc func(r Registrar) error

// Plugin is an extension registering handlers on a manager's bus.
// Plugins receive their host at construction.
type Plugin interface {
	Register() error
	CustomEvents() []string
}

// registration is a handler and its position in the registration order
type registration struct {
	seq uint64
	h   Handler
}

// Bus holds the event registration table
type Bus struct {
	mu     sync.RWMutex
	seq    uint64
	init   []InitFunc
	global map[string][]registration
	perMap map[string]map[string][]registration
	custom map[string]bool

	// initMu serializes initialization; done keeps the registrar each map
	// was initialized with
	initMu sync.Mutex
	done   map[string]Registrar
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		global: make(map[string][]registration),
		perMap: make(map[string]map[string][]registration),
		custom: make(map[string]bool),
		done:   make(map[string]Registrar),
	}
}

func (b *Bus) next(h Handler) registration {
	b.seq++
	return registration{seq: b.seq, h: h}
}

// Declare adds custom event names
func (b *Bus) Declare(names ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		if !eventNameRe.MatchString(name) || name == Initialized {
			return fmt.Errorf("invalid custom event name %q", name)
		}
		b.custom[name] = true
	}
	return nil
}

func (b *Bus) known(m *mapping.EntityMap, event string) bool {
	if builtin[event] || b.custom[event] {
		return true
	}
	if m != nil {
		for _, ev := range m.CustomEvents() {
			if ev == event {
				return true
			}
		}
	}
	return false
}

// OnInitialized queues a callback run once per entity map at its first
// initialization. Maps initialized before the call get the callback at once.
func (b *Bus) OnInitialized(f InitFunc) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.mu.Lock()
	b.init = append(b.init, f)
	b.mu.Unlock()

	names := make([]string, 0, len(b.done))
	for name := range b.done {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := f(b.done[name]); err != nil {
			return fmt.Errorf("initialize %s: %w", name, err)
		}
	}
	return nil
}

// OnAll attaches a handler to an event for every entity map
func (b *Bus) OnAll(event string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known(nil, event) {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	b.global[event] = append(b.global[event], b.next(h))
	return nil
}

// On attaches a handler to an event of one entity map
func (b *Bus) On(m *mapping.EntityMap, event string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known(m, event) {
		return fmt.Errorf("%w: %q on %s", ErrUnknownEvent, event, m.Name())
	}
	handlers, ok := b.perMap[m.Name()]
	if !ok {
		handlers = make(map[string][]registration)
		b.perMap[m.Name()] = handlers
	}
	handlers[event] = append(handlers[event], b.next(h))
	return nil
}

// Initialize runs the queued initialization callbacks for the registrar's
// entity map, unless they already ran for it.
func (b *Bus) Initialize(r Registrar) error {
	name := r.EntityMap().Name()

	b.initMu.Lock()
	defer b.initMu.Unlock()
	if _, ok := b.done[name]; ok {
		return nil
	}

	b.mu.RLock()
	callbacks := make([]InitFunc, len(b.init))
	copy(callbacks, b.init)
	b.mu.RUnlock()

	for _, f := range callbacks {
		if err := f(r); err != nil {
			return fmt.Errorf("initialize %s: %w", name, err)
		}
	}
	b.done[name] = r
	return nil
}

// Initialized reports whether the callbacks already ran for a type
func (b *Bus) Initialized(typeName string) bool {
	b.initMu.Lock()
	defer b.initMu.Unlock()
	_, ok := b.done[typeName]
	return ok
}

// Fire runs the global handlers and the entity map's handlers of an event,
// interleaved in registration order. It returns false when a handler vetoed
// the operation.
func (b *Bus) Fire(ctx context.Context, ev *Event) (bool, error) {
	b.mu.RLock()
	var local []registration
	if ev.Entity != nil {
		local = b.perMap[ev.Entity.Type()][ev.Name]
	}
	handlers := merge(b.global[ev.Name], local)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			if IsHalt(err) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// merge joins two registration lists, each already in order, into one
// ordered list of handlers
func merge(a, b []registration) []Handler {
	out := make([]Handler, 0, len(a)+len(b))
	for len(a) > 0 || len(b) > 0 {
		if len(b) == 0 || (len(a) > 0 && a[0].seq < b[0].seq) {
			out = append(out, a[0].h)
			a = a[1:]
			continue
		}
		out = append(out, b[0].h)
		b = b[1:]
	}
	return out
}
