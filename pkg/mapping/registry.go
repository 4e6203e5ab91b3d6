package mapping

import (
	"sort"
	"sync"
)

// DefinitionSuffix is appended to a type name to find its conventional definition
const DefinitionSuffix = "Map"

// Registry resolves entity type names to their maps.
//
// Maps come from explicit registration, from a definition named
// <Type>Map, or - outside strict mode - from naming conventions alone.
// The registry is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	strict      bool
	definitions map[string]*EntityMap
	maps        map[string]*EntityMap
	checked     map[string]bool
}

// NewRegistry creates an empty registry
func NewRegistry(strict bool) *Registry {
	return &Registry{
		strict:      strict,
		definitions: make(map[string]*EntityMap),
		maps:        make(map[string]*EntityMap),
		checked:     make(map[string]bool),
	}
}

// Strict reports whether unmapped types are rejected
func (r *Registry) Strict() bool { return r.strict }

// Define publishes a map under a definition name, e.g. "UserMap",
// so that Register("User") can find it by convention.
func (r *Registry) Define(name string, m *EntityMap) error {
	if m == nil {
		return mappingErrorf(name, "nil entity map definition")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.definitions[name]; ok && existing != m {
		return mappingErrorf(name, "definition registered twice")
	}
	r.definitions[name] = m
	return nil
}

// Register binds an entity type to a map. Without an explicit map the
// definition <typeName>Map is used; failing that, strict registries return
// EntityMapNotFoundError and lenient ones register a conventional map.
func (r *Registry) Register(typeName string, explicit ...*EntityMap) (*EntityMap, error) {
	if !identifierRe.MatchString(typeName) {
		return nil, mappingErrorf(typeName, "cannot resolve a map for an invalid type name")
	}
	if len(explicit) > 1 {
		return nil, mappingErrorf(typeName, "ambiguous registration: %d maps given", len(explicit))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var m *EntityMap
	if len(explicit) == 1 && explicit[0] != nil {
		m = explicit[0]
	} else {
		resolved, err := r.resolveLocked(typeName)
		if err != nil {
			return nil, err
		}
		m = resolved
	}

	if m.name != typeName {
		return nil, mappingErrorf(typeName, "map describes type %q", m.name)
	}
	if existing, ok := r.maps[typeName]; ok {
		if existing != m {
			return nil, mappingErrorf(typeName, "ambiguous registration: type already mapped")
		}
		return existing, nil
	}
	r.maps[typeName] = m
	return m, nil
}

// resolveLocked finds the map of an unregistered type. Callers hold r.mu.
func (r *Registry) resolveLocked(typeName string) (*EntityMap, error) {
	if def, ok := r.definitions[typeName+DefinitionSuffix]; ok {
		return def, nil
	}
	if r.strict {
		return nil, &EntityMapNotFoundError{TypeName: typeName}
	}
	return conventional(typeName), nil
}

// Lookup returns the map of a type, registering it by convention when allowed
func (r *Registry) Lookup(typeName string) (*EntityMap, error) {
	r.mu.RLock()
	m, ok := r.maps[typeName]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}
	return r.Register(typeName)
}

// Check validates the relations of a type against the related maps: every
// related type must resolve and foreign keys held by the related side must be
// declared there. The result is remembered once it succeeds.
func (r *Registry) Check(typeName string) error {
	r.mu.RLock()
	done := r.checked[typeName]
	r.mu.RUnlock()
	if done {
		return nil
	}

	m, err := r.Lookup(typeName)
	if err != nil {
		return err
	}
	for _, rel := range m.Relations() {
		related, err := r.Lookup(rel.Related)
		if err != nil {
			return mappingErrorf(typeName, "relation %q: %v", rel.Name, err)
		}
		switch rel.Kind {
		case HasOne, HasMany:
			if _, ok := related.Column(rel.ForeignKey); !ok && !related.IsDynamic() {
				return mappingErrorf(typeName, "relation %q: foreign key %q is not a column of %s",
					rel.Name, rel.ForeignKey, related.Name())
			}
		case BelongsTo:
			if _, ok := m.Column(rel.ForeignKey); !ok && !m.IsDynamic() {
				return mappingErrorf(typeName, "relation %q: foreign key %q is not a column", rel.Name, rel.ForeignKey)
			}
		}
	}

	r.mu.Lock()
	r.checked[typeName] = true
	r.mu.Unlock()
	return nil
}

// Names returns the registered type names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.maps))
	for name := range r.maps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
