package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry errors. Callers match with errors.Is.
var (
	ErrDuplicateName = errors.New("plugin name already registered")
	ErrNotFound      = errors.New("plugin not found")
)

// Metadata describes a registered plugin for the listing endpoints
type Metadata struct {
	Priority    int    `json:"priority"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Entry pairs a plugin name with its metadata
type Entry struct {
	Name string `json:"name"`
	Metadata
}

// Registry holds named factories for one strategy kind. Registration
// happens at startup; lookups are read-mostly afterwards.
type Registry[T any] struct {
	mu      sync.RWMutex
	kind    string
	entries map[string]regEntry[T]
	log     zerolog.Logger
}

type regEntry[T any] struct {
	factory T
	meta    Metadata
}

// NewRegistry creates an empty registry for the given strategy kind
func NewRegistry[T any](kind string, log zerolog.Logger) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		entries: make(map[string]regEntry[T]),
		log:     log.With().Str("component", "registry").Str("kind", kind).Logger(),
	}
}

// Register adds a named factory. Re-registering a taken name fails
// rather than silently replacing the earlier factory.
func (r *Registry[T]) Register(name string, factory T, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s %q", ErrDuplicateName, r.kind, name)
	}
	r.entries[name] = regEntry[T]{factory: factory, meta: meta}
	r.log.Debug().Str("name", name).Int("priority", meta.Priority).Msg("Registered plugin")
	return nil
}

// Lookup resolves a factory by name
func (r *Registry[T]) Lookup(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q", ErrNotFound, r.kind, name)
	}
	return e.factory, nil
}

// Has reports whether name is registered
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns every entry ordered by priority descending, ties broken
// by name ascending
func (r *Registry[T]) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, Entry{Name: name, Metadata: e.meta})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}
