// Package splitter defines the capability a generator unit implements to
// enumerate and populate its generated sub-units, plus a registry that maps a
// stable type identifier to a splitter factory.
package splitter

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// GeneratedSpec describes one sub-unit a generator will produce.
type GeneratedSpec struct {
	RelativeID   string
	IsMapLike    bool
	Dependencies []string
	HashSeed     string
}

// PopulateResult is returned by the populate calls.
type PopulateResult struct {
	ObjectsToMove  []string
	KeepReferenced []string
	Success        bool
}

// Traits are structural booleans a splitter declares once at instantiation.
type Traits struct {
	// KeepInternalReferences means the splitter holds its own references so the
	// generator is not collected mid-populate.
	KeepInternalReferences bool
	// GeneratedRequiresGenerator means generated units need the generator
	// resident through their populate and save.
	GeneratedRequiresGenerator bool
}

// Splitter is implemented by content-specific plugins.
type Splitter interface {
	ShouldSplit(owner string) bool
	Traits() Traits
	GetGenerateList(ctx context.Context, owner string) ([]GeneratedSpec, error)
	PopulateGenerator(ctx context.Context, owner string, generated []GeneratedSpec) (PopulateResult, error)
	PopulateGenerated(ctx context.Context, owner string, generated GeneratedSpec) (PopulateResult, error)
	PostSave(ctx context.Context, name string)
	Teardown(owner string)
}

// Factory instantiates a splitter for one generator.
type Factory func() Splitter

// Registry maps unit type identifiers to splitter factories.
// Splitters are registered explicitly at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a type. Registering a type twice is an error.
func (r *Registry) Register(typeID string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if typeID == "" {
		return fmt.Errorf("splitter type identifier is empty")
	}
	if _, exists := r.factories[typeID]; exists {
		return fmt.Errorf("splitter already registered for type %q", typeID)
	}
	r.factories[typeID] = f
	return nil
}

// New instantiates the splitter for a type.
func (r *Registry) New(typeID string) (Splitter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[typeID]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Has reports whether a factory is registered for the type.
func (r *Registry) Has(typeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeID]
	return ok
}

// Types returns the registered type identifiers in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
