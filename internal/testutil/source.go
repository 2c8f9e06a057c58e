package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/kiln/internal/digest"
	"github.com/roach88/kiln/internal/unit"
)

// MemorySource is an in-memory dependency-metadata source.
//
// Thread-safety: safe for concurrent use; the cluster calls GetDependencies
// from fetch workers.
type MemorySource struct {
	mu    sync.RWMutex
	units map[string]unit.Descriptor
	deps  map[string]map[unit.DependencyCategory][]string
	calls map[string]int
	fail  map[string]error
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		units: make(map[string]unit.Descriptor),
		deps:  make(map[string]map[unit.DependencyCategory][]string),
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

// AddUnit declares an existing unit whose content key derives from source.
func (s *MemorySource) AddUnit(name, unitType, source string) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[name] = unit.Descriptor{
		Type:        unitType,
		ContentHash: digest.MustUnitKey(name, unitType, source),
	}
	return s
}

// AddScript declares a script/virtual unit.
func (s *MemorySource) AddScript(name string) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[name] = unit.Descriptor{Type: "script", Script: true}
	return s
}

// AddDeps appends dependencies of a category.
func (s *MemorySource) AddDeps(name string, category unit.DependencyCategory, deps ...string) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deps[name] == nil {
		s.deps[name] = make(map[unit.DependencyCategory][]string)
	}
	s.deps[name][category] = append(s.deps[name][category], deps...)
	return s
}

// FailDependencies makes GetDependencies fail for the unit.
func (s *MemorySource) FailDependencies(name string, err error) *MemorySource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[name] = err
	return s
}

// Describe implements the metadata source.
func (s *MemorySource) Describe(name string) (unit.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.units[name]
	return d, ok
}

// ContentHash returns the declared content key of a unit.
func (s *MemorySource) ContentHash(name string) string {
	d, _ := s.Describe(name)
	return d.ContentHash
}

// GetDependencies implements the metadata source.
func (s *MemorySource) GetDependencies(ctx context.Context, name string, category unit.DependencyCategory) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[fmt.Sprintf("%s|%s", name, category)]++
	if err := s.fail[name]; err != nil {
		return nil, err
	}
	deps := s.deps[name][category]
	out := make([]string, len(deps))
	copy(out, deps)
	return out, nil
}

// DependencyCalls returns how often GetDependencies ran for a unit and category.
func (s *MemorySource) DependencyCalls(name string, category unit.DependencyCategory) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[fmt.Sprintf("%s|%s", name, category)]
}
