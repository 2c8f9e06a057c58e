package manifest

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"cuelang.org/go/cue/token"

	"github.com/roach88/kiln/internal/cluster"
	"github.com/roach88/kiln/internal/digest"
	"github.com/roach88/kiln/internal/unit"
)

// Session is the session-wide configuration.
type Session struct {
	Platforms   []string
	Incremental bool
	StrictOrder bool
	NeverBuild  []string
	Scope       []string
	AllowTypes  []string
	DenyTypes   []string
}

// Policy returns the suppression policy the session declares.
func (s Session) Policy() cluster.Policy {
	return cluster.Policy{
		NeverBuild: s.NeverBuild,
		Scope:      s.Scope,
		AllowTypes: s.AllowTypes,
		DenyTypes:  s.DenyTypes,
	}
}

// UnitDecl is one declared content unit.
type UnitDecl struct {
	Name      string
	Type      string
	Source    string
	Script    bool
	Hard      []string
	Soft      []string
	Build     []string
	Defines   []string
	Generates []GeneratedDecl
	Pos       token.Pos
}

// IsGenerator reports whether the unit declares generated units.
func (d *UnitDecl) IsGenerator() bool {
	return len(d.Generates) > 0
}

// Dependencies returns the declared dependencies of a category.
func (d *UnitDecl) Dependencies(category unit.DependencyCategory) []string {
	switch category {
	case unit.Hard:
		return d.Hard
	case unit.Soft:
		return d.Soft
	case unit.Build:
		return d.Build
	default:
		return nil
	}
}

// GeneratedDecl is one generated unit a generator lists.
type GeneratedDecl struct {
	ID           string
	MapLike      bool
	Dependencies []string
	Seed         string
}

// Manifest is a loaded build session: configuration plus unit metadata.
//
// Thread-safety: immutable after Compile; safe for concurrent reads.
type Manifest struct {
	Session Session
	Units   []*UnitDecl

	byName map[string]*UnitDecl
	keys   map[string]string
}

func newManifest(session Session, units []*UnitDecl) *Manifest {
	m := &Manifest{
		Session: session,
		Units:   units,
		byName:  make(map[string]*UnitDecl, len(units)),
		keys:    make(map[string]string, len(units)),
	}
	for _, d := range units {
		m.byName[d.Name] = d
		if !d.Script {
			m.keys[d.Name] = digest.MustUnitKey(d.Name, d.Type, d.Source, d.Defines...)
		}
	}
	return m
}

// Unit returns the declaration of a unit.
func (m *Manifest) Unit(name string) (*UnitDecl, bool) {
	d, ok := m.byName[name]
	return d, ok
}

// Describe reports what a declared unit is.
func (m *Manifest) Describe(name string) (unit.Descriptor, bool) {
	d, ok := m.byName[name]
	if !ok {
		return unit.Descriptor{}, false
	}
	if d.Script {
		return unit.Descriptor{Type: "script", Script: true}, true
	}
	return unit.Descriptor{Type: d.Type, ContentHash: m.keys[d.Name]}, true
}

// ContentHash returns the content key of a declared unit, or "" for script
// and undeclared units.
func (m *Manifest) ContentHash(name string) string {
	return m.keys[name]
}

// Defines returns the build definitions of a declared unit, sorted. Generated
// units inherit their generator's definitions; undeclared units have none.
func (m *Manifest) Defines(name string) []string {
	if gen, ok := unit.GeneratorOf(name); ok {
		name = gen
	}
	d, ok := m.byName[name]
	if !ok {
		return nil
	}
	return slices.Clone(d.Defines)
}

// GetDependencies returns the declared dependencies of a category.
// Undeclared units have none.
func (m *Manifest) GetDependencies(ctx context.Context, name string, category unit.DependencyCategory) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := m.byName[name]
	if !ok {
		return nil, nil
	}
	deps := d.Dependencies(category)
	out := make([]string, len(deps))
	copy(out, deps)
	return out, nil
}

// Generators returns the names of generator units in declaration order.
func (m *Manifest) Generators() []string {
	var out []string
	for _, d := range m.Units {
		if d.IsGenerator() {
			out = append(out, d.Name)
		}
	}
	return out
}

// MissingReferences returns every dependency target that is not declared,
// sorted. Missing targets resolve as nonexistent units during a plan.
func (m *Manifest) MissingReferences() []string {
	set := make(map[string]bool)
	check := func(dep string) {
		if _, ok := m.byName[dep]; !ok && !unit.IsGeneratedName(dep) {
			set[dep] = true
		}
	}
	for _, d := range m.Units {
		for _, category := range unit.Categories {
			for _, dep := range d.Dependencies(category) {
				check(dep)
			}
		}
		for _, g := range d.Generates {
			for _, dep := range g.Dependencies {
				check(dep)
			}
		}
	}
	out := make([]string, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// WithSources returns a copy of the manifest with the source strings of the
// named units replaced, which changes their content keys.
func (m *Manifest) WithSources(sources map[string]string) (*Manifest, error) {
	units := make([]*UnitDecl, len(m.Units))
	for i, d := range m.Units {
		cp := *d
		units[i] = &cp
	}
	next := newManifest(m.Session, units)
	for name, src := range sources {
		d, ok := next.byName[name]
		if !ok {
			return nil, fmt.Errorf("edit source of %s: unit is not declared", name)
		}
		if d.Script {
			return nil, fmt.Errorf("edit source of %s: script units have no source", name)
		}
		d.Source = src
		next.keys[name] = digest.MustUnitKey(d.Name, d.Type, d.Source, d.Defines...)
	}
	return next, nil
}

// Registry creates a unit registry for the session platforms.
func (m *Manifest) Registry() *unit.Registry {
	return unit.NewRegistry(m.Session.Platforms)
}
