package manifest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/kiln/internal/splitter"
)

// declaredSplitter lists the generated units a generator declares in the
// manifest. Populate calls succeed without moving content.
type declaredSplitter struct {
	m *Manifest
}

// Splitters registers a splitter for every unit type some generator uses.
func (m *Manifest) Splitters() (*splitter.Registry, error) {
	reg := splitter.NewRegistry()
	for _, name := range m.Generators() {
		d := m.byName[name]
		if reg.Has(d.Type) {
			continue
		}
		if err := reg.Register(d.Type, func() splitter.Splitter { return &declaredSplitter{m: m} }); err != nil {
			return nil, fmt.Errorf("register splitter for %s: %w", d.Type, err)
		}
	}
	return reg, nil
}

// ShouldSplit reports whether the owner declares generated units. Other
// units of a generator type are ordinary content.
func (s *declaredSplitter) ShouldSplit(owner string) bool {
	d, ok := s.m.byName[owner]
	return ok && d.IsGenerator()
}

func (s *declaredSplitter) Traits() splitter.Traits {
	return splitter.Traits{}
}

func (s *declaredSplitter) GetGenerateList(ctx context.Context, owner string) ([]splitter.GeneratedSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := s.m.byName[owner]
	if !ok {
		return nil, fmt.Errorf("generator %s is not declared", owner)
	}
	specs := make([]splitter.GeneratedSpec, len(d.Generates))
	for i, g := range d.Generates {
		specs[i] = splitter.GeneratedSpec{
			RelativeID:   g.ID,
			IsMapLike:    g.MapLike,
			Dependencies: append([]string(nil), g.Dependencies...),
			HashSeed:     g.Seed,
		}
	}
	return specs, nil
}

func (s *declaredSplitter) PopulateGenerator(ctx context.Context, owner string, generated []splitter.GeneratedSpec) (splitter.PopulateResult, error) {
	return splitter.PopulateResult{Success: true}, nil
}

func (s *declaredSplitter) PopulateGenerated(ctx context.Context, owner string, generated splitter.GeneratedSpec) (splitter.PopulateResult, error) {
	return splitter.PopulateResult{Success: true}, nil
}

func (s *declaredSplitter) PostSave(ctx context.Context, name string) {
	slog.Debug("generated unit saved", "unit", name)
}

func (s *declaredSplitter) Teardown(owner string) {}
