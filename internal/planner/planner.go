// Package planner runs one build plan: it loads a cluster for a manifest,
// explores it to completion against the attachment store, extracts the build
// and skip lists, and optionally records the built units so the next plan is
// incremental.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/roach88/kiln/internal/cluster"
	"github.com/roach88/kiln/internal/generation"
	"github.com/roach88/kiln/internal/manifest"
	"github.com/roach88/kiln/internal/splitter"
	"github.com/roach88/kiln/internal/store"
	"github.com/roach88/kiln/internal/unit"
)

// Options configures one plan. Zero values defer to the manifest session.
type Options struct {
	// Requests are the units to build. Empty means every declared unit.
	Requests []cluster.Request

	// Platforms replaces the session platforms.
	Platforms []string

	// DisableIncremental forces a full rebuild.
	DisableIncremental bool

	// StrictOrder fails the plan on a load-order cycle among units to build.
	StrictOrder bool

	// Budget is the time slice per Process call. Zero runs to completion in
	// one call.
	Budget time.Duration

	// Record writes a successful attachment for every built unit and
	// completes the save cycle of every generator in the plan.
	Record bool

	// Splitters replaces the splitters the manifest declares.
	Splitters *splitter.Registry

	// ClusterOptions are appended after the options derived from the session.
	ClusterOptions []cluster.Option
}

// Outcome is the result of a plan.
type Outcome struct {
	ClusterID string
	Platforms []string
	Results   *cluster.Results
	Recorded  []store.Record
	// Dropped lists generated units whose populate failed while recording.
	Dropped []string
	// GC is the collection run after the plan released its generators.
	GC generation.GCReport
	// LiveGenerators counts generation helpers still alive after collection.
	LiveGenerators int
	// Slices counts Process calls.
	Slices int
}

// DefaultRequests requests every declared unit in declaration order.
func DefaultRequests(m *manifest.Manifest) []cluster.Request {
	out := make([]cluster.Request, len(m.Units))
	for i, d := range m.Units {
		out[i] = cluster.Request{Name: d.Name}
	}
	return out
}

// Run plans a build of the requested units.
func Run(ctx context.Context, m *manifest.Manifest, st *store.Store, opts Options) (*Outcome, error) {
	platforms := opts.Platforms
	if len(platforms) == 0 {
		platforms = m.Session.Platforms
	}
	requests := opts.Requests
	if len(requests) == 0 {
		requests = DefaultRequests(m)
	}

	splitters := opts.Splitters
	if splitters == nil {
		var err error
		if splitters, err = m.Splitters(); err != nil {
			return nil, err
		}
	}
	units := unit.NewRegistry(platforms)
	generators := generation.NewManager(splitters, m, platforms)

	clusterOpts := []cluster.Option{
		cluster.WithIncremental(m.Session.Incremental && !opts.DisableIncremental),
		cluster.WithGenerationManager(generators),
	}
	if m.Session.StrictOrder || opts.StrictOrder {
		clusterOpts = append(clusterOpts, cluster.WithSortMode(cluster.SortModeStrict))
	}
	clusterOpts = append(clusterOpts, opts.ClusterOptions...)

	c, err := cluster.New(cluster.Config{
		Units:   units,
		Source:  m,
		Fetcher: st,
		Policy:  m.Session.Policy(),
	}, requests, clusterOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := c.Close(context.Background()); closeErr != nil {
			slog.Warn("error closing cluster", "cluster", c.ID(), "error", closeErr)
		}
	}()

	out := &Outcome{ClusterID: c.ID(), Platforms: platforms}
	for {
		out.Slices++
		done, err := c.Process(ctx, opts.Budget)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		slog.Debug("plan still exploring",
			"cluster", c.ID(),
			"slices", out.Slices,
			"vertices", c.Search().Len(),
			"pending", c.Search().Pending())
	}

	res, err := c.ExtractResults()
	if err != nil {
		return nil, err
	}
	out.Results = res

	helpers := generators.Helpers()
	for _, h := range helpers {
		h.AddRef()
	}
	if opts.Record {
		err = record(ctx, m, units, st, out, helpers)
	}
	for _, h := range helpers {
		h.Release()
	}
	out.GC = generators.CollectGarbage(false)
	out.LiveGenerators = generators.Len()
	if err != nil {
		return nil, err
	}

	slog.Info("plan complete",
		"cluster", c.ID(),
		"build", len(res.ToBuild),
		"skip", len(res.ToSkip),
		"recorded", len(out.Recorded),
		"dropped", len(out.Dropped),
		"live_generators", out.LiveGenerators,
		"slices", out.Slices)
	return out, nil
}

// record populates the generators of built units, writes the attachments and
// then completes each generator's save cycle.
func record(ctx context.Context, m *manifest.Manifest, units *unit.Registry, st *store.Store, out *Outcome, helpers []*generation.Helper) error {
	built := make(map[string]bool, len(out.Results.ToBuild))
	for _, name := range out.Results.ToBuild {
		built[name] = true
	}
	excluded, dropped := populateGenerators(ctx, helpers, built)
	out.Dropped = dropped

	recs, err := records(ctx, m, units, st, out.ClusterID, out.Results, excluded)
	if err != nil {
		return err
	}
	if err := st.RecordAttachments(ctx, recs); err != nil {
		return err
	}
	out.Recorded = recs

	saved := make(platformSet)
	for _, rec := range recs {
		saved.add(rec.Name, rec.Platform)
	}
	finishGenerators(ctx, helpers, out.Platforms, saved)
	return nil
}

// records builds one successful attachment per built unit and cookable
// platform, with seq values continuing from the store's highest. Excluded
// units are not recorded.
func records(ctx context.Context, m *manifest.Manifest, units *unit.Registry, st *store.Store, clusterID string, res *cluster.Results, excluded map[string]bool) ([]store.Record, error) {
	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}

	var out []store.Record
	for _, name := range res.ToBuild {
		if excluded[name] {
			continue
		}
		u := units.Find(name)
		if u == nil {
			return nil, fmt.Errorf("record %s: unit is not in the registry", name)
		}
		buildDeps := BuildDependencies(m, name)
		defines := m.Defines(name)
		for p, platform := range units.Platforms() {
			if !u.Record(p).Cookable() {
				continue
			}
			seq++
			out = append(out, store.Record{
				Name:     name,
				Platform: platform,
				Attachment: unit.Attachment{
					ContentHash:         u.Descriptor().ContentHash,
					BuildDependencies:   buildDeps,
					RuntimeDependencies: res.Graph[name],
					BuildDefinitions:    BuildDefinitions(defines, platform),
					CommitStatus:        unit.CommitSuccess,
				},
				Seq:        seq,
				RecordedBy: clusterID,
			})
		}
	}
	return out, nil
}

// BuildDefinitions returns a unit's declared definitions plus the target
// platform definition, sorted.
func BuildDefinitions(defines []string, platform string) []string {
	out := append(slices.Clone(defines), "PLATFORM="+platform)
	sort.Strings(out)
	return slices.Compact(out)
}

// BuildDependencies returns the transitive build dependencies of a declared
// unit, sorted. Undeclared and generated units have none.
func BuildDependencies(m *manifest.Manifest, name string) []string {
	seen := map[string]bool{name: true}
	stack := []string{name}
	var out []string
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		d, ok := m.Unit(cur)
		if !ok {
			continue
		}
		for _, dep := range d.Build {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			stack = append(stack, dep)
		}
	}
	sort.Strings(out)
	return out
}
