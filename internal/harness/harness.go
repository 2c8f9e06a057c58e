// Package harness runs planning scenarios end to end against an in-memory
// attachment store.
package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/kiln/internal/cluster"
	"github.com/roach88/kiln/internal/manifest"
	"github.com/roach88/kiln/internal/planner"
	"github.com/roach88/kiln/internal/store"
	"github.com/roach88/kiln/internal/testutil"
	"github.com/roach88/kiln/internal/unit"
)

// Harness is the scenario execution engine.
// It runs plans with deterministic cluster IDs and sequence numbers.
type Harness struct {
	store    *store.Store
	manifest *manifest.Manifest
	clock    *testutil.DeterministicClock
	ids      *testutil.FixedIDGenerator
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Compile the manifest
// 2. Seed prior attachments
// 3. Plan each run, applying source edits first
// 4. Evaluate assertions against the trace and the final store
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	m, errs := manifest.LoadString(scenario.Manifest, manifest.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to compile manifest: %w", errors.Join(errs...))
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		manifest: m,
		clock:    testutil.NewDeterministicClock(),
		ids:      testutil.NewFixedIDGenerator(scenario.Name),
	}

	if err := h.seed(ctx, scenario.Prior); err != nil {
		return nil, fmt.Errorf("failed to seed prior attachments: %w", err)
	}

	result := NewResult()
	for _, run := range scenario.Runs {
		if err := h.plan(ctx, run, result); err != nil {
			return nil, fmt.Errorf("run %s: %w", run.Name, err)
		}
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// seed writes the prior attachments. Each takes the next clock value as its
// seq so later recorded attachments sort after them.
func (h *Harness) seed(ctx context.Context, prior []PriorAttachment) error {
	if len(prior) == 0 {
		return nil
	}
	recs := make([]store.Record, 0, len(prior))
	for _, p := range prior {
		hash := p.Hash
		if p.Matching {
			hash = h.manifest.ContentHash(p.Unit)
			if hash == "" {
				return fmt.Errorf("matching attachment for %s: unit has no content hash", p.Unit)
			}
		}
		status := unit.CommitSuccess
		if p.Status == string(unit.CommitFailed) {
			status = unit.CommitFailed
		}
		recs = append(recs, store.Record{
			Name:     p.Unit,
			Platform: p.Platform,
			Attachment: unit.Attachment{
				ContentHash:         hash,
				BuildDependencies:   p.BuildDependencies,
				RuntimeDependencies: p.RuntimeDependencies,
				CommitStatus:        status,
			},
			Seq:        h.clock.Next(),
			RecordedBy: "prior",
		})
	}
	return h.store.RecordAttachments(ctx, recs)
}

// plan executes one run and appends its trace. Runtime errors are recorded
// on the result; anything else aborts the scenario.
func (h *Harness) plan(ctx context.Context, run RunStep, result *Result) error {
	if len(run.Sources) > 0 {
		edited, err := h.manifest.WithSources(run.Sources)
		if err != nil {
			return err
		}
		h.manifest = edited
	}

	opts := planner.Options{
		Platforms:          run.Platforms,
		DisableIncremental: run.Incremental != nil && !*run.Incremental,
		StrictOrder:        run.StrictOrder,
		Record:             run.Record,
		ClusterOptions: []cluster.Option{
			cluster.WithIDGenerator(h.ids),
			cluster.WithSequencer(testutil.NewDeterministicClock()),
			cluster.WithWaitTimeout(10 * time.Millisecond),
		},
	}
	for _, name := range run.Requests {
		opts.Requests = append(opts.Requests, cluster.Request{Name: name})
	}

	var want ExpectClause
	if run.Expect != nil {
		want = *run.Expect
	}

	out, err := planner.Run(ctx, h.manifest, h.store, opts)
	if err != nil {
		code := string(cluster.CodeOf(err))
		if code == "" {
			return err
		}
		result.Runs = append(result.Runs, RunResult{Name: run.Name, Error: code})
		if want.Error != code {
			result.AddError(fmt.Sprintf("run %s: unexpected error: %v", run.Name, err))
		}
		return nil
	}

	rr := RunResult{
		Name:      run.Name,
		ClusterID: out.ClusterID,
		Build:     out.Results.ToBuild,
		Recorded:  len(out.Recorded),
	}
	result.Runs = append(result.Runs, rr)

	skips := make(map[string]string, len(out.Results.ToSkip))
	for _, name := range out.Results.ToBuild {
		result.AddBuildTrace(run.Name, name, h.clock.Next())
	}
	for _, s := range out.Results.ToSkip {
		skips[s.Name] = s.Reason.String()
		result.AddSkipTrace(run.Name, s.Name, s.Reason.String(), h.clock.Next())
	}

	if want.Error != "" {
		result.AddError(fmt.Sprintf("run %s: expected error %s, plan succeeded", run.Name, want.Error))
	}
	if want.Build != nil && !slices.Equal(want.Build, out.Results.ToBuild) {
		result.AddError(fmt.Sprintf("run %s: build order\n  Expected: %v\n  Actual: %v",
			run.Name, want.Build, out.Results.ToBuild))
	}
	if want.Skip != nil && !maps.Equal(want.Skip, skips) {
		result.AddError(fmt.Sprintf("run %s: skipped units\n  Expected: %v\n  Actual: %v",
			run.Name, want.Skip, skips))
	}
	return nil
}
