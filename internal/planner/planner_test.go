package planner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/cluster"
	"github.com/roach88/kiln/internal/manifest"
	"github.com/roach88/kiln/internal/splitter"
	"github.com/roach88/kiln/internal/store"
	"github.com/roach88/kiln/internal/testutil"
	"github.com/roach88/kiln/internal/unit"
)

const chainManifest = `
session: platforms: ["win64"]
unit: "A": {type: "mesh", source: "a1", hard: ["B"]}
unit: "B": {type: "mesh", source: "b1", hard: ["C"], build: ["C"]}
unit: "C": {type: "texture", source: "c1"}
`

func load(t *testing.T, src string) *manifest.Manifest {
	t.Helper()
	m, errs := manifest.LoadString(src, manifest.LoadModeFailFast)
	require.Empty(t, errs)
	return m
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "kiln.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func deterministic(opts Options) Options {
	opts.ClusterOptions = append(opts.ClusterOptions,
		cluster.WithIDGenerator(testutil.NewFixedIDGenerator("")),
		cluster.WithSequencer(testutil.NewDeterministicClock()),
		cluster.WithWaitTimeout(10*time.Millisecond),
	)
	return opts
}

func run(t *testing.T, m *manifest.Manifest, st *store.Store, opts Options) *Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := Run(ctx, m, st, deterministic(opts))
	require.NoError(t, err)
	return out
}

func skipNames(skips []cluster.Skip) []string {
	out := make([]string, len(skips))
	for i, s := range skips {
		out[i] = s.Name
	}
	return out
}

func TestRun_RecordThenIncremental(t *testing.T) {
	m := load(t, chainManifest)
	st := openStore(t)

	first := run(t, m, st, Options{Record: true})
	assert.Equal(t, "test-cluster", first.ClusterID)
	assert.Equal(t, []string{"C", "B", "A"}, first.Results.ToBuild)
	require.Len(t, first.Recorded, 3)
	assert.Equal(t, "C", first.Recorded[0].Name)
	assert.Equal(t, int64(1), first.Recorded[0].Seq)
	assert.Equal(t, []string{"C"}, first.Recorded[1].Attachment.BuildDependencies)
	assert.Equal(t, []string{"B"}, first.Recorded[2].Attachment.RuntimeDependencies)
	assert.Equal(t, m.ContentHash("A"), first.Recorded[2].Attachment.ContentHash)

	second := run(t, m, st, Options{})
	assert.Empty(t, second.Results.ToBuild)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, skipNames(second.Results.ToSkip))
	for _, skip := range second.Results.ToSkip {
		assert.Equal(t, unit.IncrementallySkipped, skip.Reason)
	}
	assert.Empty(t, second.Recorded)

	edited, err := m.WithSources(map[string]string{"C": "c2"})
	require.NoError(t, err)
	third := run(t, edited, st, Options{Record: true})
	assert.Equal(t, []string{"C", "B"}, third.Results.ToBuild)
	assert.Equal(t, []string{"A"}, skipNames(third.Results.ToSkip))
	require.Len(t, third.Recorded, 2)
	assert.Equal(t, int64(4), third.Recorded[0].Seq, "seq continues from the store")

	fourth := run(t, edited, st, Options{})
	assert.Empty(t, fourth.Results.ToBuild)
}

func TestRun_DisableIncremental(t *testing.T) {
	m := load(t, chainManifest)
	st := openStore(t)
	run(t, m, st, Options{Record: true})

	out := run(t, m, st, Options{DisableIncremental: true})
	assert.Equal(t, []string{"C", "B", "A"}, out.Results.ToBuild)
}

func TestRun_RequestsAndPlatforms(t *testing.T) {
	m := load(t, `
session: platforms: ["win64", "ps5"]
unit: "A": {type: "mesh", hard: ["B"]}
unit: "B": {type: "mesh"}
unit: "Unrelated": {type: "mesh"}
`)
	st := openStore(t)

	out := run(t, m, st, Options{
		Requests:  []cluster.Request{{Name: "A"}},
		Platforms: []string{"ps5"},
		Record:    true,
	})
	assert.Equal(t, []string{"ps5"}, out.Platforms)
	assert.Equal(t, []string{"B", "A"}, out.Results.ToBuild)
	require.Len(t, out.Recorded, 2)
	for _, rec := range out.Recorded {
		assert.Equal(t, "ps5", rec.Platform)
	}
}

func TestRun_BudgetSlices(t *testing.T) {
	m := load(t, chainManifest)
	st := openStore(t)

	out := run(t, m, st, Options{Budget: time.Nanosecond})
	assert.Equal(t, []string{"C", "B", "A"}, out.Results.ToBuild)
	assert.GreaterOrEqual(t, out.Slices, 1)
}

func TestRun_StrictOrder(t *testing.T) {
	m := load(t, `
session: platforms: ["win64"]
unit: "A": {type: "mesh", hard: ["B"]}
unit: "B": {type: "mesh", soft: ["A"]}
`)
	st := openStore(t)

	out := run(t, m, st, Options{})
	assert.Len(t, out.Results.ToBuild, 2)

	_, err := Run(context.Background(), m, st, deterministic(Options{StrictOrder: true}))
	require.Error(t, err)
	assert.True(t, cluster.IsLoadOrderCycleError(err))
}

func TestRun_Generators(t *testing.T) {
	m := load(t, `
session: platforms: ["win64"]
unit: "World": {
	type:   "world"
	source: "w1"
	generates: {
		cell_a: {deps: ["Game/Tree"], seed: "a"}
		cell_b: {seed: "b"}
	}
}
unit: "Game/Tree": {type: "mesh", source: "t1"}
`)
	st := openStore(t)

	first := run(t, m, st, Options{Record: true})
	cellA := unit.GeneratedName("World", "cell_a")
	cellB := unit.GeneratedName("World", "cell_b")
	assert.ElementsMatch(t, []string{"World", "Game/Tree", cellA, cellB}, first.Results.ToBuild)

	hashes := make(map[string]string)
	for _, rec := range first.Recorded {
		hashes[rec.Name] = rec.Attachment.ContentHash
	}
	assert.NotEmpty(t, hashes[cellA])
	assert.NotEqual(t, hashes[cellA], hashes[cellB])
	assert.NotEqual(t, hashes["World"], hashes[cellA])

	assert.Empty(t, first.Dropped)
	assert.Zero(t, first.LiveGenerators, "a recorded plan completes every generator")

	second := run(t, m, st, Options{})
	assert.Empty(t, second.Results.ToBuild)
	assert.ElementsMatch(t, []string{"World", "Game/Tree", cellA, cellB}, skipNames(second.Results.ToSkip))
	assert.Equal(t, 1, second.LiveGenerators, "nothing saves in a plan that does not record")

	third := run(t, m, st, Options{Record: true})
	assert.Empty(t, third.Results.ToBuild)
	assert.Empty(t, third.Recorded)
	assert.Zero(t, third.LiveGenerators, "skipped units complete the save cycle")
}

func TestRun_GeneratorDropsFailedUnit(t *testing.T) {
	m := load(t, `
session: platforms: ["win64", "ps5"]
unit: "World": {type: "world", source: "w1"}
`)
	st := openStore(t)

	split := testutil.NewScriptedSplitter(
		splitter.GeneratedSpec{RelativeID: "cell_a", HashSeed: "a"},
		splitter.GeneratedSpec{RelativeID: "cell_b", HashSeed: "b"},
	).FailGenerated("cell_b")
	reg := splitter.NewRegistry()
	require.NoError(t, reg.Register("world", split.Factory()))

	out := run(t, m, st, Options{Record: true, Splitters: reg})
	cellA := unit.GeneratedName("World", "cell_a")
	cellB := unit.GeneratedName("World", "cell_b")
	assert.ElementsMatch(t, []string{"World", cellA, cellB}, out.Results.ToBuild)
	assert.Equal(t, []string{cellB}, out.Dropped)

	var recorded []string
	for _, rec := range out.Recorded {
		recorded = append(recorded, rec.Name+"@"+rec.Platform)
	}
	assert.ElementsMatch(t, []string{
		"World@win64", "World@ps5", cellA + "@win64", cellA + "@ps5",
	}, recorded)

	_, err := st.GetAttachment(context.Background(), cellB, "win64")
	assert.ErrorIs(t, err, store.ErrNotFound, "dropped units are not recorded")

	assert.Equal(t, 1, split.Calls("PopulateGenerator"))
	assert.Equal(t, 2, split.Calls("PostSave:World"), "once per platform")
	assert.Equal(t, 2, split.Calls("PostSave:"+cellA))
	assert.Zero(t, split.Calls("PostSave:"+cellB))
	assert.Equal(t, 1, split.Calls("Teardown"))
	assert.Zero(t, out.LiveGenerators)
}

func TestRun_RecordsBuildDefinitions(t *testing.T) {
	m := load(t, `
session: platforms: ["win64", "ps5"]
unit: "A": {type: "mesh", source: "a1", defines: ["SHADOWS=1", "LOD=2"]}
unit: "W": {type: "world", source: "w1", defines: ["STREAMING=1"], generates: c: {}}
unit: "Plain": {type: "mesh"}
`)
	st := openStore(t)
	run(t, m, st, Options{Record: true})

	tests := []struct {
		name     string
		platform string
		want     []string
	}{
		{name: "A", platform: "win64", want: []string{"LOD=2", "PLATFORM=win64", "SHADOWS=1"}},
		{name: "A", platform: "ps5", want: []string{"LOD=2", "PLATFORM=ps5", "SHADOWS=1"}},
		{name: unit.GeneratedName("W", "c"), platform: "ps5", want: []string{"PLATFORM=ps5", "STREAMING=1"}},
		{name: "Plain", platform: "win64", want: []string{"PLATFORM=win64"}},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.platform, func(t *testing.T) {
			att, err := st.GetAttachment(context.Background(), tt.name, tt.platform)
			require.NoError(t, err)
			require.NotNil(t, att)
			assert.Equal(t, tt.want, att.BuildDefinitions)
		})
	}
}

func TestBuildDefinitions(t *testing.T) {
	assert.Equal(t, []string{"PLATFORM=win64"}, BuildDefinitions(nil, "win64"))
	assert.Equal(t, []string{"A=1", "PLATFORM=ps5", "Z=1"}, BuildDefinitions([]string{"Z=1", "A=1"}, "ps5"))
	assert.Equal(t, []string{"PLATFORM=ps5"}, BuildDefinitions([]string{"PLATFORM=ps5"}, "ps5"))
}

func TestBuildDependencies_Transitive(t *testing.T) {
	m := load(t, `
session: platforms: ["win64"]
unit: "A": {type: "mesh", build: ["B", "C"]}
unit: "B": {type: "mesh", build: ["D"]}
unit: "C": {type: "mesh", build: ["D"]}
unit: "D": {type: "mesh", build: ["A"]}
`)
	assert.Equal(t, []string{"B", "C", "D"}, BuildDependencies(m, "A"))
	assert.Equal(t, []string{"A", "B", "C"}, BuildDependencies(m, "D"))
	assert.Nil(t, BuildDependencies(m, "Missing"))
}
