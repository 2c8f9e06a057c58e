package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/digest"
	"github.com/roach88/kiln/internal/splitter"
	"github.com/roach88/kiln/internal/testutil"
	"github.com/roach88/kiln/internal/unit"
)

const genType = "world"

var testPlatforms = []string{"win64", "ps5"}

type fixture struct {
	src     *testutil.MemorySource
	split   *testutil.ScriptedSplitter
	manager *Manager
	helper  *Helper
}

func newFixture(t *testing.T, list ...splitter.GeneratedSpec) *fixture {
	t.Helper()
	src := testutil.NewMemorySource().AddUnit("World", genType, "v1")
	split := testutil.NewScriptedSplitter(list...)
	reg := splitter.NewRegistry()
	require.NoError(t, reg.Register(genType, split.Factory()))

	m := NewManager(reg, src, testPlatforms)
	h := m.FindOrCreate(Owner{Name: "World", Type: genType, ContentHash: src.ContentHash("World")})
	return &fixture{src: src, split: split, manager: m, helper: h}
}

func gen(rel string, deps ...string) splitter.GeneratedSpec {
	return splitter.GeneratedSpec{RelativeID: rel, HashSeed: "seed-" + rel, Dependencies: deps}
}

func (f *fixture) saveAll(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		for _, p := range testPlatforms {
			require.NoError(t, f.helper.FinishSave(context.Background(), name, p))
		}
	}
}

func TestKeepFlag_String(t *testing.T) {
	assert.Equal(t, "none", KeepNone.String())
	assert.Equal(t, "KeepForIncremental|KeepForCompletedMessage",
		(KeepForIncremental | KeepForCompletedMessage).String())
	assert.True(t, (KeepForQueueResults | KeepForGeneratorSave).Has(KeepForQueueResults))
	assert.False(t, KeepForQueueResults.Has(KeepForQueueResults|KeepForGeneratorSave))
}

func TestHelper_InitializeIdempotent(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.helper.Initialize())
	assert.True(t, f.helper.Initialize())
	assert.Equal(t, StateValid, f.helper.State())
}

func TestHelper_InvalidIsTerminal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fixture) *Helper
	}{
		{
			name: "no registered splitter",
			setup: func(f *fixture) *Helper {
				return f.manager.FindOrCreate(Owner{Name: "Other", Type: "texture"})
			},
		},
		{
			name: "splitter declines",
			setup: func(f *fixture) *Helper {
				f.split.SetShouldSplit(false)
				return f.helper
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, gen("a"))
			h := tt.setup(f)

			assert.False(t, h.Initialize())
			assert.Equal(t, StateInvalid, h.State())

			f.split.SetShouldSplit(true)
			assert.False(t, h.Initialize())

			_, err := h.GenerateList(context.Background())
			assert.ErrorIs(t, err, ErrNoSplitter)
		})
	}
}

func TestHelper_GenerateListReusesRecords(t *testing.T) {
	f := newFixture(t, gen("a"), gen("b"))

	first, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, unit.GeneratedName("World", "a"), first[0].Name)

	second, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Same(t, first[0], second[0])
	assert.Same(t, first[1], second[1])
	assert.Equal(t, 2, f.split.Calls("GetGenerateList"))
}

func TestHelper_GenerateListDiscardsStale(t *testing.T) {
	f := newFixture(t, gen("a"), gen("b"))
	first, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)

	f.split.SetList(gen("b"), gen("c"))
	second, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)

	require.Len(t, second, 2)
	assert.Same(t, first[1], second[0])
	assert.Equal(t, unit.GeneratedName("World", "c"), second[1].Name)

	_, ok := f.helper.Info(unit.GeneratedName("World", "a"))
	assert.False(t, ok)
}

func TestHelper_GenerateListSkipsInvalidEntries(t *testing.T) {
	f := newFixture(t, gen(""), gen("a"), gen("a"))

	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].RelativeID)
}

func TestHelper_GenerateListCleansDependencies(t *testing.T) {
	self := unit.GeneratedName("World", "a")
	f := newFixture(t, gen("a", "Z", "A", "A", "", self, unit.GeneratedName("World", "b")))

	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"A", "Z"}, list[0].Dependencies)
}

func TestHelper_PackageHashTracksDependencies(t *testing.T) {
	f := newFixture(t, gen("a", "Texture"))
	f.src.AddUnit("Texture", "texture", "v1")

	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	before := list[0].PackageHash
	assert.Equal(t, digest.GenerationHash("seed-a", []string{f.src.ContentHash("Texture")}), before)

	f.src.AddUnit("Texture", "texture", "v2")
	list, err = f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, before, list[0].PackageHash)
}

func TestHelper_GeneratedNameCollisionIsDropped(t *testing.T) {
	f := newFixture(t, gen("a"), gen("b"))
	f.src.AddUnit(unit.GeneratedName("World", "a"), "map", "hand-made")

	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Dropped())
	assert.False(t, list[1].Dropped())

	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerated(context.Background(), list[0].Name)
	assert.ErrorIs(t, err, ErrUnknownGenerated)
}

func TestHelper_PopulateGeneratorOnce(t *testing.T) {
	f := newFixture(t, gen("a"))
	f.split.SetKeepReferenced("SharedMaterial")
	_, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, KeepForCompletedMessage, f.helper.Keep())

	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)
	assert.True(t, f.helper.Keep().Has(KeepForAllSavedOrGC))
	assert.True(t, f.helper.OwnerInfo().HasCalledPopulate())
	assert.True(t, f.manager.IsResident("World"))
	assert.True(t, f.manager.IsResident("SharedMaterial"))

	_, err = f.helper.PopulateGenerator(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyPopulated)
	assert.Equal(t, 1, f.split.Calls("PopulateGenerator"))
}

func TestHelper_PopulateGeneratorFailure(t *testing.T) {
	f := newFixture(t, gen("a"))
	f.split.FailGenerator()
	_, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)

	_, err = f.helper.PopulateGenerator(context.Background())
	assert.ErrorIs(t, err, ErrPopulateFailed)
	assert.False(t, f.helper.Keep().Has(KeepForAllSavedOrGC))
}

func TestHelper_PopulateGeneratedFailureDropsOnlyThatUnit(t *testing.T) {
	f := newFixture(t, gen("a"), gen("b"))
	f.split.FailGenerated("b")
	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)

	res, err := f.helper.PopulateGenerated(context.Background(), list[0].Name)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.objects"}, res.ObjectsToMove)
	assert.Equal(t, []string{"a.objects"}, list[0].ObjectsMoved())

	_, err = f.helper.PopulateGenerated(context.Background(), list[1].Name)
	assert.True(t, errors.Is(err, testutil.ErrScripted))
	assert.True(t, list[1].Dropped())
	assert.False(t, list[0].Dropped())

	_, err = f.helper.PopulateGenerated(context.Background(), list[0].Name)
	assert.ErrorIs(t, err, ErrAlreadyPopulated)
}

func TestHelper_GeneratedRequiresGenerator(t *testing.T) {
	f := newFixture(t, gen("a"))
	f.split.SetTraits(splitter.Traits{GeneratedRequiresGenerator: true})
	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)

	_, err = f.helper.PopulateGenerated(context.Background(), list[0].Name)
	assert.ErrorIs(t, err, ErrGeneratorNotPopulated)
	assert.Equal(t, 0, f.split.Calls("PopulateGenerated:a"))

	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerated(context.Background(), list[0].Name)
	assert.NoError(t, err)
}

func TestHelper_FinishSaveReleasesFlags(t *testing.T) {
	f := newFixture(t, gen("a"), gen("b"))
	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)
	f.helper.AddRef()

	f.saveAll(t, "World", list[0].Name)
	assert.False(t, f.helper.AllSaved("win64"))
	assert.Equal(t, KeepForCompletedMessage|KeepForAllSavedOrGC, f.helper.Keep())

	require.NoError(t, f.helper.FinishSkip(list[1].Name, "win64"))
	assert.True(t, f.helper.AllSaved("win64"))
	assert.False(t, f.helper.AllSaved("ps5"))
	assert.True(t, list[1].Skipped("win64"))

	require.NoError(t, f.helper.FinishSave(context.Background(), list[1].Name, "ps5"))
	assert.Equal(t, KeepNone, f.helper.Keep())
	assert.False(t, f.helper.Destroyed())
	assert.Equal(t, 2, f.split.Calls("PostSave:World"))
	assert.Equal(t, 2, f.split.Calls("PostSave:"+list[0].Name))

	f.helper.Release()
	assert.True(t, f.helper.Destroyed())
	assert.Nil(t, f.manager.Find("World"))
	assert.Equal(t, 1, f.split.Calls("Teardown"))
}

func TestHelper_FinishSaveIgnoresRepeats(t *testing.T) {
	f := newFixture(t, gen("a"))
	_, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	f.helper.AddRef()

	require.NoError(t, f.helper.FinishSave(context.Background(), "World", "win64"))
	require.NoError(t, f.helper.FinishSave(context.Background(), "World", "win64"))
	assert.Equal(t, 1, f.split.Calls("PostSave:World"))

	err = f.helper.FinishSave(context.Background(), "World/_Generated_/nope", "win64")
	assert.ErrorIs(t, err, ErrUnknownGenerated)
}

// TestHelper_KeepAliveDuringSave checks the helper outlives its last
// reference while the generator saves, then goes away once all units finish.
func TestHelper_KeepAliveDuringSave(t *testing.T) {
	f := newFixture(t, gen("a"))
	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)

	f.helper.AddRef()
	f.helper.BeginGeneratorSave()
	f.helper.Release()
	assert.False(t, f.helper.Destroyed())
	assert.True(t, f.helper.Saving())
	assert.ErrorIs(t, f.helper.Uninitialize(), ErrSaving)

	f.saveAll(t, "World")
	assert.False(t, f.helper.Saving())
	assert.False(t, f.helper.Keep().Has(KeepForGeneratorSave))
	assert.False(t, f.helper.Destroyed())

	f.saveAll(t, list[0].Name)
	assert.True(t, f.helper.Destroyed())
	assert.Equal(t, 0, f.manager.Len())
}

func TestHelper_ReleaseBelowZeroIsCorrected(t *testing.T) {
	f := newFixture(t, gen("a"))
	_, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)

	f.helper.Release()
	assert.Equal(t, 0, f.helper.Refs())
	assert.False(t, f.helper.Destroyed())
}

func TestManager_CollectGarbageRetriesWhileResident(t *testing.T) {
	f := newFixture(t, gen("a"))
	f.split.SetTraits(splitter.Traits{KeepInternalReferences: true})
	_, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)

	// Something outside the helper still holds the generator.
	f.manager.Pin("World")

	report := f.manager.CollectGarbage(false)
	assert.Equal(t, 3, report.Passes)
	assert.Empty(t, report.Demoted)
	assert.Empty(t, report.Destroyed)
	assert.Equal(t, StateUninitialized, f.helper.State())
	assert.Equal(t, KeepForCompletedMessage, f.helper.Keep())
	assert.False(t, f.helper.OwnerInfo().HasCalledPopulate())
	assert.Equal(t, 1, f.split.Calls("Teardown"))
}

func TestManager_CollectGarbageSinglePass(t *testing.T) {
	f := newFixture(t, gen("a"))
	f.split.SetTraits(splitter.Traits{KeepInternalReferences: true})
	_, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)

	report := f.manager.CollectGarbage(false)
	assert.Equal(t, 1, report.Passes)
	assert.False(t, f.manager.IsResident("World"))
	assert.Equal(t, KeepForCompletedMessage, f.helper.Keep())
}

func TestManager_CollectGarbageDemotesUnsaved(t *testing.T) {
	f := newFixture(t, gen("a"))
	list, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerated(context.Background(), list[0].Name)
	require.NoError(t, err)

	report := f.manager.CollectGarbage(false)
	assert.Equal(t, 1, report.Passes)
	assert.Equal(t, []string{"World", list[0].Name}, report.Demoted)
	assert.Equal(t, StateUninitialized, f.helper.State())
	assert.False(t, f.manager.IsResident(list[0].Name))

	require.True(t, f.helper.Initialize())
	_, err = f.helper.PopulateGenerator(context.Background())
	require.NoError(t, err)
	_, err = f.helper.PopulateGenerated(context.Background(), list[0].Name)
	require.NoError(t, err)
	assert.Equal(t, 2, f.split.Calls("PopulateGenerator"))
	assert.Equal(t, 2, f.split.Calls("PopulateGenerated:a"))
}

func TestManager_CollectGarbageDestroysIdleHelpers(t *testing.T) {
	f := newFixture(t, gen("a"))
	_, err := f.helper.GenerateList(context.Background())
	require.NoError(t, err)
	idle := f.manager.FindOrCreate(Owner{Name: "Idle", Type: genType})

	report := f.manager.CollectGarbage(true)
	assert.Equal(t, []string{"Idle"}, report.Destroyed)
	assert.True(t, idle.Destroyed())
	assert.False(t, f.helper.Destroyed())
	assert.Equal(t, 1, f.manager.Len())
}

func TestManager_CollectGarbageFullDemotesKeptReferences(t *testing.T) {
	tests := []struct {
		name    string
		full    bool
		demoted bool
	}{
		{name: "partial collection leaves splitter references"},
		{name: "full collection demotes splitter references", full: true, demoted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, gen("a"))
			f.split.SetTraits(splitter.Traits{KeepInternalReferences: true})
			list, err := f.helper.GenerateList(context.Background())
			require.NoError(t, err)
			_, err = f.helper.PopulateGenerator(context.Background())
			require.NoError(t, err)
			_, err = f.helper.PopulateGenerated(context.Background(), list[0].Name)
			require.NoError(t, err)

			// An outstanding reference keeps the helper initialized.
			f.helper.AddRef()
			defer f.helper.Release()

			report := f.manager.CollectGarbage(tt.full)
			assert.Equal(t, 1, report.Passes)
			assert.Equal(t, StateValid, f.helper.State())
			if tt.demoted {
				assert.Equal(t, []string{"World", list[0].Name}, report.Demoted)
			} else {
				assert.Empty(t, report.Demoted)
			}
			assert.Equal(t, !tt.demoted, f.manager.IsResident(list[0].Name))
			assert.Equal(t, !tt.demoted, list[0].HasCalledPopulate())
		})
	}
}
