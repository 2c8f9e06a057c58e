package harness

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainManifest = `
session: platforms: ["win64"]
unit: "A": {type: "mesh", source: "a1", hard: ["B"]}
unit: "B": {type: "mesh", source: "b1", hard: ["C"]}
unit: "C": {type: "texture", source: "c1"}
`

func chainScenario(runs ...RunStep) *Scenario {
	s := &Scenario{
		Name:        "chain",
		Description: "chain",
		Manifest:    chainManifest,
		Runs:        runs,
	}
	if err := validateScenario(s); err != nil {
		panic(err)
	}
	return s
}

func TestRun_Minimal(t *testing.T) {
	result, err := Run(t.Context(), chainScenario(RunStep{}))
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "run-1", result.Runs[0].Name)
	assert.Equal(t, "chain", result.Runs[0].ClusterID)
	assert.Equal(t, []string{"C", "B", "A"}, result.Runs[0].Build)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, TraceEvent{Run: "run-1", Kind: EventBuild, Unit: "C", Seq: 1}, result.Trace[0])
}

func TestRun_Deterministic(t *testing.T) {
	scenario := chainScenario(
		RunStep{Name: "first", Record: true},
		RunStep{Name: "second", Sources: map[string]string{"B": "b2"}},
	)

	first, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	second, err := Run(t.Context(), scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Runs, second.Runs)
}

func TestRun_FreshDatabasePerScenario(t *testing.T) {
	scenario := chainScenario(RunStep{Record: true})

	for i := 0; i < 2; i++ {
		result, err := Run(t.Context(), scenario)
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "B", "A"}, result.Runs[0].Build, "iteration %d", i)
		assert.Equal(t, 3, result.Runs[0].Recorded)
	}
}

func TestRun_ExpectMismatch(t *testing.T) {
	tests := []struct {
		name    string
		expect  ExpectClause
		wantErr string
	}{
		{
			name:    "build order",
			expect:  ExpectClause{Build: []string{"A", "B", "C"}},
			wantErr: "build order",
		},
		{
			name:    "skip map",
			expect:  ExpectClause{Skip: map[string]string{"A": "NeverBuild"}},
			wantErr: "skipped units",
		},
		{
			name:    "missing error",
			expect:  ExpectClause{Error: "LOAD_ORDER_CYCLE"},
			wantErr: "expected error LOAD_ORDER_CYCLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expect := tt.expect
			result, err := Run(t.Context(), chainScenario(RunStep{Expect: &expect}))
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.wantErr)
		})
	}
}

func TestRun_UnexpectedRuntimeError(t *testing.T) {
	scenario := &Scenario{
		Name:        "cycle",
		Description: "cycle",
		Manifest: `
session: platforms: ["win64"]
unit: "A": {type: "mesh", hard: ["B"]}
unit: "B": {type: "mesh", hard: ["A"]}
`,
		Runs: []RunStep{{Name: "strict", StrictOrder: true}},
	}

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "LOAD_ORDER_CYCLE", result.Runs[0].Error)
	assert.Contains(t, result.Errors[0], "unexpected error")
	assert.Empty(t, result.Trace)
}

func TestRun_DisableIncremental(t *testing.T) {
	off := false
	scenario := chainScenario(
		RunStep{Record: true},
		RunStep{Incremental: &off, Expect: &ExpectClause{Build: []string{"C", "B", "A"}}},
	)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_ExecutionErrors(t *testing.T) {
	t.Run("bad manifest", func(t *testing.T) {
		s := chainScenario(RunStep{})
		s.Manifest = `unit: "A": {type: "mesh"}`
		_, err := Run(t.Context(), s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to compile manifest")
	})

	t.Run("matching prior for undeclared unit", func(t *testing.T) {
		s := chainScenario(RunStep{})
		s.Prior = []PriorAttachment{{Unit: "Nope", Platform: "win64", Matching: true}}
		_, err := Run(t.Context(), s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to seed")
	})

	t.Run("source edit of undeclared unit", func(t *testing.T) {
		s := chainScenario(RunStep{Name: "edit", Sources: map[string]string{"Nope": "x"}})
		_, err := Run(t.Context(), s)
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "run edit:"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, chainScenario(RunStep{}))
		require.Error(t, err)
	})
}

func TestRun_FinalStateAssertion(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantPass  bool
		wantErr   string
	}{
		{
			name: "row matches",
			assertion: Assertion{
				Type:   AssertFinalState,
				Where:  map[string]interface{}{"name": "A", "platform": "win64"},
				Expect: map[string]interface{}{"seq": 3, "runtime_dependencies": `["B"]`},
			},
			wantPass: true,
		},
		{
			name: "row not found",
			assertion: Assertion{
				Type:   AssertFinalState,
				Where:  map[string]interface{}{"name": "Z"},
				Expect: map[string]interface{}{"seq": 1},
			},
			wantErr: "row not found",
		},
		{
			name: "ambiguous where",
			assertion: Assertion{
				Type:   AssertFinalState,
				Where:  map[string]interface{}{"platform": "win64"},
				Expect: map[string]interface{}{"seq": 1},
			},
			wantErr: "multiple rows matched",
		},
		{
			name: "value mismatch",
			assertion: Assertion{
				Type:   AssertFinalState,
				Where:  map[string]interface{}{"name": "C"},
				Expect: map[string]interface{}{"commit_status": "failed"},
			},
			wantErr: `column "commit_status"`,
		},
		{
			name: "missing column",
			assertion: Assertion{
				Type:   AssertFinalState,
				Where:  map[string]interface{}{"name": "C"},
				Expect: map[string]interface{}{"owner": "x"},
			},
			wantErr: "not present in result columns",
		},
		{
			name: "invalid column",
			assertion: Assertion{
				Type:   AssertFinalState,
				Where:  map[string]interface{}{"name; DROP TABLE attachments": "C"},
				Expect: map[string]interface{}{"seq": 1},
			},
			wantErr: "invalid column name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := chainScenario(RunStep{Record: true})
			s.Assertions = []Assertion{tt.assertion}

			result, err := Run(t.Context(), s)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPass, result.Pass, result.Errors)
			if tt.wantErr != "" {
				require.Len(t, result.Errors, 1)
				assert.Contains(t, result.Errors[0], tt.wantErr)
			}
		})
	}
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
