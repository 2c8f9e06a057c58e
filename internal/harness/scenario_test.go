package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validScenario = `
name: test_scenario
description: "Test scenario for validation"
manifest: |
  session: platforms: ["win64"]
  unit: "A": {type: "mesh"}
runs:
  - record: true
  - name: again
    expect:
      build: []
assertions:
  - type: trace_contains
    unit: A
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Contains(t, scenario.Manifest, `unit: "A"`)
	require.Len(t, scenario.Runs, 2)
	assert.Equal(t, "run-1", scenario.Runs[0].Name)
	assert.True(t, scenario.Runs[0].Record)
	assert.Equal(t, "again", scenario.Runs[1].Name)
	require.NotNil(t, scenario.Runs[1].Expect)
	assert.NotNil(t, scenario.Runs[1].Expect.Build, "an empty build list is checked")
	assert.Empty(t, scenario.Runs[1].Expect.Build)
	assert.Nil(t, scenario.Runs[1].Expect.Skip)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Errors(t *testing.T) {
	const head = "name: s\ndescription: d\nmanifest: m\n"
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"malformed", "name: [", "failed to parse YAML"},
		{"unknown field", head + "runs: [{}]\nassertion: []\n", "failed to parse YAML"},
		{"missing name", "description: d\nmanifest: m\nruns: [{}]\n", "name is required"},
		{"missing description", "name: s\nmanifest: m\nruns: [{}]\n", "description is required"},
		{"missing manifest", "name: s\ndescription: d\nruns: [{}]\n", "manifest is required"},
		{"missing runs", head, "runs list is required"},
		{"prior without unit", head + "runs: [{}]\nprior: [{platform: win64, matching: true}]\n", "prior[0]: unit is required"},
		{"prior without platform", head + "runs: [{}]\nprior: [{unit: A, matching: true}]\n", "prior[0]: platform is required"},
		{"prior without hash", head + "runs: [{}]\nprior: [{unit: A, platform: win64}]\n", "one of matching or hash"},
		{"prior bad status", head + "runs: [{}]\nprior: [{unit: A, platform: win64, hash: h, status: maybe}]\n", "unknown status"},
		{"duplicate run", head + "runs: [{name: x}, {name: x}]\n", "duplicate run name"},
		{"default name collision", head + "runs: [{name: run-2}, {}]\n", "duplicate run name"},
		{"assertion without type", head + "runs: [{}]\nassertions: [{unit: A}]\n", "type is required"},
		{"assertion unknown type", head + "runs: [{}]\nassertions: [{type: nope}]\n", "unknown assertion type"},
		{"assertion unknown run", head + "runs: [{}]\nassertions: [{type: trace_contains, unit: A, run: x}]\n", "unknown run"},
		{"assertion unknown kind", head + "runs: [{}]\nassertions: [{type: trace_contains, unit: A, kind: cook}]\n", "unknown kind"},
		{"contains without unit", head + "runs: [{}]\nassertions: [{type: trace_contains}]\n", "unit is required"},
		{"order without units", head + "runs: [{}]\nassertions: [{type: trace_order}]\n", "units list is required"},
		{"negative count", head + "runs: [{}]\nassertions: [{type: trace_count, count: -1}]\n", "non-negative"},
		{"final state without where", head + "runs: [{}]\nassertions: [{type: final_state, expect: {seq: 1}}]\n", "where is required"},
		{"final state without expect", head + "runs: [{}]\nassertions: [{type: final_state, where: {name: A}}]\n", "expect is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_IncrementalOverride(t *testing.T) {
	s, err := ParseScenario([]byte("name: s\ndescription: d\nmanifest: m\nruns: [{incremental: false}, {}]\n"))
	require.NoError(t, err)
	require.NotNil(t, s.Runs[0].Incremental)
	assert.False(t, *s.Runs[0].Incremental)
	assert.Nil(t, s.Runs[1].Incremental)
}
