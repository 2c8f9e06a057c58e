package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/harness"
)

const passingScenario = `name: chain
description: "A fresh chain builds leaves first"
manifest: |
  session: platforms: ["win64"]
  unit: "A": {type: "mesh", hard: ["B"]}
  unit: "B": {type: "mesh"}
runs:
  - expect:
      build: [B, A]
`

const failingScenario = `name: wrong_order
description: "Expects the wrong build order"
manifest: |
  session: platforms: ["win64"]
  unit: "A": {type: "mesh", hard: ["B"]}
  unit: "B": {type: "mesh"}
runs:
  - expect:
      build: [A, B]
`

type testResponse struct {
	Status string              `json:"status"`
	Data   harness.SuiteResult `json:"data"`
	Error  *CLIError           `json:"error"`
}

func writeScenarios(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestTestCommand_HarnessScenarios(t *testing.T) {
	out, _, err := execute(t, "test", filepath.Join("..", "harness", "testdata"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ chain_rebuild")
	assert.Contains(t, out, "✓ strict_cycle")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Filter(t *testing.T) {
	out, _, err := execute(t, "test", "--format", "json", "--filter", "chain_*", filepath.Join("..", "harness", "testdata"))
	require.NoError(t, err)

	var resp testResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "chain_rebuild", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_Failure(t *testing.T) {
	dir := writeScenarios(t, map[string]string{
		"chain.yaml":       passingScenario,
		"wrong_order.yaml": failingScenario,
	})

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ chain")
	assert.Contains(t, out, "✗ wrong_order")
	assert.Contains(t, out, "build order")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")

	out, _, err = execute(t, "test", "--format", "json", dir)
	require.Error(t, err)
	var resp testResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	dir := writeScenarios(t, map[string]string{"chain.yaml": passingScenario})

	out, _, err := execute(t, "test", "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")
	assert.FileExists(t, harness.GoldenPath(filepath.Join(dir, "chain.yaml")))

	out, _, err = execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ chain\n")
}

func TestTestCommand_Empty(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_CommandErrors(t *testing.T) {
	_, _, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "test", "--filter", "[bad", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
