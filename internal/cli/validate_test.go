package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validateResponse struct {
	Status string           `json:"status"`
	Data   ValidationResult `json:"data"`
	Error  *CLIError        `json:"error"`
}

func decodeValidate(t *testing.T, out string) validateResponse {
	t.Helper()
	var resp validateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestValidate_Valid(t *testing.T) {
	dir := writeManifest(t, chainManifest)

	out, _, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Manifest valid (3 units)")

	out, _, err = execute(t, "validate", "--format", "json", dir)
	require.NoError(t, err)
	resp := decodeValidate(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Units)
	assert.Empty(t, resp.Data.Warnings)
	assert.Empty(t, resp.Data.Missing)
}

func TestValidate_Warnings(t *testing.T) {
	dir := writeManifest(t, `package kiln

session: platforms: ["win64"]

unit: "A": {type: "mesh", hard: ["B"]}
unit: "B": {type: "mesh", hard: ["A", "Ghost"]}
`)

	out, _, err := execute(t, "validate", "--format", "json", dir)
	require.NoError(t, err, "warnings do not fail validation")

	resp := decodeValidate(t, out)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Warnings, 1)
	assert.Equal(t, "load", resp.Data.Warnings[0].Kind)
	assert.Equal(t, []string{"Ghost"}, resp.Data.Missing)

	out, _, err = execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "warning: load dependency cycle")
	assert.Contains(t, out, "warning: undeclared dependencies: Ghost")
}

func TestValidate_CollectsUnitErrors(t *testing.T) {
	dir := writeManifest(t, `package kiln

session: platforms: ["win64"]

unit: "A": {source: "a"}
unit: "B": {type: "mesh"}
unit: "C": {source: "c"}
`)

	out, _, err := execute(t, "validate", "--format", "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeValidate(t, out)
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, 1, resp.Data.Units)
	require.Len(t, resp.Data.Errors, 2)
	for _, issue := range resp.Data.Errors {
		assert.Equal(t, "E112", issue.Code)
	}
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E112", resp.Error.Code)

	out, _, err = execute(t, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E112")
}

func TestValidate_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
		code string
	}{
		{
			name: "missing directory",
			dir:  func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
			code: "E005",
		},
		{
			name: "no cue files",
			dir:  func(t *testing.T) string { return t.TempDir() },
			code: "E003",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, "validate", "--format", "json", tt.dir(t))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			resp := decodeValidate(t, out)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}
