package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const chainManifest = `package kiln

session: platforms: ["win64"]

unit: "A": {type: "mesh", source: "a1", hard: ["B"]}
unit: "B": {type: "mesh", source: "b1", hard: ["C"], build: ["C"], defines: ["LOD=1"]}
unit: "C": {type: "texture", source: "c1"}
`

// writeManifest writes a single-file manifest into a fresh directory.
func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "units.cue"), []byte(content), 0644))
	return dir
}

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
