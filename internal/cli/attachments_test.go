package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attachmentsResponse struct {
	Status string           `json:"status"`
	Data   []AttachmentView `json:"data"`
	Error  *CLIError        `json:"error"`
}

// recordedDatabase plans the chain manifest once with --record.
func recordedDatabase(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "kiln.db")
	_, _, err := execute(t, "plan", "--db", db, "--record", writeManifest(t, chainManifest))
	require.NoError(t, err)
	return db
}

func TestAttachments_JSON(t *testing.T) {
	db := recordedDatabase(t)

	out, _, err := execute(t, "attachments", "--format", "json", "--db", db)
	require.NoError(t, err)

	var resp attachmentsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 3)

	names := []string{resp.Data[0].Name, resp.Data[1].Name, resp.Data[2].Name}
	assert.Equal(t, []string{"A", "B", "C"}, names)

	b := resp.Data[1]
	assert.Equal(t, "win64", b.Platform)
	assert.Equal(t, "success", b.CommitStatus)
	assert.Equal(t, []string{"C"}, b.BuildDependencies)
	assert.NotEmpty(t, b.ContentHash)
	assert.NotEmpty(t, b.RecordedBy)
	assert.Equal(t, []string{"B"}, resp.Data[0].RuntimeDependencies)
	assert.Equal(t, []string{}, resp.Data[2].BuildDependencies)
	assert.Equal(t, []string{"LOD=1", "PLATFORM=win64"}, b.BuildDefinitions)
	assert.Equal(t, []string{"PLATFORM=win64"}, resp.Data[2].BuildDefinitions)
}

func TestAttachments_Filters(t *testing.T) {
	db := recordedDatabase(t)

	out, _, err := execute(t, "attachments", "--format", "json", "--db", db, "--unit", "C", "--unit", "A")
	require.NoError(t, err)
	var resp attachmentsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "A", resp.Data[0].Name)
	assert.Equal(t, "C", resp.Data[1].Name)

	out, _, err = execute(t, "attachments", "--format", "json", "--db", db, "--platform", "ps5")
	require.NoError(t, err)
	resp = attachmentsResponse{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data)
}

func TestAttachments_Text(t *testing.T) {
	db := recordedDatabase(t)

	out, _, err := execute(t, "attachments", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "3 attachment(s):")
	assert.Contains(t, out, "B [win64] seq=1 success")
	assert.Contains(t, out, "  build: C")
	assert.Contains(t, out, "  defines: LOD=1 PLATFORM=win64")
}

func TestAttachments_MissingDatabase(t *testing.T) {
	out, _, err := execute(t, "attachments", "--format", "json", "--db", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp attachmentsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E005", resp.Error.Code)
}

func TestAttachments_RequiresDatabase(t *testing.T) {
	_, _, err := execute(t, "attachments")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}
