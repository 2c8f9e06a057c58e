package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/kiln/internal/unit"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a successful attachment record.
func createTestRecord(name, platform string, seq int64, buildDeps ...string) Record {
	return Record{
		Name:     name,
		Platform: platform,
		Attachment: unit.Attachment{
			ContentHash:       "hash-" + name,
			BuildDependencies: buildDeps,
			CommitStatus:      unit.CommitSuccess,
		},
		Seq:        seq,
		RecordedBy: "test-cluster",
	}
}
