package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/kiln/internal/unit"
)

// Record is a stored attachment with its storage metadata.
type Record struct {
	Name       string
	Platform   string
	Attachment unit.Attachment
	// Seq is the writer's logical clock value, never wall time.
	Seq int64
	// RecordedBy is the cluster that produced the build, if known.
	RecordedBy string
}

// RecordAttachment inserts or replaces the attachment for (name, platform).
// Only the most recent build outcome is kept.
func (s *Store) RecordAttachment(ctx context.Context, rec Record) error {
	return s.recordAttachment(ctx, s.db, rec)
}

// RecordAttachments writes a set of attachments in one transaction.
// Either every record is written or none is.
func (s *Store) RecordAttachments(ctx context.Context, recs []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record attachments: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, rec := range recs {
		if err := s.recordAttachment(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record attachments: commit: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) recordAttachment(ctx context.Context, db execer, rec Record) error {
	if rec.Name == "" || rec.Platform == "" {
		return fmt.Errorf("record attachment: name and platform are required")
	}
	att := rec.Attachment
	switch att.CommitStatus {
	case unit.CommitSuccess, unit.CommitFailed:
	default:
		return fmt.Errorf("record attachment %s/%s: invalid commit status %q", rec.Name, rec.Platform, att.CommitStatus)
	}

	buildDeps, err := marshalNames(att.BuildDependencies)
	if err != nil {
		return fmt.Errorf("record attachment: %w", err)
	}
	runtimeDeps, err := marshalNames(att.RuntimeDependencies)
	if err != nil {
		return fmt.Errorf("record attachment: %w", err)
	}
	defs, err := compressDefinitions(att.BuildDefinitions)
	if err != nil {
		return fmt.Errorf("record attachment: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO attachments
		(name, platform, content_hash, build_dependencies, runtime_dependencies, build_definitions, commit_status, seq, recorded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, platform) DO UPDATE SET
			content_hash = excluded.content_hash,
			build_dependencies = excluded.build_dependencies,
			runtime_dependencies = excluded.runtime_dependencies,
			build_definitions = excluded.build_definitions,
			commit_status = excluded.commit_status,
			seq = excluded.seq,
			recorded_by = excluded.recorded_by
	`,
		rec.Name,
		rec.Platform,
		att.ContentHash,
		buildDeps,
		runtimeDeps,
		defs,
		string(att.CommitStatus),
		rec.Seq,
		rec.RecordedBy,
	)
	if err != nil {
		return fmt.Errorf("record attachment: %w", err)
	}
	return nil
}

// DeleteAttachment removes the attachment for (name, platform).
// Returns false if there was none.
func (s *Store) DeleteAttachment(ctx context.Context, name, platform string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM attachments WHERE name = ? AND platform = ?
	`, name, platform)
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	return n > 0, nil
}
