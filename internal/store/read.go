package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/kiln/internal/unit"
)

// ErrNotFound is returned when no attachment exists for a unit and platform.
var ErrNotFound = errors.New("attachment not found")

// maxQueryNames bounds the names bound into one IN clause, below SQLite's
// default host parameter limit.
const maxQueryNames = 500

const attachmentColumns = `name, platform, content_hash, build_dependencies, runtime_dependencies,
		build_definitions, commit_status, seq, recorded_by`

// GetAttachment returns the attachment for (name, platform) or ErrNotFound.
func (s *Store) GetAttachment(ctx context.Context, name, platform string) (*unit.Attachment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+attachmentColumns+`
		FROM attachments
		WHERE name = ? AND platform = ?
	`, name, platform)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec.Attachment, nil
}

// ListAttachments returns every stored record for a platform, or for all
// platforms when platform is empty.
// Results are ordered deterministically: ORDER BY name COLLATE BINARY, platform.
//
// Returns an empty slice (not nil) if nothing is stored.
func (s *Store) ListAttachments(ctx context.Context, platform string) ([]Record, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments`
	var args []any
	if platform != "" {
		query += ` WHERE platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY name COLLATE BINARY ASC, platform COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return records, nil
}

// MaxSeq returns the highest recorded seq, or 0 for an empty store.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM attachments`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}

// readAttachments loads the attachments of the named units for one platform.
// Units without an attachment are absent from the result.
func (s *Store) readAttachments(ctx context.Context, names []string, platform string) (map[string]*unit.Attachment, error) {
	out := make(map[string]*unit.Attachment, len(names))
	for start := 0; start < len(names); start += maxQueryNames {
		chunk := names[start:min(start+maxQueryNames, len(names))]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, platform)
		for _, name := range chunk {
			args = append(args, name)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := s.db.QueryContext(ctx, `
			SELECT `+attachmentColumns+`
			FROM attachments
			WHERE platform = ? AND name IN (`+placeholders+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("query attachments: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			att := rec.Attachment
			out[rec.Name] = &att
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate attachments: %w", err)
		}
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec         Record
		buildDeps   string
		runtimeDeps string
		defs        []byte
		status      string
	)
	err := row.Scan(
		&rec.Name,
		&rec.Platform,
		&rec.Attachment.ContentHash,
		&buildDeps,
		&runtimeDeps,
		&defs,
		&status,
		&rec.Seq,
		&rec.RecordedBy,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan attachment: %w", err)
	}

	if rec.Attachment.BuildDependencies, err = unmarshalNames(buildDeps); err != nil {
		return Record{}, fmt.Errorf("attachment %s/%s: %w", rec.Name, rec.Platform, err)
	}
	if rec.Attachment.RuntimeDependencies, err = unmarshalNames(runtimeDeps); err != nil {
		return Record{}, fmt.Errorf("attachment %s/%s: %w", rec.Name, rec.Platform, err)
	}
	if rec.Attachment.BuildDefinitions, err = decompressDefinitions(defs); err != nil {
		return Record{}, fmt.Errorf("attachment %s/%s: %w", rec.Name, rec.Platform, err)
	}
	rec.Attachment.CommitStatus = unit.CommitStatus(status)
	return rec, nil
}
