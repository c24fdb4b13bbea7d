package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no active row exists for a name.
// Distinct from I/O failures so callers can tell "absent" from "broken".
var ErrNotFound = errors.New("tool not found")

// ErrVersionConflict is returned when a compare-and-set write observed a
// version other than the one it expected. The caller lost a race.
var ErrVersionConflict = errors.New("tool version conflict")

type Tool struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Script      string    `json:"script"`
	Icon        []byte    `json:"icon,omitempty"`
	Version     int       `json:"version"`
	Checksum    string    `json:"checksum"`
	Author      string    `json:"author"`
	LifecycleID string    `json:"lifecycle_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToolSummary is the list-view projection: no script or icon payload.
type ToolSummary struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Version   int       `json:"version"`
	Author    string    `json:"author"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Revision is one immutable entry in a tool's append-only history.
type Revision struct {
	Name        string    `json:"name"`
	LifecycleID string    `json:"lifecycle_id"`
	Version     int       `json:"version"`
	Label       string    `json:"label"`
	Checksum    string    `json:"checksum"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
}

type PutToolInput struct {
	Name        string
	Label       string
	Script      string
	Icon        []byte
	Checksum    string
	Author      string
	LifecycleID string
	// ExpectedVersion is the version the caller read before deciding to
	// write. 0 means "no row exists yet" (insert). The write lands only if
	// the stored version still matches.
	ExpectedVersion int
}

const toolColumns = `name, label, script, icon, version, checksum, author, lifecycle_id, created_at, updated_at`

// timeFormat is how timestamps are stored. Plain text round-trips through
// the driver without datetime-affinity surprises.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime rejects timestamps the store did not write itself; a corrupted
// column is a storage failure, not a silently-zero time.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func scanTool(s interface{ Scan(...any) error }) (*Tool, error) {
	t := &Tool{}
	var createdAt, updatedAt string
	err := s.Scan(
		&t.Name, &t.Label, &t.Script, &t.Icon, &t.Version,
		&t.Checksum, &t.Author, &t.LifecycleID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTool returns the active definition for name, or ErrNotFound.
func (db *DB) GetTool(ctx context.Context, name string) (*Tool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE name = ?`, name)
	t, err := scanTool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting tool %q: %w", name, err)
	}
	return t, nil
}

// PutTool writes a new revision of a tool atomically. The row upsert and the
// history append happen in one transaction: concurrent readers see either the
// whole new revision or none of it.
func (db *DB) PutTool(ctx context.Context, in PutToolInput) (*Tool, error) {
	now := time.Now()
	newVersion := in.ExpectedVersion + 1

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning tool write: %w", err)
	}
	defer tx.Rollback()

	if in.ExpectedVersion == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tools (name, label, script, icon, version, checksum, author, lifecycle_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`,
			in.Name, in.Label, in.Script, in.Icon, in.Checksum, in.Author,
			in.LifecycleID, formatTime(now), formatTime(now))
		if err != nil {
			// A racing creator got there first; the PK violation is the CAS miss.
			var one int
			if checkErr := tx.QueryRowContext(ctx,
				`SELECT 1 FROM tools WHERE name = ?`, in.Name).Scan(&one); checkErr == nil {
				return nil, ErrVersionConflict
			}
			return nil, fmt.Errorf("inserting tool %q: %w", in.Name, err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE tools
			SET label = ?, script = ?, icon = ?, version = ?, checksum = ?, author = ?, updated_at = ?
			WHERE name = ? AND version = ?`,
			in.Label, in.Script, in.Icon, newVersion, in.Checksum, in.Author,
			formatTime(now), in.Name, in.ExpectedVersion)
		if err != nil {
			return nil, fmt.Errorf("updating tool %q: %w", in.Name, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("updating tool %q: %w", in.Name, err)
		}
		if affected == 0 {
			return nil, ErrVersionConflict
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tool_revisions (name, lifecycle_id, version, label, script, icon, checksum, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.LifecycleID, newVersion, in.Label, in.Script, in.Icon,
		in.Checksum, in.Author, formatTime(now)); err != nil {
		return nil, fmt.Errorf("appending revision for %q: %w", in.Name, err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE name = ?`, in.Name)
	t, err := scanTool(row)
	if err != nil {
		return nil, fmt.Errorf("reading back tool %q: %w", in.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing tool write: %w", err)
	}
	return t, nil
}

// DeleteTool removes the active row. Revision history is kept.
func (db *DB) DeleteTool(ctx context.Context, name string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM tools WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting tool %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting tool %q: %w", name, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTools returns summaries of all active tools, name ascending. The
// result is never nil: an empty registry serializes as a JSON array, not
// null, so list clients can iterate unconditionally.
func (db *DB) ListTools(ctx context.Context) ([]ToolSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, label, version, author, updated_at
		FROM tools
		ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer rows.Close()

	out := []ToolSummary{}
	for rows.Next() {
		var s ToolSummary
		var updatedAt string
		if err := rows.Scan(&s.Name, &s.Label, &s.Version, &s.Author, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning tool summary: %w", err)
		}
		if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("scanning tool summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	return out, nil
}

// ListRevisions returns the full history for a name, newest first, across
// all lifecycles the name has had.
func (db *DB) ListRevisions(ctx context.Context, name string) ([]Revision, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, lifecycle_id, version, label, checksum, author, created_at
		FROM tool_revisions
		WHERE name = ?
		ORDER BY id DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("listing revisions for %q: %w", name, err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		var createdAt string
		if err := rows.Scan(&r.Name, &r.LifecycleID, &r.Version, &r.Label, &r.Checksum, &r.Author, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing revisions for %q: %w", name, err)
	}
	return out, nil
}

// CountTools returns the number of active tools. Used by the health endpoint
// as a cheap liveness probe against the storage layer.
func (db *DB) CountTools(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tools: %w", err)
	}
	return n, nil
}
