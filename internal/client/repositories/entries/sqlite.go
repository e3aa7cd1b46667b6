package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `id, workspace_id, type, parent_id, root_id, state, attributes,
	created_by, created_at, updated_by, updated_at, local_version, server_version, deleted`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		e         models.Entry
		typ       string
		parentID  sql.NullString
		attrs     string
		createdAt int64
		updatedBy sql.NullString
		updatedAt sql.NullInt64
		serverVer sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.WorkspaceID, &typ, &parentID, &e.RootID, &e.State, &attrs,
		&e.CreatedBy, &createdAt, &updatedBy, &updatedAt, &e.LocalVersion, &serverVer, &e.Deleted)
	if err != nil {
		return nil, err
	}
	e.Type = models.EntryType(typ)
	if parentID.Valid {
		e.ParentID = &parentID.String
	}
	e.Attributes = []byte(attrs)
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.UpdatedBy = updatedBy.String
	if updatedAt.Valid {
		t := time.UnixMilli(updatedAt.Int64).UTC()
		e.UpdatedAt = &t
	}
	if serverVer.Valid {
		e.ServerVersion = &serverVer.Int64
	}
	return &e, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.Entry) error {
	var updatedAt *int64
	if e.UpdatedAt != nil {
		ms := e.UpdatedAt.UnixMilli()
		updatedAt = &ms
	}
	query := `INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			parent_id = excluded.parent_id,
			root_id = excluded.root_id,
			state = excluded.state,
			attributes = excluded.attributes,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at,
			local_version = excluded.local_version,
			server_version = excluded.server_version,
			deleted = excluded.deleted`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.WorkspaceID, string(e.Type), e.ParentID, e.RootID, e.State, string(e.Attributes),
		e.CreatedBy, e.CreatedAt.UnixMilli(), nullable(e.UpdatedBy), updatedAt,
		e.LocalVersion, e.ServerVersion, e.Deleted)
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarkDeleted tombstones a live entry. It expects exactly one row to be affected.
func (r *SQLiteRepository) MarkDeleted(ctx context.Context, id, by string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE entries
		SET deleted = 1, updated_by = ?, updated_at = ?, local_version = local_version + 1
		WHERE id = ? AND deleted = 0`, by, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return common.ErrEntryNotFound
	}
	return nil
}

// SetServerVersion never lowers a recorded server version.
func (r *SQLiteRepository) SetServerVersion(ctx context.Context, id string, version int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE entries SET server_version = ?
		WHERE id = ? AND (server_version IS NULL OR server_version < ?)`, version, id, version)
	if err != nil {
		return fmt.Errorf("failed to set server version: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Parent(ctx context.Context, id string) (string, error) {
	var parent sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT parent_id FROM entries WHERE id = ?`, id).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrEntryNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get parent of %s: %w", id, err)
	}
	return parent.String, nil
}

func (r *SQLiteRepository) Descendants(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT ?
			UNION
			SELECT e.id FROM entries e JOIN tree t ON e.parent_id = t.id
		)
		SELECT id FROM tree`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select descendants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		ids = append(ids, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *SQLiteRepository) List(ctx context.Context, workspaceID string) ([]models.Entry, error) {
	return r.query(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE workspace_id = ? AND deleted = 0 ORDER BY created_at, id`, workspaceID)
}

func (r *SQLiteRepository) Children(ctx context.Context, parentID string) ([]models.Entry, error) {
	return r.query(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE parent_id = ? AND deleted = 0 ORDER BY created_at, id`, parentID)
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
