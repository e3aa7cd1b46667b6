// Package entries provides PostgreSQL-backed repositories for server-side
// entry persistence and sync queries.
package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
)

// PostgresRepository implements entry storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `id, workspace_id, type, parent_id, root_id, state, created_by, created_at,
	updated_by, updated_at, version, revision, deleted_at`

func scan(row interface{ Scan(...any) error }) (*models.Entry, error) {
	var (
		e                   models.Entry
		typ                 string
		parentID, updatedBy sql.NullString
		updatedAt, deleted  sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.WorkspaceID, &typ, &parentID, &e.RootID, &e.State, &e.CreatedBy, &e.CreatedAt,
		&updatedBy, &updatedAt, &e.Version, &e.Revision, &deleted); err != nil {
		return nil, err
	}
	e.Type = domain.EntryType(typ)
	if parentID.Valid {
		p := parentID.String
		e.ParentID = &p
	}
	e.UpdatedBy = updatedBy.String
	if updatedAt.Valid {
		t := updatedAt.Time
		e.UpdatedAt = &t
	}
	if deleted.Valid {
		t := deleted.Time
		e.DeletedAt = &t
		e.Deleted = true
	}
	return &e, nil
}

func (r *PostgresRepository) get(ctx context.Context, query, id string) (*models.Entry, error) {
	e, err := scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Entry, error) {
	return r.get(ctx, `SELECT `+columns+` FROM entries WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Entry, error) {
	return r.get(ctx, `SELECT `+columns+` FROM entries WHERE id = $1 FOR UPDATE`, id)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.Entry) error {
	query := `
		INSERT INTO entries (id, workspace_id, type, parent_id, root_id, state, created_by, created_at,
			updated_by, updated_at, version, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING revision
	`
	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.WorkspaceID, string(e.Type), nullString(e.Parent()), e.RootID, e.State, e.CreatedBy, e.CreatedAt,
		nullString(e.UpdatedBy), e.UpdatedAt, e.Version, e.DeletedAt).Scan(&e.Revision)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, e *models.Entry) error {
	query := `
		UPDATE entries SET
			state = $2,
			updated_by = $3,
			updated_at = $4,
			version = $5,
			deleted_at = $6,
			revision = nextval('revisions')
		WHERE id = $1
		RETURNING revision
	`
	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.State, nullString(e.UpdatedBy), e.UpdatedAt, e.Version, e.DeletedAt).Scan(&e.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Parent(ctx context.Context, id string) (string, error) {
	var parent sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT parent_id FROM entries WHERE id = $1`, id).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrEntryNotFound
	}
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return parent.String, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []models.Entry
	for rows.Next() {
		e, err := scan(rows)
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

func (r *PostgresRepository) ListSince(ctx context.Context, workspaceID string, after int64, limit int) ([]models.Entry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM entries
		WHERE workspace_id = $1 AND revision > $2
		ORDER BY revision
		LIMIT $3`, workspaceID, after, limit)
}

func (r *PostgresRepository) ListByRoot(ctx context.Context, rootID string) ([]models.Entry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM entries
		WHERE root_id = $1
		ORDER BY revision`, rootID)
}

func (r *PostgresRepository) ListTombstoned(ctx context.Context, before time.Time, limit int) ([]models.Entry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM entries
		WHERE deleted_at IS NOT NULL AND deleted_at < $1
		ORDER BY deleted_at
		LIMIT $2`, before, limit)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrEntryNotFound
	}
	return nil
}
