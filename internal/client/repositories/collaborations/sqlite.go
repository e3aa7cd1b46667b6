package collaborations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `entry_id, user_id, workspace_id, role, created_at, updated_at, deleted_at, version`

func scan(row interface{ Scan(...any) error }) (*models.Collaboration, error) {
	var (
		c                    models.Collaboration
		role                 string
		createdAt, updatedAt int64
		deletedAt            sql.NullInt64
	)
	if err := row.Scan(&c.EntryID, &c.UserID, &c.WorkspaceID, &role, &createdAt, &updatedAt, &deletedAt, &c.Version); err != nil {
		return nil, err
	}
	c.Role = models.Role(role)
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64).UTC()
		c.DeletedAt = &t
	}
	return &c, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, entryID, userID string) (*models.Collaboration, error) {
	c, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM collaborations
		WHERE entry_id = ? AND user_id = ?`, entryID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collaboration: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, c *models.Collaboration) error {
	var deletedAt *int64
	if c.DeletedAt != nil {
		ms := c.DeletedAt.UnixMilli()
		deletedAt = &ms
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO collaborations (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id, user_id) DO UPDATE SET
			role = excluded.role,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			version = excluded.version
		WHERE excluded.version > collaborations.version`,
		c.EntryID, c.UserID, c.WorkspaceID, string(c.Role), c.CreatedAt.UnixMilli(),
		c.UpdatedAt.UnixMilli(), deletedAt, c.Version)
	if err != nil {
		return fmt.Errorf("failed to upsert collaboration: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrVersionConflict
	}
	return nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, workspaceID, userID string) ([]models.Collaboration, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM collaborations
		WHERE workspace_id = ? AND user_id = ? ORDER BY entry_id`, workspaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select collaborations: %w", err)
	}
	defer rows.Close()

	var result []models.Collaboration
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) DeleteByEntries(ctx context.Context, entryIDs []string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	args := make([]any, len(entryIDs))
	for i, id := range entryIDs {
		args[i] = id
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(entryIDs)), ",")
	res, err := r.db.ExecContext(ctx, `DELETE FROM collaborations WHERE entry_id IN (`+in+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete collaborations: %w", err)
	}
	return res.RowsAffected()
}
