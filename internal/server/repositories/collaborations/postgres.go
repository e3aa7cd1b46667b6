// Package collaborations persists role grants on the server.
package collaborations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `entry_id, user_id, workspace_id, role, created_at, updated_at, deleted_at, version, revision`

func scan(row interface{ Scan(...any) error }) (*models.Collaboration, error) {
	var (
		c       models.Collaboration
		role    string
		deleted sql.NullTime
	)
	if err := row.Scan(&c.EntryID, &c.UserID, &c.WorkspaceID, &role, &c.CreatedAt, &c.UpdatedAt, &deleted,
		&c.Version, &c.Revision); err != nil {
		return nil, err
	}
	c.Role = domain.Role(role)
	if deleted.Valid {
		t := deleted.Time
		c.DeletedAt = &t
	}
	return &c, nil
}

func (r *PostgresRepository) Get(ctx context.Context, entryID, userID string) (*models.Collaboration, error) {
	c, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM collaborations
		WHERE entry_id = $1 AND user_id = $2`, entryID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]models.Collaboration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
	return result, rows.Err()
}

func (r *PostgresRepository) ListByEntry(ctx context.Context, entryID string) ([]models.Collaboration, error) {
	return r.list(ctx, `SELECT `+columns+` FROM collaborations WHERE entry_id = $1 ORDER BY user_id`, entryID)
}

func (r *PostgresRepository) ListSince(ctx context.Context, userID, workspaceID string, after int64, limit int) ([]models.Collaboration, error) {
	return r.list(ctx, `SELECT `+columns+` FROM collaborations
		WHERE user_id = $1 AND workspace_id = $2 AND revision > $3
		ORDER BY revision
		LIMIT $4`, userID, workspaceID, after, limit)
}

func (r *PostgresRepository) Upsert(ctx context.Context, c *models.Collaboration) error {
	query := `
		INSERT INTO collaborations (entry_id, user_id, workspace_id, role, created_at, updated_at, deleted_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entry_id, user_id)
		DO UPDATE SET
			role = EXCLUDED.role,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at,
			version = EXCLUDED.version,
			revision = nextval('revisions')
			WHERE collaborations.version < EXCLUDED.version
		RETURNING revision
	`
	err := r.db.QueryRowContext(ctx, query, c.EntryID, c.UserID, c.WorkspaceID, string(c.Role), c.CreatedAt,
		c.UpdatedAt, c.DeletedAt, c.Version).Scan(&c.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UsersByRoot(ctx context.Context, rootID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT c.user_id FROM collaborations c
		JOIN entries e ON e.id = c.entry_id
		WHERE e.root_id = $1
		ORDER BY c.user_id`, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to select users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *PostgresRepository) DeleteByEntry(ctx context.Context, entryID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM collaborations WHERE entry_id = $1`, entryID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
