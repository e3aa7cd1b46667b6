// Package interactions persists read state on the server.
package interactions

import (
	"context"
	"database/sql"
	"fmt"

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

const columns = `entry_id, user_id, workspace_id, last_seen_at, last_opened_at, last_seen_version, version, revision`

func scan(row interface{ Scan(...any) error }) (*models.Interaction, error) {
	var (
		i            models.Interaction
		seen, opened sql.NullTime
	)
	if err := row.Scan(&i.EntryID, &i.UserID, &i.WorkspaceID, &seen, &opened, &i.LastSeenVersion, &i.Version,
		&i.Revision); err != nil {
		return nil, err
	}
	if seen.Valid {
		t := seen.Time
		i.LastSeenAt = &t
	}
	if opened.Valid {
		t := opened.Time
		i.LastOpenedAt = &t
	}
	return &i, nil
}

func (r *PostgresRepository) Merge(ctx context.Context, in *domain.Interaction) (*models.Interaction, error) {
	query := `
		INSERT INTO interactions (entry_id, user_id, workspace_id, last_seen_at, last_opened_at, last_seen_version, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (entry_id, user_id)
		DO UPDATE SET
			last_seen_at = GREATEST(interactions.last_seen_at, EXCLUDED.last_seen_at),
			last_opened_at = GREATEST(interactions.last_opened_at, EXCLUDED.last_opened_at),
			last_seen_version = GREATEST(interactions.last_seen_version, EXCLUDED.last_seen_version),
			version = interactions.version + 1,
			revision = nextval('revisions')
		RETURNING ` + columns

	out, err := scan(r.db.QueryRowContext(ctx, query, in.EntryID, in.UserID, in.WorkspaceID, in.LastSeenAt,
		in.LastOpenedAt, in.LastSeenVersion))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListSince(ctx context.Context, userID, workspaceID string, after int64, limit int) ([]models.Interaction, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM interactions
		WHERE user_id = $1 AND workspace_id = $2 AND revision > $3
		ORDER BY revision
		LIMIT $4`, userID, workspaceID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select interactions: %w", err)
	}
	defer rows.Close()

	var result []models.Interaction
	for rows.Next() {
		i, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *i)
	}
	return result, rows.Err()
}

func (r *PostgresRepository) DeleteByEntry(ctx context.Context, entryID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM interactions WHERE entry_id = $1`, entryID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
