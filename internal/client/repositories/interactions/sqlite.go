package interactions

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

const columns = `entry_id, user_id, workspace_id, last_seen_at, last_opened_at, last_seen_version, version`

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func scan(row interface{ Scan(...any) error }) (*models.Interaction, error) {
	var (
		i            models.Interaction
		seen, opened sql.NullInt64
	)
	if err := row.Scan(&i.EntryID, &i.UserID, &i.WorkspaceID, &seen, &opened, &i.LastSeenVersion, &i.Version); err != nil {
		return nil, err
	}
	i.LastSeenAt = fromMillis(seen)
	i.LastOpenedAt = fromMillis(opened)
	return &i, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, entryID, userID string) (*models.Interaction, error) {
	i, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM interactions
		WHERE entry_id = ? AND user_id = ?`, entryID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	return i, nil
}

// mergeSet keeps the later timestamp and the higher seen version, treating
// NULL as the epoch.
const mergeSet = `
	last_seen_at = NULLIF(max(coalesce(interactions.last_seen_at, 0), coalesce(excluded.last_seen_at, 0)), 0),
	last_opened_at = NULLIF(max(coalesce(interactions.last_opened_at, 0), coalesce(excluded.last_opened_at, 0)), 0),
	last_seen_version = max(interactions.last_seen_version, excluded.last_seen_version)`

func (r *SQLiteRepository) SaveLocal(ctx context.Context, i *models.Interaction) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO interactions (`+columns+`, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(entry_id, user_id) DO UPDATE SET`+mergeSet+`, pending = 1`,
		i.EntryID, i.UserID, i.WorkspaceID, millis(i.LastSeenAt), millis(i.LastOpenedAt), i.LastSeenVersion, i.Version)
	if err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ApplyRemote(ctx context.Context, i *models.Interaction) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO interactions (`+columns+`, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(entry_id, user_id) DO UPDATE SET`+mergeSet+`, version = excluded.version
		WHERE excluded.version > interactions.version`,
		i.EntryID, i.UserID, i.WorkspaceID, millis(i.LastSeenAt), millis(i.LastOpenedAt), i.LastSeenVersion, i.Version)
	if err != nil {
		return fmt.Errorf("failed to apply interaction: %w", err)
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

func (r *SQLiteRepository) ListPending(ctx context.Context, workspaceID string, limit int) ([]models.Interaction, error) {
	return r.list(ctx, `SELECT `+columns+` FROM interactions
		WHERE workspace_id = ? AND pending = 1 ORDER BY entry_id LIMIT ?`, workspaceID, limit)
}

func (r *SQLiteRepository) ClearPending(ctx context.Context, i *models.Interaction) error {
	_, err := r.db.ExecContext(ctx, `UPDATE interactions SET pending = 0
		WHERE entry_id = ? AND user_id = ?
		AND coalesce(last_seen_at, 0) <= coalesce(?, 0)
		AND coalesce(last_opened_at, 0) <= coalesce(?, 0)
		AND last_seen_version <= ?`,
		i.EntryID, i.UserID, millis(i.LastSeenAt), millis(i.LastOpenedAt), i.LastSeenVersion)
	if err != nil {
		return fmt.Errorf("failed to clear pending interaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, workspaceID, userID string) ([]models.Interaction, error) {
	return r.list(ctx, `SELECT `+columns+` FROM interactions
		WHERE workspace_id = ? AND user_id = ? ORDER BY entry_id`, workspaceID, userID)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Interaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
	for n, id := range entryIDs {
		args[n] = id
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(entryIDs)), ",")
	res, err := r.db.ExecContext(ctx, `DELETE FROM interactions WHERE entry_id IN (`+in+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete interactions: %w", err)
	}
	return res.RowsAffected()
}
