package transactions

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

const columns = `id, entry_id, workspace_id, operation, payload, created_by, created_at,
	sync_status, retry_count, last_error`

func scan(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var (
		t         models.Transaction
		op, st    string
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.EntryID, &t.WorkspaceID, &op, &t.Payload, &t.CreatedBy,
		&createdAt, &st, &t.RetryCount, &t.LastError); err != nil {
		return nil, err
	}
	t.Operation = models.Operation(op)
	t.SyncStatus = models.SyncStatus(st)
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &t, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, t *models.Transaction) error {
	status := t.SyncStatus
	if status == "" {
		status = models.SyncStatusPending
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO transactions (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EntryID, t.WorkspaceID, string(t.Operation), t.Payload, t.CreatedBy,
		t.CreatedAt.UnixMilli(), string(status), t.RetryCount, t.LastError)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("transaction %s: %w", t.ID, common.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, workspaceID string, statuses []models.SyncStatus, maxRetries, limit int) ([]models.Transaction, error) {
	if len(statuses) == 0 || limit <= 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+3)
	args = append(args, workspaceID)
	for _, s := range statuses {
		args = append(args, string(s))
	}
	query := `SELECT ` + columns + ` FROM transactions
		WHERE workspace_id = ? AND sync_status IN (` + placeholders(len(statuses)) + `)`
	if maxRetries > 0 {
		query += ` AND retry_count < ?`
		args = append(args, maxRetries)
	}
	query += ` ORDER BY created_at, seq LIMIT ?`
	args = append(args, limit)
	return r.list(ctx, query, args...)
}

func (r *SQLiteRepository) ListFailed(ctx context.Context, workspaceID string, maxRetries int) ([]models.Transaction, error) {
	return r.list(ctx, `SELECT `+columns+` FROM transactions
		WHERE workspace_id = ? AND sync_status = ? AND retry_count >= ? ORDER BY created_at, seq`,
		workspaceID, string(models.SyncStatusError), maxRetries)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select transactions: %w", err)
	}
	defer rows.Close()

	var result []models.Transaction
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status models.SyncStatus) error {
	return r.exec(ctx, `UPDATE transactions SET sync_status = ? WHERE id = ?`, string(status), id)
}

func (r *SQLiteRepository) RecordError(ctx context.Context, id, msg string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `UPDATE transactions
		SET sync_status = ?, retry_count = retry_count + 1, last_error = ?
		WHERE id = ? RETURNING retry_count`, string(models.SyncStatusError), msg, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record transaction error: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) ResetRetries(ctx context.Context, id string) error {
	return r.exec(ctx, `UPDATE transactions SET sync_status = ?, retry_count = 0, last_error = ''
		WHERE id = ? AND sync_status = ?`,
		string(models.SyncStatusPending), id, string(models.SyncStatusError))
}

func (r *SQLiteRepository) DeleteByStatus(ctx context.Context, workspaceID string, status models.SyncStatus) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE workspace_id = ? AND sync_status = ?`,
		workspaceID, string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) DeleteByEntries(ctx context.Context, entryIDs []string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	args := make([]any, len(entryIDs))
	for i, id := range entryIDs {
		args[i] = id
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE entry_id IN (`+placeholders(len(entryIDs))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) CountPendingForEntry(ctx context.Context, entryID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions
		WHERE entry_id = ? AND sync_status <> ?`, entryID, string(models.SyncStatusAcknowledged)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}
