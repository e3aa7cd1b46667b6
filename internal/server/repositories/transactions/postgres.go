// Package transactions stores the ids of applied transactions, which makes
// pushes idempotent.
package transactions

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

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.AppliedTransaction, error) {
	query := `SELECT id, entry_id, workspace_id, operation, created_by, created_at, applied_at, version
		FROM applied_transactions WHERE id = $1`

	var (
		t  models.AppliedTransaction
		op string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.EntryID, &t.WorkspaceID, &op, &t.CreatedBy,
		&t.CreatedAt, &t.AppliedAt, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	t.Operation = domain.Operation(op)
	return &t, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, t *models.AppliedTransaction) error {
	query := `INSERT INTO applied_transactions (id, entry_id, workspace_id, operation, created_by, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING applied_at`

	err := r.db.QueryRowContext(ctx, query, t.ID, t.EntryID, t.WorkspaceID, string(t.Operation), t.CreatedBy,
		t.CreatedAt, t.Version).Scan(&t.AppliedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByEntry(ctx context.Context, entryID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM applied_transactions WHERE entry_id = $1`, entryID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
