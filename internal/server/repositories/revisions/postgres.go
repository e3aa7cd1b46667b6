// Package revisions serializes revision assignment per workspace with
// transaction-scoped advisory locks.
package revisions

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LockWorkspace must run inside a transaction; outside one the lock is
// released as soon as the statement ends.
func (r *PostgresRepository) LockWorkspace(ctx context.Context, workspaceID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

	if _, err := r.db.ExecContext(ctx, query, "revisions:"+workspaceID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
