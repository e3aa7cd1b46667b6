package transactions

import (
	"context"

	"github.com/dmitrijs2005/entrysync/internal/models"
)

// Repository stores the local transaction log.
type Repository interface {
	// Insert appends a transaction. Duplicate ids fail with common.ErrAlreadyExists.
	Insert(ctx context.Context, tx *models.Transaction) error

	// Get returns a transaction or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Transaction, error)

	// ListByStatus returns transactions of a workspace in any of statuses
	// with fewer than maxRetries attempts, oldest first. maxRetries <= 0
	// disables the bound.
	ListByStatus(ctx context.Context, workspaceID string, statuses []models.SyncStatus, maxRetries, limit int) ([]models.Transaction, error)

	// ListFailed returns transactions of a workspace in error state that
	// reached maxRetries.
	ListFailed(ctx context.Context, workspaceID string, maxRetries int) ([]models.Transaction, error)

	// SetStatus moves a transaction to status. It returns common.ErrNotFound
	// when the id is unknown.
	SetStatus(ctx context.Context, id string, status models.SyncStatus) error

	// RecordError moves a transaction to error, increments its retry count
	// and returns the new count.
	RecordError(ctx context.Context, id, msg string) (int, error)

	// ResetRetries sets a failed transaction back to pending with no attempts.
	ResetRetries(ctx context.Context, id string) error

	// DeleteByStatus removes transactions of a workspace in status and
	// returns the count.
	DeleteByStatus(ctx context.Context, workspaceID string, status models.SyncStatus) (int64, error)

	// DeleteByEntries removes every transaction of the given entries.
	DeleteByEntries(ctx context.Context, entryIDs []string) (int64, error)

	// CountPendingForEntry counts unacknowledged transactions of an entry.
	CountPendingForEntry(ctx context.Context, entryID string) (int, error)
}
