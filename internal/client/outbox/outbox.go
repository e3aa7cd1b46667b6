// Package outbox is the durable log of local mutations waiting to be pushed.
//
// Transactions are appended in the same database transaction as the entry
// write that produced them, handed out oldest first, and retired either by
// an acknowledgement or, after MaxRetries failed attempts, as a permanent
// failure that stays visible until retried or pruned.
package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/models"
)

const DefaultMaxRetries = 10

var batchStatuses = []models.SyncStatus{
	models.SyncStatusPending,
	models.SyncStatusSent,
	models.SyncStatusError,
}

// Outbox is the log of one workspace. Replicas of several workspaces can
// share a database; each only sees its own transactions.
type Outbox struct {
	db          *sql.DB
	repos       repomanager.RepositoryManager
	workspaceID string
	maxRetries  int
	log         logging.Logger
}

func New(db *sql.DB, repos repomanager.RepositoryManager, workspaceID string, maxRetries int, log logging.Logger) *Outbox {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Outbox{
		db:          db,
		repos:       repos,
		workspaceID: workspaceID,
		maxRetries:  maxRetries,
		log:         log.With("module", "outbox", "workspace", workspaceID),
	}
}

// MaxRetries is the retry ceiling.
func (o *Outbox) MaxRetries() int {
	return o.maxRetries
}

// Enqueue appends t as pending with no attempts.
func (o *Outbox) Enqueue(ctx context.Context, t *models.Transaction) error {
	return o.EnqueueTx(ctx, o.db, t)
}

// EnqueueTx is Enqueue inside the caller's transaction.
func (o *Outbox) EnqueueTx(ctx context.Context, tx dbx.DBTX, t *models.Transaction) error {
	if t.WorkspaceID == "" {
		t.WorkspaceID = o.workspaceID
	}
	if t.WorkspaceID != o.workspaceID {
		return fmt.Errorf("%w: transaction %s belongs to workspace %s", common.ErrInvalidEntry, t.ID, t.WorkspaceID)
	}
	t.SyncStatus = models.SyncStatusPending
	t.RetryCount = 0
	t.LastError = ""
	if err := o.repos.Transactions(tx).Insert(ctx, t); err != nil {
		return fmt.Errorf("enqueue %s: %w", t.ID, err)
	}
	return nil
}

// NextBatch returns up to limit unacknowledged transactions below the retry
// ceiling, oldest first.
func (o *Outbox) NextBatch(ctx context.Context, limit int) ([]models.Transaction, error) {
	return o.repos.Transactions(o.db).ListByStatus(ctx, o.workspaceID, batchStatuses, o.maxRetries, limit)
}

// MarkSent flags transactions handed to the transport.
func (o *Outbox) MarkSent(ctx context.Context, ids []string) error {
	return dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := o.repos.Transactions(tx)
		for _, id := range ids {
			if err := repo.SetStatus(ctx, id, models.SyncStatusSent); err != nil {
				return fmt.Errorf("mark %s sent: %w", id, err)
			}
		}
		return nil
	})
}

func (o *Outbox) MarkAcknowledged(ctx context.Context, id string) error {
	if err := o.repos.Transactions(o.db).SetStatus(ctx, id, models.SyncStatusAcknowledged); err != nil {
		return fmt.Errorf("acknowledge %s: %w", id, err)
	}
	return nil
}

// MarkError records a failed attempt. Once the retry ceiling is reached the
// returned error wraps common.ErrPermanentApply.
func (o *Outbox) MarkError(ctx context.Context, id, reason string) error {
	n, err := o.repos.Transactions(o.db).RecordError(ctx, id, reason)
	if err != nil {
		return fmt.Errorf("record error for %s: %w", id, err)
	}
	if n >= o.maxRetries {
		o.log.Error(ctx, "transaction failed permanently", "id", id, "attempts", n, "reason", reason)
		return fmt.Errorf("%w: transaction %s failed %d times: %s", common.ErrPermanentApply, id, n, reason)
	}
	o.log.Warn(ctx, "transaction failed", "id", id, "attempts", n, "reason", reason)
	return nil
}

// Failed lists permanent failures.
func (o *Outbox) Failed(ctx context.Context) ([]models.Transaction, error) {
	return o.repos.Transactions(o.db).ListFailed(ctx, o.workspaceID, o.maxRetries)
}

// Retry puts a failed transaction back in the queue.
func (o *Outbox) Retry(ctx context.Context, id string) error {
	if err := o.repos.Transactions(o.db).ResetRetries(ctx, id); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	return nil
}

// Prune deletes acknowledged transactions.
func (o *Outbox) Prune(ctx context.Context) (int64, error) {
	n, err := o.repos.Transactions(o.db).DeleteByStatus(ctx, o.workspaceID, models.SyncStatusAcknowledged)
	if err != nil {
		return 0, fmt.Errorf("prune outbox: %w", err)
	}
	return n, nil
}

// PendingFor counts unacknowledged transactions of an entry.
func (o *Outbox) PendingFor(ctx context.Context, entryID string) (int, error) {
	return o.repos.Transactions(o.db).CountPendingForEntry(ctx, entryID)
}
