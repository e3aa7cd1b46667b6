package entries

import (
	"context"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/server/models"
)

// Repository persists canonical entries.
type Repository interface {
	// Get returns the entry including tombstones, or common.ErrEntryNotFound.
	Get(ctx context.Context, id string) (*models.Entry, error)

	// GetForUpdate is Get with a row lock held until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Entry, error)

	// Insert writes a new entry and fills Revision.
	Insert(ctx context.Context, e *models.Entry) error

	// Update rewrites state, version and tombstone of e and assigns a fresh
	// Revision.
	Update(ctx context.Context, e *models.Entry) error

	// Parent returns the parent id, "" for roots.
	Parent(ctx context.Context, id string) (string, error)

	// ListSince returns up to limit entries of a workspace with a revision
	// above after, in revision order.
	ListSince(ctx context.Context, workspaceID string, after int64, limit int) ([]models.Entry, error)

	// ListByRoot returns every entry of one tree.
	ListByRoot(ctx context.Context, rootID string) ([]models.Entry, error)

	// ListTombstoned returns up to limit entries deleted before the cutoff.
	ListTombstoned(ctx context.Context, before time.Time, limit int) ([]models.Entry, error)

	// Delete removes the row for good.
	Delete(ctx context.Context, id string) error
}
