package collaborations

import (
	"context"

	"github.com/dmitrijs2005/entrysync/internal/server/models"
)

// Repository stores role grants derived from entry attributes.
type Repository interface {
	// Get returns the grant of userID on entryID, revoked or not, or
	// common.ErrNotFound.
	Get(ctx context.Context, entryID, userID string) (*models.Collaboration, error)

	// ListByEntry returns every grant on an entry.
	ListByEntry(ctx context.Context, entryID string) ([]models.Collaboration, error)

	// Upsert writes c when its version is strictly higher than the stored
	// one and fills Revision, otherwise it fails with
	// common.ErrVersionConflict.
	Upsert(ctx context.Context, c *models.Collaboration) error

	// ListSince returns up to limit grants of a user in a workspace with a
	// revision above after.
	ListSince(ctx context.Context, userID, workspaceID string, after int64, limit int) ([]models.Collaboration, error)

	// UsersByRoot returns the users holding or having held a grant anywhere
	// in the tree of rootID.
	UsersByRoot(ctx context.Context, rootID string) ([]string, error)

	DeleteByEntry(ctx context.Context, entryID string) (int64, error)
}
