package collaborations

import (
	"context"

	"github.com/dmitrijs2005/entrysync/internal/models"
)

// Repository stores the role grants pulled from the server.
type Repository interface {
	// Get returns the grant of userID on entryID or common.ErrNotFound.
	Get(ctx context.Context, entryID, userID string) (*models.Collaboration, error)

	// Upsert writes c only when its version is strictly higher than the
	// stored one, otherwise it returns common.ErrVersionConflict.
	Upsert(ctx context.Context, c *models.Collaboration) error

	// ListByUser returns the grants of a user in a workspace.
	ListByUser(ctx context.Context, workspaceID, userID string) ([]models.Collaboration, error)

	// DeleteByEntries removes the grants on the given entries.
	DeleteByEntries(ctx context.Context, entryIDs []string) (int64, error)
}
