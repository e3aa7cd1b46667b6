package interactions

import (
	"context"

	"github.com/dmitrijs2005/entrysync/internal/models"
)

// Repository stores per-user read state.
type Repository interface {
	// Get returns the interaction or common.ErrNotFound.
	Get(ctx context.Context, entryID, userID string) (*models.Interaction, error)

	// SaveLocal merges a local read-state change and marks it for push.
	SaveLocal(ctx context.Context, i *models.Interaction) error

	// ApplyRemote merges a server row. Rows whose version is not strictly
	// higher than the stored one fail with common.ErrVersionConflict.
	ApplyRemote(ctx context.Context, i *models.Interaction) error

	// ListPending returns interactions awaiting push.
	ListPending(ctx context.Context, workspaceID string, limit int) ([]models.Interaction, error)

	// ClearPending unmarks i unless it changed locally after i was read.
	ClearPending(ctx context.Context, i *models.Interaction) error

	// ListByUser returns the interactions of a user in a workspace.
	ListByUser(ctx context.Context, workspaceID, userID string) ([]models.Interaction, error)

	// DeleteByEntries removes interactions of the given entries.
	DeleteByEntries(ctx context.Context, entryIDs []string) (int64, error)
}
