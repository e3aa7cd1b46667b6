package interactions

import (
	"context"

	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
)

// Repository stores per-user read state.
type Repository interface {
	// Merge folds i into the stored row keeping the latest timestamps and
	// the highest seen version, bumps the row version and returns the result.
	Merge(ctx context.Context, i *domain.Interaction) (*models.Interaction, error)

	// ListSince returns up to limit interactions of a user in a workspace
	// with a revision above after.
	ListSince(ctx context.Context, userID, workspaceID string, after int64, limit int) ([]models.Interaction, error)

	DeleteByEntry(ctx context.Context, entryID string) (int64, error)
}
