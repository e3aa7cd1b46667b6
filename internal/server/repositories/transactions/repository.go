package transactions

import (
	"context"

	"github.com/dmitrijs2005/entrysync/internal/server/models"
)

// Repository records applied transaction ids.
type Repository interface {
	// Get returns the applied transaction or common.ErrNotFound.
	Get(ctx context.Context, id string) (*models.AppliedTransaction, error)
	Insert(ctx context.Context, t *models.AppliedTransaction) error
	DeleteByEntry(ctx context.Context, entryID string) (int64, error)
}
