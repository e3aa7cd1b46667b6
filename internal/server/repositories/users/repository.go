package users

import (
	"context"

	"github.com/dmitrijs2005/entrysync/internal/server/models"
)

type Repository interface {
	// Create inserts the user and fills CreatedAt. A taken username fails
	// with common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}
