package store

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/entrysync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/models"
)

// grantSource feeds the role resolver from the replica. Pulled collaboration
// rows win; entries not yet acknowledged by the server fall back to the
// collaborators carried in their own attributes, which is what the server
// will derive its rows from.
type grantSource struct {
	repos repomanager.RepositoryManager
	db    dbx.DBTX
}

func (g grantSource) Collaboration(ctx context.Context, entryID, userID string) (*models.Collaboration, error) {
	c, err := g.repos.Collaborations(g.db).Get(ctx, entryID, userID)
	if err == nil || !errors.Is(err, common.ErrNotFound) {
		return c, err
	}

	e, err := g.repos.Entries(g.db).Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	attrs, err := e.Decode()
	if err != nil {
		return nil, common.ErrNotFound
	}
	role, ok := models.Collaborators(attrs)[userID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &models.Collaboration{EntryID: entryID, UserID: userID, WorkspaceID: e.WorkspaceID, Role: role}, nil
}

func (g grantSource) Parent(ctx context.Context, entryID string) (string, error) {
	return g.repos.Entries(g.db).Parent(ctx, entryID)
}
