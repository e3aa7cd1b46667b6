// Package access adapts the server repositories to the role resolver and
// answers the visibility questions of pull and fan-out.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/roles"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/repomanager"
)

// maxDepth bounds ancestor walks.
const maxDepth = 64

// Source implements roles.Source over one DBTX.
type Source struct {
	repos repomanager.RepositoryManager
	db    dbx.DBTX
}

func NewSource(repos repomanager.RepositoryManager, db dbx.DBTX) *Source {
	return &Source{repos: repos, db: db}
}

func (s *Source) Collaboration(ctx context.Context, entryID, userID string) (*domain.Collaboration, error) {
	c, err := s.repos.Collaborations(s.db).Get(ctx, entryID, userID)
	if err != nil {
		return nil, err
	}
	return &c.Collaboration, nil
}

func (s *Source) Parent(ctx context.Context, entryID string) (string, error) {
	return s.repos.Entries(s.db).Parent(ctx, entryID)
}

// Resolver returns a role resolver reading through db.
func Resolver(repos repomanager.RepositoryManager, db dbx.DBTX) *roles.Resolver {
	return roles.NewResolver(NewSource(repos, db))
}

// EverGranted reports whether userID holds or held a grant on entryID or any
// of its ancestors. Revoked grants count, so tombstones still reach former
// collaborators.
func (s *Source) EverGranted(ctx context.Context, entryID, userID string) (bool, error) {
	seen := make(map[string]struct{})
	for id := entryID; id != ""; {
		if _, ok := seen[id]; ok || len(seen) >= maxDepth {
			return false, fmt.Errorf("%w: parent chain of %s does not terminate", common.ErrInvalidEntry, entryID)
		}
		seen[id] = struct{}{}

		_, err := s.repos.Collaborations(s.db).Get(ctx, id, userID)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return false, err
		}
		parent, err := s.Parent(ctx, id)
		if err != nil {
			return false, err
		}
		id = parent
	}
	return false, nil
}

// Visible reports whether e belongs in userID's pull: live entries need
// viewer access, tombstones need a present or past grant.
func (s *Source) Visible(ctx context.Context, e *models.Entry, userID string) (bool, error) {
	if e.DeletedAt != nil {
		return s.EverGranted(ctx, e.ID, userID)
	}
	role, err := roles.NewResolver(s).ResolveRole(ctx, e.ID, userID)
	if err != nil {
		return false, err
	}
	return roles.HasViewerAccess(role), nil
}
