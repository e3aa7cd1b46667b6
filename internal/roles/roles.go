// Package roles resolves a user's effective role on an entry by walking the
// parent chain and gates mutations on the result.
package roles

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/models"
)

// maxDepth bounds the ancestor walk so a corrupted parent chain cannot loop.
const maxDepth = 64

// Source is the storage the resolver walks. Collaboration returns
// common.ErrNotFound when no grant exists; Parent returns "" for roots and
// common.ErrEntryNotFound for unknown entries.
type Source interface {
	Collaboration(ctx context.Context, entryID, userID string) (*models.Collaboration, error)
	Parent(ctx context.Context, entryID string) (string, error)
}

// Resolver computes effective roles.
type Resolver struct {
	src Source
}

func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// ResolveRole returns the first active grant found for userID on entryID or
// its nearest ancestor. It returns models.RoleNone when the chain carries no
// grant, including at the root.
func (r *Resolver) ResolveRole(ctx context.Context, entryID, userID string) (models.Role, error) {
	seen := make(map[string]struct{})
	for id := entryID; id != ""; {
		if _, ok := seen[id]; ok || len(seen) >= maxDepth {
			return models.RoleNone, fmt.Errorf("%w: parent chain of %s does not terminate", common.ErrInvalidEntry, entryID)
		}
		seen[id] = struct{}{}

		c, err := r.src.Collaboration(ctx, id, userID)
		switch {
		case err == nil && !c.Revoked() && c.Role.Valid():
			return c.Role, nil
		case err != nil && !errors.Is(err, common.ErrNotFound):
			return models.RoleNone, fmt.Errorf("lookup collaboration: %w", err)
		}

		parent, err := r.src.Parent(ctx, id)
		if err != nil {
			return models.RoleNone, err
		}
		id = parent
	}
	return models.RoleNone, nil
}

func HasAdminAccess(r models.Role) bool        { return r.AtLeast(models.RoleAdmin) }
func HasEditorAccess(r models.Role) bool       { return r.AtLeast(models.RoleEditor) }
func HasCollaboratorAccess(r models.Role) bool { return r.AtLeast(models.RoleCollaborator) }
func HasViewerAccess(r models.Role) bool       { return r.AtLeast(models.RoleViewer) }

// CanCreate gates creating child under a parent on which the actor holds
// parentRole. A child carrying its own collaborators grants access, which
// needs admin access on the parent.
func CanCreate(parentRole models.Role, child models.Attributes) error {
	if !HasCollaboratorAccess(parentRole) {
		return fmt.Errorf("%w: create requires collaborator access", common.ErrForbidden)
	}
	if child != nil && len(models.Collaborators(child)) > 0 && !HasAdminAccess(parentRole) {
		return fmt.Errorf("%w: granting collaborators requires admin access", common.ErrForbidden)
	}
	return nil
}

// CanUpdate gates an attribute change. A change of the collaborator set needs
// admin access; anything else needs editor access or authorship.
func CanUpdate(role models.Role, isCreator bool, before, after models.Attributes) error {
	if CollaboratorsChanged(before, after) {
		if !HasAdminAccess(role) {
			return fmt.Errorf("%w: changing collaborators requires admin access", common.ErrForbidden)
		}
		return nil
	}
	if !HasEditorAccess(role) && !isCreator {
		return fmt.Errorf("%w: update requires editor access", common.ErrForbidden)
	}
	return nil
}

// CanDelete gates deleting an entry.
func CanDelete(role models.Role, isCreator bool) error {
	if !HasEditorAccess(role) && !isCreator {
		return fmt.Errorf("%w: delete requires editor access", common.ErrForbidden)
	}
	return nil
}

// CollaboratorsChanged compares the collaborator maps of two projections.
func CollaboratorsChanged(before, after models.Attributes) bool {
	var b, a map[string]models.Role
	if before != nil {
		b = models.Collaborators(before)
	}
	if after != nil {
		a = models.Collaborators(after)
	}
	return !maps.Equal(b, a)
}
