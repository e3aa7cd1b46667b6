package roles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grantKey struct{ entry, user string }

type fakeSource struct {
	parents map[string]string
	grants  map[grantKey]*models.Collaboration
	err     error
}

func (f *fakeSource) Collaboration(_ context.Context, entryID, userID string) (*models.Collaboration, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.grants[grantKey{entryID, userID}]
	if !ok {
		return nil, common.ErrNotFound
	}
	return c, nil
}

func (f *fakeSource) Parent(_ context.Context, entryID string) (string, error) {
	p, ok := f.parents[entryID]
	if !ok {
		return "", common.ErrEntryNotFound
	}
	return p, nil
}

func grant(entry, user string, role models.Role) *models.Collaboration {
	return &models.Collaboration{EntryID: entry, UserID: user, Role: role, Version: 1}
}

// root(Owner: A) -> space(no grant) -> page(Viewer: B)
func cascadeSource() *fakeSource {
	return &fakeSource{
		parents: map[string]string{"root": "", "space": "root", "page": "space"},
		grants: map[grantKey]*models.Collaboration{
			{"root", "A"}: grant("root", "A", models.RoleOwner),
			{"page", "B"}: grant("page", "B", models.RoleViewer),
		},
	}
}

func TestResolveRole_Cascade(t *testing.T) {
	r := NewResolver(cascadeSource())
	ctx := context.Background()

	role, err := r.ResolveRole(ctx, "page", "B")
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, role)

	role, err = r.ResolveRole(ctx, "page", "A")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, role)

	role, err = r.ResolveRole(ctx, "space", "B")
	require.NoError(t, err)
	assert.Equal(t, models.RoleNone, role)
}

func TestResolveRole_NearestGrantWinsOverHigherAncestor(t *testing.T) {
	src := cascadeSource()
	src.grants[grantKey{"page", "A"}] = grant("page", "A", models.RoleViewer)

	role, err := NewResolver(src).ResolveRole(context.Background(), "page", "A")
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, role)
}

func TestResolveRole_RevokedGrantIsSkipped(t *testing.T) {
	src := cascadeSource()
	now := time.Now()
	revoked := grant("page", "A", models.RoleViewer)
	revoked.DeletedAt = &now
	src.grants[grantKey{"page", "A"}] = revoked

	role, err := NewResolver(src).ResolveRole(context.Background(), "page", "A")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, role)
}

func TestResolveRole_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewResolver(cascadeSource()).ResolveRole(ctx, "missing", "A")
	assert.ErrorIs(t, err, common.ErrEntryNotFound)

	cyclic := &fakeSource{parents: map[string]string{"a": "b", "b": "a"}}
	_, err = NewResolver(cyclic).ResolveRole(ctx, "a", "A")
	assert.ErrorIs(t, err, common.ErrInvalidEntry)

	boom := errors.New("boom")
	_, err = NewResolver(&fakeSource{err: boom}).ResolveRole(ctx, "a", "A")
	assert.ErrorIs(t, err, boom)
}

func TestAccessPredicates(t *testing.T) {
	tests := []struct {
		role                      models.Role
		admin, editor, collab, vw bool
	}{
		{models.RoleOwner, true, true, true, true},
		{models.RoleAdmin, true, true, true, true},
		{models.RoleEditor, false, true, true, true},
		{models.RoleCollaborator, false, false, true, true},
		{models.RoleViewer, false, false, false, true},
		{models.RoleNone, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.admin, HasAdminAccess(tt.role))
			assert.Equal(t, tt.editor, HasEditorAccess(tt.role))
			assert.Equal(t, tt.collab, HasCollaboratorAccess(tt.role))
			assert.Equal(t, tt.vw, HasViewerAccess(tt.role))
		})
	}
}

func TestCanUpdate_CollaboratorChangeNeedsAdmin(t *testing.T) {
	before := &models.PageAttributes{Type: models.EntryTypePage, Name: "p", Collaborators: map[string]models.Role{"A": models.RoleOwner}}
	renamed := &models.PageAttributes{Type: models.EntryTypePage, Name: "q", Collaborators: map[string]models.Role{"A": models.RoleOwner}}
	shared := &models.PageAttributes{Type: models.EntryTypePage, Name: "p", Collaborators: map[string]models.Role{"A": models.RoleOwner, "B": models.RoleEditor}}

	assert.NoError(t, CanUpdate(models.RoleEditor, false, before, renamed))
	assert.ErrorIs(t, CanUpdate(models.RoleEditor, false, before, shared), common.ErrForbidden)
	assert.ErrorIs(t, CanUpdate(models.RoleEditor, true, before, shared), common.ErrForbidden)
	assert.NoError(t, CanUpdate(models.RoleAdmin, false, before, shared))
	assert.ErrorIs(t, CanUpdate(models.RoleViewer, false, before, renamed), common.ErrForbidden)
	assert.NoError(t, CanUpdate(models.RoleViewer, true, before, renamed))
}

func TestCanCreateAndDelete(t *testing.T) {
	plain := &models.FolderAttributes{Type: models.EntryTypeFolder, ParentID: "s1", Name: "docs"}
	granting := &models.FolderAttributes{Type: models.EntryTypeFolder, ParentID: "s1", Name: "docs",
		Collaborators: map[string]models.Role{"carol": models.RoleOwner}}

	assert.NoError(t, CanCreate(models.RoleCollaborator, plain))
	assert.ErrorIs(t, CanCreate(models.RoleViewer, plain), common.ErrForbidden)
	assert.ErrorIs(t, CanCreate(models.RoleCollaborator, granting), common.ErrForbidden)
	assert.ErrorIs(t, CanCreate(models.RoleEditor, granting), common.ErrForbidden)
	assert.NoError(t, CanCreate(models.RoleAdmin, granting))
	assert.NoError(t, CanDelete(models.RoleEditor, false))
	assert.NoError(t, CanDelete(models.RoleNone, true))
	assert.ErrorIs(t, CanDelete(models.RoleCollaborator, false), common.ErrForbidden)
}
