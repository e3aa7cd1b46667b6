package access

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) (*memory.RepositoryManager, *Source) {
	t.Helper()
	ctx := context.Background()
	repos := memory.NewRepositoryManager()

	insert := func(id, parent string) {
		e := &models.Entry{Entry: domain.Entry{ID: id, WorkspaceID: "w1", Type: domain.EntryTypePage, RootID: "s1"}, Version: 1}
		if parent != "" {
			e.ParentID = &parent
		}
		require.NoError(t, repos.Entries(nil).Insert(ctx, e))
	}
	insert("s1", "")
	insert("p1", "s1")
	insert("p2", "p1")

	grant := func(entry, user string, role domain.Role, revoked bool) {
		c := &models.Collaboration{Collaboration: domain.Collaboration{EntryID: entry, WorkspaceID: "w1", UserID: user, Role: role, Version: 1}}
		if revoked {
			now := time.Now()
			c.DeletedAt = &now
		}
		require.NoError(t, repos.Collaborations(nil).Upsert(ctx, c))
	}
	grant("s1", "alice", domain.RoleOwner, false)
	grant("p1", "bob", domain.RoleViewer, false)
	grant("p1", "carol", domain.RoleEditor, true)

	return repos, NewSource(repos, nil)
}

func TestResolver_ReadsThroughRepositories(t *testing.T) {
	repos, _ := seed(t)
	r := Resolver(repos, nil)
	ctx := context.Background()

	role, err := r.ResolveRole(ctx, "p2", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, role)

	role, err = r.ResolveRole(ctx, "p2", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, role)

	role, err = r.ResolveRole(ctx, "s1", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleNone, role)

	_, err = r.ResolveRole(ctx, "nope", "bob")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEverGranted(t *testing.T) {
	_, src := seed(t)
	ctx := context.Background()

	tests := []struct {
		entry, user string
		want        bool
	}{
		{"p2", "alice", true},
		{"p2", "bob", true},
		{"p2", "carol", true},
		{"s1", "carol", false},
		{"p2", "dave", false},
	}
	for _, tt := range tests {
		got, err := src.EverGranted(ctx, tt.entry, tt.user)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s on %s", tt.user, tt.entry)
	}
}

func TestVisible(t *testing.T) {
	repos, src := seed(t)
	ctx := context.Background()

	live, err := repos.Entries(nil).Get(ctx, "p2")
	require.NoError(t, err)

	ok, err := src.Visible(ctx, live, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = src.Visible(ctx, live, "carol")
	require.NoError(t, err)
	assert.False(t, ok, "revoked users lose live entries")

	now := time.Now()
	live.DeletedAt = &now
	ok, err = src.Visible(ctx, live, "carol")
	require.NoError(t, err)
	assert.True(t, ok, "former collaborators still see the tombstone")

	ok, err = src.Visible(ctx, live, "dave")
	require.NoError(t, err)
	assert.False(t, ok)
}
