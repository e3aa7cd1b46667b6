package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/client/database"
	"github.com/dmitrijs2005/entrysync/internal/client/outbox"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/crdt"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replica struct {
	store  *Store
	outbox *outbox.Outbox
	repos  repomanager.RepositoryManager
}

func newReplica(t *testing.T, user, node string) *replica {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos := repomanager.NewSQLiteRepositoryManager()
	ob := outbox.New(db, repos, "w1", 3, logging.NewNopLogger())
	s := New(db, repos, ob, Identity{UserID: user, WorkspaceID: "w1", NodeID: node}, logging.NewNopLogger())
	clock := time.UnixMilli(1_700_000_000_000).UTC()
	s.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return &replica{store: s, outbox: ob, repos: repos}
}

func (r *replica) batch(t *testing.T) []models.Transaction {
	t.Helper()
	b, err := r.outbox.NextBatch(context.Background(), 100)
	require.NoError(t, err)
	return b
}

func space(owner string) *models.SpaceAttributes {
	return &models.SpaceAttributes{
		Type:          models.EntryTypeSpace,
		Name:          "Team",
		Collaborators: map[string]models.Role{owner: models.RoleOwner},
	}
}

func TestCreateEntry_RootEnqueuesFullState(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()

	e, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)
	assert.Equal(t, "s1", e.RootID)
	assert.Nil(t, e.ParentID)
	assert.Nil(t, e.ServerVersion)
	assert.JSONEq(t, `{"type":"space","name":"Team","collaborators":{"alice":"owner"}}`, string(e.Attributes))

	batch := r.batch(t)
	require.Len(t, batch, 1)
	assert.Equal(t, models.OperationCreate, batch[0].Operation)
	assert.Equal(t, e.State, batch[0].Payload)

	attrs, err := models.AttributesFromState(batch[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "Team", attrs.(*models.SpaceAttributes).Name)

	_, err = r.store.CreateEntry(ctx, "s1", space("alice"))
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
}

func TestCreateEntry_RejectsWithoutEnqueueing(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()

	_, err := r.store.CreateEntry(ctx, "", space("bob"))
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = r.store.CreateEntry(ctx, "", &models.MessageAttributes{Type: models.EntryTypeMessage, ParentID: "ghost", Text: "hi"})
	assert.ErrorIs(t, err, common.ErrEntryNotFound)

	_, err = r.store.CreateEntry(ctx, "", &models.FolderAttributes{Type: models.EntryTypeFolder, Name: "f"})
	assert.ErrorIs(t, err, common.ErrInvalidEntry)

	assert.Empty(t, r.batch(t))
}

func TestCreateEntry_ChildNeedsCollaboratorOnParent(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()

	_, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)

	page, err := r.store.CreateEntry(ctx, "p1", &models.PageAttributes{Type: models.EntryTypePage, ParentID: "s1", Name: "Notes"})
	require.NoError(t, err)
	assert.Equal(t, "s1", page.RootID)
	require.NotNil(t, page.ParentID)
	assert.Equal(t, "s1", *page.ParentID)

	// a pulled viewer grant overrides the provisional owner grant
	require.NoError(t, r.store.ApplyCollaboration(ctx, &models.Collaboration{
		EntryID: "s1", UserID: "alice", WorkspaceID: "w1", Role: models.RoleViewer, Version: 1,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	_, err = r.store.CreateEntry(ctx, "", &models.PageAttributes{Type: models.EntryTypePage, ParentID: "s1", Name: "Other"})
	assert.ErrorIs(t, err, common.ErrForbidden)
	assert.Len(t, r.batch(t), 2)
}

func TestCreateEntry_ChildGrantsNeedAdminOnParent(t *testing.T) {
	r := newReplica(t, "carol", "dev-c")
	ctx := context.Background()

	_, err := r.store.CreateEntry(ctx, "s1", space("carol"))
	require.NoError(t, err)
	require.NoError(t, r.store.ApplyCollaboration(ctx, &models.Collaboration{
		EntryID: "s1", UserID: "carol", WorkspaceID: "w1", Role: models.RoleCollaborator, Version: 1,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	_, err = r.store.CreateEntry(ctx, "f1", &models.FolderAttributes{
		Type: models.EntryTypeFolder, ParentID: "s1", Name: "mine",
		Collaborators: map[string]models.Role{"carol": models.RoleOwner, "alice": models.RoleViewer},
	})
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = r.store.CreateEntry(ctx, "f2", &models.FolderAttributes{Type: models.EntryTypeFolder, ParentID: "s1", Name: "plain"})
	require.NoError(t, err)
	assert.Len(t, r.batch(t), 2)
}

func TestApplyLocalMutation_EnqueuesDelta(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	_, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)

	e, err := Mutate(ctx, r.store, "s1", func(a *models.SpaceAttributes) error {
		a.Name = "Renamed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.LocalVersion)
	assert.Equal(t, "alice", e.UpdatedBy)
	assert.JSONEq(t, `{"type":"space","name":"Renamed","collaborators":{"alice":"owner"}}`, string(e.Attributes))

	batch := r.batch(t)
	require.Len(t, batch, 2)
	assert.Equal(t, models.OperationUpdate, batch[1].Operation)
	delta, err := crdt.Decode(batch[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, delta.Keys())

	stored, err := r.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, e.State, stored.State)
}

func TestApplyLocalMutation_FailuresLeaveOutboxUntouched(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	_, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)

	_, err = Mutate(ctx, r.store, "s1", func(a *models.PageAttributes) error { return nil })
	assert.ErrorIs(t, err, common.ErrInvalidEntryType)

	_, err = Mutate(ctx, r.store, "ghost", func(a *models.SpaceAttributes) error { return nil })
	assert.ErrorIs(t, err, common.ErrEntryNotFound)

	_, err = Mutate(ctx, r.store, "s1", func(a *models.SpaceAttributes) error {
		a.Name = ""
		return nil
	})
	assert.ErrorIs(t, err, common.ErrInvalidEntry)

	_, err = Mutate(ctx, r.store, "s1", func(a *models.SpaceAttributes) error {
		return fmt.Errorf("caller gave up")
	})
	assert.EqualError(t, err, "caller gave up")

	_, err = Mutate(ctx, r.store, "s1", func(a *models.SpaceAttributes) error { return nil })
	require.NoError(t, err)

	assert.Len(t, r.batch(t), 1)
}

func TestApplyLocalMutation_CollaboratorChangeNeedsAdmin(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	_, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)
	require.NoError(t, r.store.ApplyCollaboration(ctx, &models.Collaboration{
		EntryID: "s1", UserID: "alice", WorkspaceID: "w1", Role: models.RoleEditor, Version: 1,
	}))

	_, err = Mutate(ctx, r.store, "s1", func(a *models.SpaceAttributes) error {
		a.Collaborators["bob"] = models.RoleViewer
		return nil
	})
	assert.ErrorIs(t, err, common.ErrForbidden)

	_, err = Mutate(ctx, r.store, "s1", func(a *models.SpaceAttributes) error {
		a.Description = "editors may do this"
		return nil
	})
	assert.NoError(t, err)
}

func TestDeleteEntry(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	_, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)

	require.NoError(t, r.store.DeleteEntry(ctx, "s1"))
	batch := r.batch(t)
	require.Len(t, batch, 2)
	assert.Equal(t, models.OperationDelete, batch[1].Operation)
	assert.Empty(t, batch[1].Payload)

	_, err = Mutate(ctx, r.store, "s1", func(a *models.SpaceAttributes) error { return nil })
	assert.ErrorIs(t, err, common.ErrEntryNotFound)
	assert.ErrorIs(t, r.store.DeleteEntry(ctx, "s1"), common.ErrEntryNotFound)
}

func TestApplyRemoteUpdate_Idempotent(t *testing.T) {
	a := newReplica(t, "alice", "dev-a")
	b := newReplica(t, "alice", "dev-b")
	ctx := context.Background()

	created, err := a.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)
	require.NoError(t, b.store.ApplyServerEntry(ctx, created))

	_, err = Mutate(ctx, a.store, "s1", func(s *models.SpaceAttributes) error {
		s.Name = "From A"
		return nil
	})
	require.NoError(t, err)
	update := a.batch(t)[1].Payload

	changed, err := b.store.ApplyRemoteUpdate(ctx, "s1", update)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = b.store.ApplyRemoteUpdate(ctx, "s1", update)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = b.store.ApplyRemoteUpdate(ctx, "ghost", update)
	assert.ErrorIs(t, err, common.ErrEntryNotFound)
	assert.Empty(t, b.batch(t), "remote merges never enqueue")
}

func TestReplicas_ConvergeRegardlessOfOrder(t *testing.T) {
	a := newReplica(t, "alice", "dev-a")
	b := newReplica(t, "alice", "dev-b")
	ctx := context.Background()

	created, err := a.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)
	require.NoError(t, b.store.ApplyServerEntry(ctx, created))

	_, err = Mutate(ctx, a.store, "s1", func(s *models.SpaceAttributes) error {
		s.Name = "A name"
		s.Collaborators["carol"] = models.RoleEditor
		return nil
	})
	require.NoError(t, err)
	_, err = Mutate(ctx, b.store, "s1", func(s *models.SpaceAttributes) error {
		s.Description = "B description"
		s.Collaborators["dave"] = models.RoleViewer
		return nil
	})
	require.NoError(t, err)

	fromA := a.batch(t)[1].Payload
	fromB := b.batch(t)[0].Payload

	_, err = a.store.ApplyRemoteUpdate(ctx, "s1", fromB)
	require.NoError(t, err)
	_, err = b.store.ApplyRemoteUpdate(ctx, "s1", fromA)
	require.NoError(t, err)
	_, err = b.store.ApplyRemoteUpdate(ctx, "s1", fromB)
	require.NoError(t, err)

	ea, err := a.store.Get(ctx, "s1")
	require.NoError(t, err)
	eb, err := b.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, string(ea.Attributes), string(eb.Attributes))

	attrs, err := eb.Decode()
	require.NoError(t, err)
	sp := attrs.(*models.SpaceAttributes)
	assert.Equal(t, "A name", sp.Name)
	assert.Equal(t, "B description", sp.Description)
	assert.Len(t, sp.Collaborators, 3)
}

func TestApplyServerEntry_KeepsPendingLocalEdits(t *testing.T) {
	a := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	created, err := a.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)

	_, err = Mutate(ctx, a.store, "s1", func(s *models.SpaceAttributes) error {
		s.Name = "local edit"
		return nil
	})
	require.NoError(t, err)

	stale := *created
	v := int64(1)
	stale.ServerVersion = &v
	require.NoError(t, a.store.ApplyServerEntry(ctx, &stale))

	e, err := a.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, string(e.Attributes), "local edit")
	require.NotNil(t, e.ServerVersion)
	assert.Equal(t, int64(1), *e.ServerVersion)

	stale.Deleted = true
	require.NoError(t, a.store.ApplyServerEntry(ctx, &stale))
	e, err = a.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, e.Deleted)
}

func TestApplyCollaboration_RevocationPurgesSubtree(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	_, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)
	_, err = r.store.CreateEntry(ctx, "c1", &models.ChannelAttributes{Type: models.EntryTypeChannel, ParentID: "s1", Name: "general"})
	require.NoError(t, err)
	_, err = r.store.MarkAsSeen(ctx, "c1")
	require.NoError(t, err)

	var got []Change
	r.store.Subscribe(func(c Change) { got = append(got, c) })

	now := time.Now()
	require.NoError(t, r.store.ApplyCollaboration(ctx, &models.Collaboration{
		EntryID: "s1", UserID: "alice", WorkspaceID: "w1", Role: models.RoleOwner, Version: 2, DeletedAt: &now,
	}))

	assert.Empty(t, r.batch(t))
	pending, err := r.store.PendingInteractions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.Len(t, got, 1)
	assert.Equal(t, ChangeRevoked, got[0].Kind)
	assert.ElementsMatch(t, []string{"s1", "c1"}, got[0].EntryIDs)

	// a stale grant does not resurrect access
	require.NoError(t, r.store.ApplyCollaboration(ctx, &models.Collaboration{
		EntryID: "s1", UserID: "alice", WorkspaceID: "w1", Role: models.RoleOwner, Version: 1,
	}))
	c, err := r.repos.Collaborations(r.store.db).Get(ctx, "s1", "alice")
	require.NoError(t, err)
	assert.True(t, c.Revoked())
}

func TestMarkAsSeenAndOpened(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	_, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)

	var kinds []ChangeKind
	r.store.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	seen, err := r.store.MarkAsSeen(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, seen.LastSeenAt)
	assert.Nil(t, seen.LastOpenedAt)
	assert.Equal(t, int64(1), seen.LastSeenVersion)

	opened, err := r.store.MarkAsOpened(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, opened.LastOpenedAt)
	assert.True(t, opened.LastSeenAt.After(*seen.LastSeenAt))

	assert.Equal(t, []ChangeKind{ChangeInteraction, ChangeInteraction}, kinds)

	_, err = r.store.MarkAsSeen(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrEntryNotFound)
}

func TestAudience_NearestCollaboratorMap(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	sp := space("alice")
	sp.Collaborators["bob"] = models.RoleEditor
	_, err := r.store.CreateEntry(ctx, "s1", sp)
	require.NoError(t, err)
	_, err = r.store.CreateEntry(ctx, "c1", &models.ChannelAttributes{Type: models.EntryTypeChannel, ParentID: "s1", Name: "general"})
	require.NoError(t, err)

	users, err := r.store.Audience(ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}

func TestAudience_IncludesInheritedReaders(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	sp := space("alice")
	sp.Collaborators["bob"] = models.RoleViewer
	_, err := r.store.CreateEntry(ctx, "s1", sp)
	require.NoError(t, err)
	_, err = r.store.CreateEntry(ctx, "f1", &models.FolderAttributes{
		Type: models.EntryTypeFolder, ParentID: "s1", Name: "private",
		Collaborators: map[string]models.Role{"alice": models.RoleOwner, "carol": models.RoleEditor},
	})
	require.NoError(t, err)
	_, err = r.store.CreateEntry(ctx, "c1", &models.ChannelAttributes{Type: models.EntryTypeChannel, ParentID: "f1", Name: "general"})
	require.NoError(t, err)

	role, err := r.store.resolver(r.store.db).ResolveRole(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, role)

	users, err := r.store.Audience(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, users)
}

func TestApplyLocalMutation_SerializesConcurrentWriters(t *testing.T) {
	r := newReplica(t, "alice", "dev-a")
	ctx := context.Background()
	_, err := r.store.CreateEntry(ctx, "s1", space("alice"))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Mutate(ctx, r.store, "s1", func(s *models.SpaceAttributes) error {
				s.Description = fmt.Sprintf("writer %d", i)
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	e, err := r.store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(writers+1), e.LocalVersion)
	assert.Len(t, r.batch(t), writers+1)
}
