// Package memory is an in-process RepositoryManager. Every repository shares
// one store and ignores the DBTX it is bound to, so writes are not rolled
// back with the surrounding transaction. Service tests run against it.
package memory

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/collaborations"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/entries"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/interactions"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/revisions"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/transactions"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/users"
)

type key struct{ entry, user string }

type store struct {
	mu             sync.Mutex
	revision       int64
	users          map[string]models.User
	entries        map[string]models.Entry
	applied        map[string]models.AppliedTransaction
	collaborations map[key]models.Collaboration
	interactions   map[key]models.Interaction
	workspaceLocks map[string]int
}

// RepositoryManager vends repositories over one shared in-memory store.
type RepositoryManager struct {
	s *store
}

func NewRepositoryManager() *RepositoryManager {
	return &RepositoryManager{s: &store{
		users:          make(map[string]models.User),
		entries:        make(map[string]models.Entry),
		applied:        make(map[string]models.AppliedTransaction),
		collaborations: make(map[key]models.Collaboration),
		interactions:   make(map[key]models.Interaction),
		workspaceLocks: make(map[string]int),
	}}
}

func (m *RepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *RepositoryManager) Users(dbx.DBTX) users.Repository { return userRepo{m.s} }

func (m *RepositoryManager) Entries(dbx.DBTX) entries.Repository { return entryRepo{m.s} }

func (m *RepositoryManager) Transactions(dbx.DBTX) transactions.Repository { return txRepo{m.s} }

func (m *RepositoryManager) Collaborations(dbx.DBTX) collaborations.Repository {
	return collaborationRepo{m.s}
}

func (m *RepositoryManager) Interactions(dbx.DBTX) interactions.Repository {
	return interactionRepo{m.s}
}

// Revisions records lock requests only; the store already applies each
// write atomically.
func (m *RepositoryManager) Revisions(dbx.DBTX) revisions.Repository { return revisionRepo{m.s} }

// WorkspaceLocks reports how many times a workspace revision lock was taken.
func (m *RepositoryManager) WorkspaceLocks(workspaceID string) int {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.workspaceLocks[workspaceID]
}

type revisionRepo struct{ s *store }

func (r revisionRepo) LockWorkspace(_ context.Context, workspaceID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.workspaceLocks[workspaceID]++
	return nil
}

func (s *store) nextRevision() int64 {
	s.revision++
	return s.revision
}

/****** users ******/

type userRepo struct{ s *store }

func (r userRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.UserName == u.UserName {
			return nil, fmt.Errorf("user %s: %w", u.UserName, common.ErrAlreadyExists)
		}
	}
	u.CreatedAt = time.Now().UTC()
	r.s.users[u.ID] = *u
	return u, nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.UserName == username {
			return &u, nil
		}
	}
	return nil, common.ErrNotFound
}

/****** entries ******/

type entryRepo struct{ s *store }

func (r entryRepo) Get(_ context.Context, id string) (*models.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entries[id]
	if !ok {
		return nil, common.ErrEntryNotFound
	}
	return &e, nil
}

func (r entryRepo) GetForUpdate(ctx context.Context, id string) (*models.Entry, error) {
	return r.Get(ctx, id)
}

func (r entryRepo) Insert(_ context.Context, e *models.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.entries[e.ID]; ok {
		return fmt.Errorf("entry %s: %w", e.ID, common.ErrAlreadyExists)
	}
	e.Revision = r.s.nextRevision()
	e.Deleted = e.DeletedAt != nil
	r.s.entries[e.ID] = *e
	return nil
}

func (r entryRepo) Update(_ context.Context, e *models.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.entries[e.ID]
	if !ok {
		return common.ErrEntryNotFound
	}
	cur.State = e.State
	cur.UpdatedBy = e.UpdatedBy
	cur.UpdatedAt = e.UpdatedAt
	cur.Version = e.Version
	cur.DeletedAt = e.DeletedAt
	cur.Deleted = e.DeletedAt != nil
	cur.Revision = r.s.nextRevision()
	e.Revision = cur.Revision
	r.s.entries[e.ID] = cur
	return nil
}

func (r entryRepo) Parent(_ context.Context, id string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.entries[id]
	if !ok {
		return "", common.ErrEntryNotFound
	}
	return e.Parent(), nil
}

func (r entryRepo) filter(keep func(models.Entry) bool, order func(a, b models.Entry) int, limit int) []models.Entry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Entry
	for _, e := range r.s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, order)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func entryByRevision(a, b models.Entry) int { return cmp.Compare(a.Revision, b.Revision) }

func (r entryRepo) ListSince(_ context.Context, workspaceID string, after int64, limit int) ([]models.Entry, error) {
	return r.filter(func(e models.Entry) bool {
		return e.WorkspaceID == workspaceID && e.Revision > after
	}, entryByRevision, limit), nil
}

func (r entryRepo) ListByRoot(_ context.Context, rootID string) ([]models.Entry, error) {
	return r.filter(func(e models.Entry) bool { return e.RootID == rootID }, entryByRevision, 0), nil
}

func (r entryRepo) ListTombstoned(_ context.Context, before time.Time, limit int) ([]models.Entry, error) {
	return r.filter(func(e models.Entry) bool {
		return e.DeletedAt != nil && e.DeletedAt.Before(before)
	}, func(a, b models.Entry) int { return a.DeletedAt.Compare(*b.DeletedAt) }, limit), nil
}

func (r entryRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.entries[id]; !ok {
		return common.ErrEntryNotFound
	}
	delete(r.s.entries, id)
	return nil
}

/****** applied transactions ******/

type txRepo struct{ s *store }

func (r txRepo) Get(_ context.Context, id string) (*models.AppliedTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.applied[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &t, nil
}

func (r txRepo) Insert(_ context.Context, t *models.AppliedTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.applied[t.ID]; ok {
		return fmt.Errorf("transaction %s: %w", t.ID, common.ErrAlreadyExists)
	}
	t.AppliedAt = time.Now().UTC()
	r.s.applied[t.ID] = *t
	return nil
}

func (r txRepo) DeleteByEntry(_ context.Context, entryID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, t := range r.s.applied {
		if t.EntryID == entryID {
			delete(r.s.applied, id)
			n++
		}
	}
	return n, nil
}

/****** collaborations ******/

type collaborationRepo struct{ s *store }

func (r collaborationRepo) Get(_ context.Context, entryID, userID string) (*models.Collaboration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.collaborations[key{entryID, userID}]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &c, nil
}

func (r collaborationRepo) list(keep func(models.Collaboration) bool, limit int) []models.Collaboration {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Collaboration
	for _, c := range r.s.collaborations {
		if keep(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b models.Collaboration) int { return cmp.Compare(a.Revision, b.Revision) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r collaborationRepo) ListByEntry(_ context.Context, entryID string) ([]models.Collaboration, error) {
	out := r.list(func(c models.Collaboration) bool { return c.EntryID == entryID }, 0)
	slices.SortFunc(out, func(a, b models.Collaboration) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (r collaborationRepo) ListSince(_ context.Context, userID, workspaceID string, after int64, limit int) ([]models.Collaboration, error) {
	return r.list(func(c models.Collaboration) bool {
		return c.UserID == userID && c.WorkspaceID == workspaceID && c.Revision > after
	}, limit), nil
}

func (r collaborationRepo) Upsert(_ context.Context, c *models.Collaboration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key{c.EntryID, c.UserID}
	if cur, ok := r.s.collaborations[k]; ok {
		if c.Version <= cur.Version {
			return common.ErrVersionConflict
		}
		c.CreatedAt = cur.CreatedAt
	}
	c.Revision = r.s.nextRevision()
	r.s.collaborations[k] = *c
	return nil
}

func (r collaborationRepo) UsersByRoot(_ context.Context, rootID string) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for k := range r.s.collaborations {
		e, ok := r.s.entries[k.entry]
		if !ok || e.RootID != rootID {
			continue
		}
		if _, dup := seen[k.user]; !dup {
			seen[k.user] = struct{}{}
			out = append(out, k.user)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r collaborationRepo) DeleteByEntry(_ context.Context, entryID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k := range r.s.collaborations {
		if k.entry == entryID {
			delete(r.s.collaborations, k)
			n++
		}
	}
	return n, nil
}

/****** interactions ******/

type interactionRepo struct{ s *store }

func later(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil || a.After(*b):
		return a
	default:
		return b
	}
}

func (r interactionRepo) Merge(_ context.Context, in *domain.Interaction) (*models.Interaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key{in.EntryID, in.UserID}
	cur, ok := r.s.interactions[k]
	if !ok {
		cur = models.Interaction{Interaction: domain.Interaction{EntryID: in.EntryID, UserID: in.UserID,
			WorkspaceID: in.WorkspaceID}}
	}
	cur.LastSeenAt = later(cur.LastSeenAt, in.LastSeenAt)
	cur.LastOpenedAt = later(cur.LastOpenedAt, in.LastOpenedAt)
	cur.LastSeenVersion = max(cur.LastSeenVersion, in.LastSeenVersion)
	cur.Version++
	cur.Revision = r.s.nextRevision()
	r.s.interactions[k] = cur
	return &cur, nil
}

func (r interactionRepo) ListSince(_ context.Context, userID, workspaceID string, after int64, limit int) ([]models.Interaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Interaction
	for _, i := range r.s.interactions {
		if i.UserID == userID && i.WorkspaceID == workspaceID && i.Revision > after {
			out = append(out, i)
		}
	}
	slices.SortFunc(out, func(a, b models.Interaction) int { return cmp.Compare(a.Revision, b.Revision) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r interactionRepo) DeleteByEntry(_ context.Context, entryID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k := range r.s.interactions {
		if k.entry == entryID {
			delete(r.s.interactions, k)
			n++
		}
	}
	return n, nil
}
