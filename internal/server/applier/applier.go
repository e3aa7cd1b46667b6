// Package applier applies pushed transactions to the canonical entries.
// Every transaction is authorized against the actor's effective role,
// applied at most once per id, serialized per entry and announced on the
// event bus after commit.
package applier

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/crdt"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/roles"
	"github.com/dmitrijs2005/entrysync/internal/server/access"
	"github.com/dmitrijs2005/entrysync/internal/server/events"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
)

// DB is what the applier needs from *sql.DB.
type DB interface {
	dbx.TxBeginner
	dbx.DBTX
}

// Result is the outcome of one transaction. Version is the entry version
// after the transaction; Err is nil on success.
type Result struct {
	TransactionID string
	Version       int64
	Err           error
}

type Applier struct {
	db    DB
	repos repomanager.RepositoryManager
	bus   events.Bus
	log   logging.Logger
	locks *keyedMutex
	now   func() time.Time
}

func New(db DB, repos repomanager.RepositoryManager, bus events.Bus, log logging.Logger) *Applier {
	return &Applier{
		db:    db,
		repos: repos,
		bus:   bus,
		log:   log.With("module", "applier"),
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// outcome is what a committed transaction changed.
type outcome struct {
	entry   *models.Entry
	version int64
	changed bool
	// collaborators whose grants changed, including revocations
	granted []string
}

// Apply applies txs in order on behalf of actor. One transaction failing
// does not stop the rest; results are returned in request order.
func (a *Applier) Apply(ctx context.Context, actor, workspaceID string, txs []*domain.Transaction) []Result {
	results := make([]Result, len(txs))
	for i, tx := range txs {
		results[i] = a.applyOne(ctx, actor, workspaceID, tx)
	}
	return results
}

func (a *Applier) applyOne(ctx context.Context, actor, workspaceID string, tx *domain.Transaction) Result {
	res := Result{TransactionID: tx.ID}
	if tx.ID == "" || tx.EntryID == "" {
		res.Err = fmt.Errorf("%w: transaction and entry ids are required", common.ErrInvalidEntry)
		return res
	}
	if tx.CreatedBy != "" && tx.CreatedBy != actor {
		res.Err = fmt.Errorf("%w: transaction authored by %s", common.ErrForbidden, tx.CreatedBy)
		return res
	}

	unlock := a.locks.Lock(tx.EntryID)
	out, err := dbx.WithTxResult(ctx, a.db, nil, func(ctx context.Context, q dbx.DBTX) (*outcome, error) {
		return a.apply(ctx, q, actor, workspaceID, tx)
	})
	unlock()

	if err != nil {
		a.log.Debug(ctx, "transaction rejected", "tx", tx.ID, "entry", tx.EntryID, "error", err)
		res.Err = err
		return res
	}
	res.Version = out.version
	if out.changed {
		a.announce(ctx, actor, out)
	}
	return res
}

func (a *Applier) apply(ctx context.Context, q dbx.DBTX, actor, workspaceID string, tx *domain.Transaction) (*outcome, error) {
	applied, err := a.repos.Transactions(q).Get(ctx, tx.ID)
	if err == nil {
		return &outcome{version: applied.Version}, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	var out *outcome
	switch tx.Operation {
	case domain.OperationCreate:
		out, err = a.create(ctx, q, actor, workspaceID, tx)
	case domain.OperationUpdate:
		out, err = a.update(ctx, q, actor, workspaceID, tx)
	case domain.OperationDelete:
		out, err = a.delete(ctx, q, actor, workspaceID, tx)
	default:
		err = fmt.Errorf("%w: unknown operation %q", common.ErrInvalidEntry, tx.Operation)
	}
	if err != nil {
		return nil, err
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = a.now()
	}
	if err := a.repos.Transactions(q).Insert(ctx, &models.AppliedTransaction{
		ID:          tx.ID,
		EntryID:     tx.EntryID,
		WorkspaceID: workspaceID,
		Operation:   tx.Operation,
		CreatedBy:   actor,
		CreatedAt:   createdAt,
		Version:     out.version,
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func invalid(err error) error {
	if errors.Is(err, common.ErrInvalidEntry) || errors.Is(err, common.ErrInvalidEntryType) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrInvalidEntry, err)
}

func (a *Applier) create(ctx context.Context, q dbx.DBTX, actor, workspaceID string, tx *domain.Transaction) (*outcome, error) {
	repo := a.repos.Entries(q)
	if _, err := repo.GetForUpdate(ctx, tx.EntryID); err == nil {
		return nil, fmt.Errorf("entry %s: %w", tx.EntryID, common.ErrAlreadyExists)
	} else if !errors.Is(err, common.ErrEntryNotFound) {
		return nil, err
	}

	state, _, err := crdt.Merge(nil, tx.Payload)
	if err != nil {
		return nil, invalid(err)
	}
	attrs, err := domain.AttributesFromState(state)
	if err != nil {
		return nil, invalid(err)
	}
	if err := domain.Validate(attrs); err != nil {
		return nil, err
	}

	e := &models.Entry{
		Entry: domain.Entry{
			ID:          tx.EntryID,
			WorkspaceID: workspaceID,
			Type:        attrs.EntryType(),
			RootID:      tx.EntryID,
			State:       state,
			CreatedBy:   actor,
			CreatedAt:   a.now(),
		},
		Version: 1,
	}

	if parentID := attrs.Parent(); parentID == "" {
		if !attrs.EntryType().IsRoot() {
			return nil, fmt.Errorf("%w: %s needs a parent", common.ErrInvalidEntry, attrs.EntryType())
		}
		if !domain.Collaborators(attrs)[actor].Valid() {
			return nil, fmt.Errorf("%w: creator must be a collaborator of a new root", common.ErrForbidden)
		}
	} else {
		parent, err := repo.Get(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("parent %s: %w", parentID, err)
		}
		if parent.DeletedAt != nil {
			return nil, fmt.Errorf("parent %s: %w", parentID, common.ErrEntryNotFound)
		}
		if parent.WorkspaceID != workspaceID {
			return nil, fmt.Errorf("%w: parent %s belongs to another workspace", common.ErrInvalidEntry, parentID)
		}
		role, err := access.Resolver(a.repos, q).ResolveRole(ctx, parentID, actor)
		if err != nil {
			return nil, err
		}
		if err := roles.CanCreate(role, attrs); err != nil {
			return nil, err
		}
		e.ParentID = &parentID
		e.RootID = parent.RootID
	}

	if err := a.repos.Revisions(q).LockWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	if err := repo.Insert(ctx, e); err != nil {
		return nil, err
	}
	granted, err := a.deriveCollaborations(ctx, q, e, attrs)
	if err != nil {
		return nil, err
	}
	return &outcome{entry: e, version: e.Version, changed: true, granted: granted}, nil
}

func (a *Applier) update(ctx context.Context, q dbx.DBTX, actor, workspaceID string, tx *domain.Transaction) (*outcome, error) {
	repo := a.repos.Entries(q)
	e, err := repo.GetForUpdate(ctx, tx.EntryID)
	if err != nil {
		return nil, err
	}
	if e.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("entry %s: %w", e.ID, common.ErrEntryNotFound)
	}
	if e.DeletedAt != nil {
		// edits racing a delete are absorbed by the tombstone
		return &outcome{version: e.Version}, nil
	}

	before, err := domain.AttributesFromState(e.State)
	if err != nil {
		return nil, err
	}
	merged, changed, err := crdt.Merge(e.State, tx.Payload)
	if err != nil {
		return nil, invalid(err)
	}
	after, err := domain.AttributesFromState(merged)
	if err != nil {
		return nil, invalid(err)
	}
	if after.EntryType() != e.Type || after.Parent() != e.Parent() {
		return nil, fmt.Errorf("%w: type and parent of %s are immutable", common.ErrInvalidEntry, e.ID)
	}

	role, err := access.Resolver(a.repos, q).ResolveRole(ctx, e.ID, actor)
	if err != nil {
		return nil, err
	}
	if err := roles.CanUpdate(role, e.CreatedBy == actor, before, after); err != nil {
		return nil, err
	}
	if !changed {
		return &outcome{version: e.Version}, nil
	}

	now := a.now()
	e.State = merged
	e.Version++
	e.UpdatedBy = actor
	e.UpdatedAt = &now
	if err := a.repos.Revisions(q).LockWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	if err := repo.Update(ctx, e); err != nil {
		return nil, err
	}
	granted, err := a.deriveCollaborations(ctx, q, e, after)
	if err != nil {
		return nil, err
	}
	return &outcome{entry: e, version: e.Version, changed: true, granted: granted}, nil
}

func (a *Applier) delete(ctx context.Context, q dbx.DBTX, actor, workspaceID string, tx *domain.Transaction) (*outcome, error) {
	repo := a.repos.Entries(q)
	e, err := repo.GetForUpdate(ctx, tx.EntryID)
	if err != nil {
		return nil, err
	}
	if e.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("entry %s: %w", e.ID, common.ErrEntryNotFound)
	}
	if e.DeletedAt != nil {
		return &outcome{version: e.Version}, nil
	}

	role, err := access.Resolver(a.repos, q).ResolveRole(ctx, e.ID, actor)
	if err != nil {
		return nil, err
	}
	if err := roles.CanDelete(role, e.CreatedBy == actor); err != nil {
		return nil, err
	}

	now := a.now()
	e.DeletedAt = &now
	e.Deleted = true
	e.Version++
	e.UpdatedBy = actor
	e.UpdatedAt = &now
	if err := a.repos.Revisions(q).LockWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	if err := repo.Update(ctx, e); err != nil {
		return nil, err
	}
	revoked, err := a.syncGrants(ctx, q, e, nil)
	if err != nil {
		return nil, err
	}
	return &outcome{entry: e, version: e.Version, changed: true, granted: revoked}, nil
}

// deriveCollaborations mirrors the collaborator map of attrs into
// collaboration rows. Variants without collaborators are left alone.
func (a *Applier) deriveCollaborations(ctx context.Context, q dbx.DBTX, e *models.Entry, attrs domain.Attributes) ([]string, error) {
	if _, ok := attrs.(domain.Collaborative); !ok {
		return nil, nil
	}
	return a.syncGrants(ctx, q, e, domain.Collaborators(attrs))
}

// syncGrants upserts a row per desired grant and revokes every other live
// grant on e, all stamped with the entry version. It returns the users
// whose rows changed.
func (a *Applier) syncGrants(ctx context.Context, q dbx.DBTX, e *models.Entry, desired map[string]domain.Role) ([]string, error) {
	repo := a.repos.Collaborations(q)
	existing, err := repo.ListByEntry(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	current := make(map[string]models.Collaboration, len(existing))
	for _, c := range existing {
		current[c.UserID] = c
	}

	now := a.now()
	var changed []string
	write := func(c *models.Collaboration) error {
		err := repo.Upsert(ctx, c)
		if errors.Is(err, common.ErrVersionConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		changed = append(changed, c.UserID)
		return nil
	}

	for _, user := range slices.Sorted(maps.Keys(desired)) {
		role := desired[user]
		if !role.Valid() {
			continue
		}
		cur, ok := current[user]
		if ok && !cur.Revoked() && cur.Role == role {
			continue
		}
		c := &models.Collaboration{Collaboration: domain.Collaboration{
			EntryID:     e.ID,
			WorkspaceID: e.WorkspaceID,
			UserID:      user,
			Role:        role,
			CreatedAt:   now,
			UpdatedAt:   now,
			Version:     e.Version,
		}}
		if ok {
			c.CreatedAt = cur.CreatedAt
		}
		if err := write(c); err != nil {
			return nil, err
		}
	}

	for _, c := range existing {
		if c.Revoked() || desired[c.UserID].Valid() {
			continue
		}
		c.DeletedAt = &now
		c.UpdatedAt = now
		c.Version = e.Version
		if err := write(&c); err != nil {
			return nil, err
		}
	}
	return changed, nil
}

// announce tells every user with a stake in the tree about the change.
// Failures are logged; clients catch up on their next pull.
func (a *Applier) announce(ctx context.Context, actor string, out *outcome) {
	e := out.entry
	recipients, err := a.repos.Collaborations(a.db).UsersByRoot(ctx, e.RootID)
	if err != nil {
		a.log.Warn(ctx, "failed to resolve event recipients", "entry", e.ID, "error", err)
	}
	recipients = append(recipients, actor)
	recipients = append(recipients, out.granted...)
	slices.Sort(recipients)
	recipients = slices.Compact(recipients)

	changes := []syncproto.EntityChanged{{WorkspaceID: e.WorkspaceID, EntryID: e.ID, Kind: syncproto.KindEntry, Version: e.Version}}
	if len(out.granted) > 0 {
		changes = append(changes, syncproto.EntityChanged{WorkspaceID: e.WorkspaceID, EntryID: e.ID,
			Kind: syncproto.KindCollaboration, Version: e.Version})
	}
	for _, c := range changes {
		if err := a.bus.Publish(ctx, events.Event{UserIDs: recipients, Change: c}); err != nil {
			a.log.Warn(ctx, "failed to publish change", "entry", e.ID, "kind", c.Kind, "error", err)
		}
	}
}
