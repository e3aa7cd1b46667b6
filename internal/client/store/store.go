// Package store is the local replica of the entry tree. Every local write
// goes through one serialization point, lands in the database together with
// its outbox transaction, and is announced to subscribers after commit.
// Remote state is merged with the CRDT join, so pulls and notifications can
// be applied in any order and any number of times.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/client/outbox"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/crdt"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/roles"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ChangeKind classifies a committed write.
type ChangeKind int

const (
	// ChangeLocal is a local mutation that produced an outbox transaction.
	ChangeLocal ChangeKind = iota
	// ChangeRemote is server state merged into the replica.
	ChangeRemote
	// ChangeInteraction is a read-state change of the local user.
	ChangeInteraction
	// ChangeRevoked is a revoked grant of the local user that purged rows.
	ChangeRevoked
)

// Change is delivered to subscribers after commit.
type Change struct {
	Kind      ChangeKind
	Operation models.Operation
	Created   bool
	// Pending marks a local interaction that awaits push.
	Pending     bool
	Entry       *models.Entry
	Interaction *models.Interaction
	EntryIDs    []string
}

// Identity scopes a store to one account on one workspace. NodeID tags the
// CRDT registers written by this replica and is normally the device id.
type Identity struct {
	UserID      string
	WorkspaceID string
	NodeID      string
}

// MutateFunc receives a decoded copy of the current attributes and returns
// the desired attributes.
type MutateFunc func(models.Attributes) (models.Attributes, error)

type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	repos  repomanager.RepositoryManager
	outbox *outbox.Outbox
	id     Identity
	log    logging.Logger

	now     func() time.Time
	newTxID func() string

	subMu sync.RWMutex
	subs  []func(Change)
}

func New(db *sql.DB, repos repomanager.RepositoryManager, ob *outbox.Outbox, id Identity, log logging.Logger) *Store {
	return &Store{
		db:      db,
		repos:   repos,
		outbox:  ob,
		id:      id,
		log:     log.With("module", "store", "workspace", id.WorkspaceID),
		now:     func() time.Time { return time.Now().UTC() },
		newTxID: func() string { return ulid.Make().String() },
	}
}

func (s *Store) Identity() Identity {
	return s.id
}

// Subscribe registers fn for every committed change.
func (s *Store) Subscribe(fn func(Change)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) publish(c Change) {
	s.subMu.RLock()
	subs := append([]func(Change){}, s.subs...)
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(c)
	}
}

// write runs fn in a database transaction behind the replica's single
// mutation lock.
func (s *Store) write(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) (*models.Entry, error)) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dbx.WithTxResult(ctx, s.db, nil, fn)
}

// resolver returns a role resolver reading through db.
func (s *Store) resolver(db dbx.DBTX) *roles.Resolver {
	return roles.NewResolver(grantSource{repos: s.repos, db: db})
}

func (s *Store) Get(ctx context.Context, id string) (*models.Entry, error) {
	return s.repos.Entries(s.db).Get(ctx, id)
}

func (s *Store) List(ctx context.Context) ([]models.Entry, error) {
	return s.repos.Entries(s.db).List(ctx, s.id.WorkspaceID)
}

func (s *Store) Children(ctx context.Context, parentID string) ([]models.Entry, error) {
	return s.repos.Entries(s.db).Children(ctx, parentID)
}

// ResolveRole returns the local user's effective role on an entry.
func (s *Store) ResolveRole(ctx context.Context, entryID string) (models.Role, error) {
	return s.resolver(s.db).ResolveRole(ctx, entryID, s.id.UserID)
}

func (s *Store) Interactions(ctx context.Context) ([]models.Interaction, error) {
	return s.repos.Interactions(s.db).ListByUser(ctx, s.id.WorkspaceID, s.id.UserID)
}

// CreateEntry creates an entry from attrs and enqueues its create
// transaction. An empty id gets a fresh uuid.
func (s *Store) CreateEntry(ctx context.Context, id string, attrs models.Attributes) (*models.Entry, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := models.Validate(attrs); err != nil {
		return nil, err
	}
	fields, err := models.Flatten(attrs)
	if err != nil {
		return nil, err
	}

	entry, err := s.write(ctx, func(ctx context.Context, tx dbx.DBTX) (*models.Entry, error) {
		repo := s.repos.Entries(tx)
		if _, err := repo.Get(ctx, id); err == nil {
			return nil, fmt.Errorf("entry %s: %w", id, common.ErrAlreadyExists)
		} else if !errors.Is(err, common.ErrEntryNotFound) {
			return nil, err
		}

		rootID, err := s.authorizeCreate(ctx, tx, attrs)
		if err != nil {
			return nil, err
		}
		if rootID == "" {
			rootID = id
		}

		doc := crdt.Diff(crdt.New(), fields, s.id.NodeID)
		state := crdt.Encode(doc)
		projection, err := models.Nest(doc.Snapshot())
		if err != nil {
			return nil, err
		}

		now := s.now()
		e := &models.Entry{
			ID:           id,
			WorkspaceID:  s.id.WorkspaceID,
			Type:         attrs.EntryType(),
			RootID:       rootID,
			State:        state,
			Attributes:   projection,
			CreatedBy:    s.id.UserID,
			CreatedAt:    now,
			LocalVersion: 1,
		}
		if p := attrs.Parent(); p != "" {
			e.ParentID = &p
		}
		if err := repo.Upsert(ctx, e); err != nil {
			return nil, err
		}
		return e, s.outbox.EnqueueTx(ctx, tx, s.transaction(e.ID, models.OperationCreate, state, now))
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "entry created", "entry", entry.ID, "type", entry.Type)
	s.publish(Change{Kind: ChangeLocal, Operation: models.OperationCreate, Created: true, Entry: entry})
	return entry, nil
}

// authorizeCreate returns the root id of the new entry's parent, or "" for
// a new root.
func (s *Store) authorizeCreate(ctx context.Context, tx dbx.DBTX, attrs models.Attributes) (string, error) {
	parentID := attrs.Parent()
	if parentID == "" {
		if !attrs.EntryType().IsRoot() {
			return "", fmt.Errorf("%w: %s needs a parent", common.ErrInvalidEntry, attrs.EntryType())
		}
		if !models.Collaborators(attrs)[s.id.UserID].Valid() {
			return "", fmt.Errorf("%w: creator must be a collaborator of a new root", common.ErrForbidden)
		}
		return "", nil
	}

	parent, err := s.repos.Entries(tx).Get(ctx, parentID)
	if err != nil {
		return "", err
	}
	if parent.Deleted {
		return "", fmt.Errorf("parent %s: %w", parentID, common.ErrEntryNotFound)
	}
	role, err := s.resolver(tx).ResolveRole(ctx, parentID, s.id.UserID)
	if err != nil {
		return "", err
	}
	if err := roles.CanCreate(role, attrs); err != nil {
		return "", err
	}
	return parent.RootID, nil
}

func (s *Store) transaction(entryID string, op models.Operation, payload []byte, at time.Time) *models.Transaction {
	return &models.Transaction{
		ID:          s.newTxID(),
		EntryID:     entryID,
		WorkspaceID: s.id.WorkspaceID,
		Operation:   op,
		Payload:     payload,
		CreatedBy:   s.id.UserID,
		CreatedAt:   at,
	}
}

// ApplyLocalMutation decodes the entry, applies fn, and persists the change
// with its update transaction. The transaction payload is the CRDT delta.
// A mutation that changes nothing writes nothing. On any error neither the
// entry nor the outbox is touched.
func (s *Store) ApplyLocalMutation(ctx context.Context, entryID string, fn MutateFunc) (*models.Entry, error) {
	var changed bool
	entry, err := s.write(ctx, func(ctx context.Context, tx dbx.DBTX) (*models.Entry, error) {
		repo := s.repos.Entries(tx)
		e, err := repo.Get(ctx, entryID)
		if err != nil {
			return nil, err
		}
		if e.Deleted {
			return nil, fmt.Errorf("entry %s: %w", entryID, common.ErrEntryNotFound)
		}

		doc, err := crdt.Decode(e.State)
		if err != nil {
			return nil, err
		}
		before, err := models.Decode(doc.Snapshot())
		if err != nil {
			return nil, err
		}
		working, err := models.Decode(doc.Snapshot())
		if err != nil {
			return nil, err
		}

		after, err := fn(working)
		if err != nil {
			return nil, err
		}
		if after == nil || after.EntryType() != before.EntryType() {
			return nil, fmt.Errorf("%w: mutation changed the type of %s", common.ErrInvalidEntryType, entryID)
		}
		if after.Parent() != before.Parent() {
			return nil, fmt.Errorf("%w: entries cannot be moved", common.ErrInvalidEntry)
		}
		if err := models.Validate(after); err != nil {
			return nil, err
		}

		role, err := s.resolver(tx).ResolveRole(ctx, entryID, s.id.UserID)
		if err != nil {
			return nil, err
		}
		if err := roles.CanUpdate(role, e.CreatedBy == s.id.UserID, before, after); err != nil {
			return nil, err
		}

		fields, err := models.Flatten(after)
		if err != nil {
			return nil, err
		}
		delta := crdt.Diff(doc, fields, s.id.NodeID)
		if delta.Len() == 0 {
			return e, nil
		}
		doc.Merge(delta)

		projection, err := models.Nest(doc.Snapshot())
		if err != nil {
			return nil, err
		}
		payload := crdt.Encode(delta)
		now := s.now()
		e.State = crdt.Encode(doc)
		e.Attributes = projection
		e.UpdatedBy = s.id.UserID
		e.UpdatedAt = &now
		e.LocalVersion++
		if err := repo.Upsert(ctx, e); err != nil {
			return nil, err
		}
		changed = true
		return e, s.outbox.EnqueueTx(ctx, tx, s.transaction(e.ID, models.OperationUpdate, payload, now))
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publish(Change{Kind: ChangeLocal, Operation: models.OperationUpdate, Entry: entry})
	}
	return entry, nil
}

// Mutate is ApplyLocalMutation for a known variant. It fails with
// common.ErrInvalidEntryType when the entry holds another variant.
func Mutate[T models.Attributes](ctx context.Context, s *Store, entryID string, fn func(T) error) (*models.Entry, error) {
	return s.ApplyLocalMutation(ctx, entryID, func(a models.Attributes) (models.Attributes, error) {
		v, ok := a.(T)
		if !ok {
			return nil, fmt.Errorf("%w: entry %s is a %s", common.ErrInvalidEntryType, entryID, a.EntryType())
		}
		if err := fn(v); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// DeleteEntry tombstones an entry and enqueues its delete transaction.
func (s *Store) DeleteEntry(ctx context.Context, entryID string) error {
	entry, err := s.write(ctx, func(ctx context.Context, tx dbx.DBTX) (*models.Entry, error) {
		repo := s.repos.Entries(tx)
		e, err := repo.Get(ctx, entryID)
		if err != nil {
			return nil, err
		}
		if e.Deleted {
			return nil, fmt.Errorf("entry %s: %w", entryID, common.ErrEntryNotFound)
		}
		role, err := s.resolver(tx).ResolveRole(ctx, entryID, s.id.UserID)
		if err != nil {
			return nil, err
		}
		if err := roles.CanDelete(role, e.CreatedBy == s.id.UserID); err != nil {
			return nil, err
		}

		now := s.now()
		if err := repo.MarkDeleted(ctx, entryID, s.id.UserID, now); err != nil {
			return nil, err
		}
		e.Deleted = true
		e.UpdatedBy = s.id.UserID
		e.UpdatedAt = &now
		e.LocalVersion++
		return e, s.outbox.EnqueueTx(ctx, tx, s.transaction(entryID, models.OperationDelete, nil, now))
	})
	if err != nil {
		return err
	}

	s.publish(Change{Kind: ChangeLocal, Operation: models.OperationDelete, Entry: entry})
	return nil
}
