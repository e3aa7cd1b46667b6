package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/crdt"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/models"
)

// ApplyRemoteUpdate merges a CRDT update into the stored state of an
// existing entry. Replaying an update is a no-op and reports false.
func (s *Store) ApplyRemoteUpdate(ctx context.Context, entryID string, update []byte) (bool, error) {
	var changed bool
	entry, err := s.write(ctx, func(ctx context.Context, tx dbx.DBTX) (*models.Entry, error) {
		repo := s.repos.Entries(tx)
		e, err := repo.Get(ctx, entryID)
		if err != nil {
			return nil, err
		}
		merged, ok, err := crdt.Merge(e.State, update)
		if err != nil {
			return nil, err
		}
		if !ok {
			return e, nil
		}
		if err := s.setState(e, merged); err != nil {
			return nil, err
		}
		changed = true
		return e, repo.Upsert(ctx, e)
	})
	if err != nil {
		return false, err
	}
	if changed {
		s.publish(Change{Kind: ChangeRemote, Operation: models.OperationUpdate, Entry: entry})
	}
	return changed, nil
}

func (s *Store) setState(e *models.Entry, state []byte) error {
	projection, err := models.ProjectState(state)
	if err != nil {
		return err
	}
	e.State = state
	e.Attributes = projection
	return nil
}

// ApplyServerEntry merges a pulled entry. Unknown entries are inserted;
// known ones keep their local registers and join the server state, so
// pending local edits survive the pull. Tombstones are sticky.
func (s *Store) ApplyServerEntry(ctx context.Context, in *models.Entry) error {
	var created, changed bool
	entry, err := s.write(ctx, func(ctx context.Context, tx dbx.DBTX) (*models.Entry, error) {
		repo := s.repos.Entries(tx)
		e, err := repo.Get(ctx, in.ID)
		switch {
		case errors.Is(err, common.ErrEntryNotFound):
			fresh := *in
			if err := s.setState(&fresh, in.State); err != nil {
				return nil, err
			}
			if fresh.LocalVersion == 0 {
				fresh.LocalVersion = 1
			}
			created, changed = true, true
			return &fresh, repo.Upsert(ctx, &fresh)
		case err != nil:
			return nil, err
		}

		merged, stateChanged, err := crdt.Merge(e.State, in.State)
		if err != nil {
			return nil, err
		}
		if stateChanged {
			if err := s.setState(e, merged); err != nil {
				return nil, err
			}
			e.UpdatedBy = in.UpdatedBy
			e.UpdatedAt = in.UpdatedAt
		}
		if in.Deleted && !e.Deleted {
			e.Deleted = true
			stateChanged = true
		}
		if in.ServerVersion != nil && (e.ServerVersion == nil || *e.ServerVersion < *in.ServerVersion) {
			e.ServerVersion = in.ServerVersion
		} else if !stateChanged {
			return e, nil
		}
		changed = stateChanged
		return e, repo.Upsert(ctx, e)
	})
	if err != nil {
		return err
	}

	if changed {
		op := models.OperationUpdate
		switch {
		case created:
			op = models.OperationCreate
		case entry.Deleted:
			op = models.OperationDelete
		}
		s.publish(Change{Kind: ChangeRemote, Operation: op, Created: created, Entry: entry})
	}
	return nil
}

// SetServerVersion records a server acknowledgement of an entry.
func (s *Store) SetServerVersion(ctx context.Context, entryID string, version int64) error {
	return s.repos.Entries(s.db).SetServerVersion(ctx, entryID, version)
}

// ApplyCollaboration stores a pulled grant. Stale versions are ignored. A
// revoked grant of the local user purges the outbox and read state of the
// entry and everything beneath it.
func (s *Store) ApplyCollaboration(ctx context.Context, c *models.Collaboration) error {
	var purged []string
	_, err := s.write(ctx, func(ctx context.Context, tx dbx.DBTX) (*models.Entry, error) {
		err := s.repos.Collaborations(tx).Upsert(ctx, c)
		if errors.Is(err, common.ErrVersionConflict) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !c.Revoked() || c.UserID != s.id.UserID {
			return nil, nil
		}

		ids, err := s.repos.Entries(tx).Descendants(ctx, c.EntryID)
		if err != nil {
			return nil, err
		}
		if _, err := s.repos.Transactions(tx).DeleteByEntries(ctx, ids); err != nil {
			return nil, err
		}
		if _, err := s.repos.Interactions(tx).DeleteByEntries(ctx, ids); err != nil {
			return nil, err
		}
		purged = ids
		return nil, nil
	})
	if err != nil {
		return err
	}

	if purged != nil {
		s.log.Info(ctx, "access revoked, purged local rows", "entry", c.EntryID, "entries", len(purged))
		s.publish(Change{Kind: ChangeRevoked, EntryIDs: purged})
	}
	return nil
}

// ApplyInteraction stores a pulled read state. Stale versions are ignored.
func (s *Store) ApplyInteraction(ctx context.Context, i *models.Interaction) error {
	err := s.repos.Interactions(s.db).ApplyRemote(ctx, i)
	if errors.Is(err, common.ErrVersionConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	if i.UserID == s.id.UserID {
		merged, err := s.repos.Interactions(s.db).Get(ctx, i.EntryID, i.UserID)
		if err != nil {
			return err
		}
		s.publish(Change{Kind: ChangeInteraction, Interaction: merged})
	}
	return nil
}

// PendingInteractions returns local read-state changes awaiting push.
func (s *Store) PendingInteractions(ctx context.Context, limit int) ([]models.Interaction, error) {
	return s.repos.Interactions(s.db).ListPending(ctx, s.id.WorkspaceID, limit)
}

// ClearPendingInteraction unmarks a pushed interaction.
func (s *Store) ClearPendingInteraction(ctx context.Context, i *models.Interaction) error {
	return s.repos.Interactions(s.db).ClearPending(ctx, i)
}

// MarkAsSeen records that the local user has seen the entry.
func (s *Store) MarkAsSeen(ctx context.Context, entryID string) (*models.Interaction, error) {
	return s.touch(ctx, entryID, false)
}

// MarkAsOpened records that the local user opened the entry, which also
// counts as seeing it.
func (s *Store) MarkAsOpened(ctx context.Context, entryID string) (*models.Interaction, error) {
	return s.touch(ctx, entryID, true)
}

func (s *Store) touch(ctx context.Context, entryID string, opened bool) (*models.Interaction, error) {
	e, err := s.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	version := e.LocalVersion
	if e.ServerVersion != nil {
		version = *e.ServerVersion
	}
	i := &models.Interaction{
		EntryID:         entryID,
		WorkspaceID:     s.id.WorkspaceID,
		UserID:          s.id.UserID,
		LastSeenAt:      &now,
		LastSeenVersion: version,
	}
	if opened {
		i.LastOpenedAt = &now
	}

	repo := s.repos.Interactions(s.db)
	if err := repo.SaveLocal(ctx, i); err != nil {
		return nil, err
	}
	merged, err := repo.Get(ctx, entryID, s.id.UserID)
	if err != nil {
		return nil, err
	}
	s.publish(Change{Kind: ChangeInteraction, Pending: true, Interaction: merged})
	return merged, nil
}

// Audience returns every user who can read entryID through the collaborator
// maps of the entry and its ancestors, each user with their nearest grant.
func (s *Store) Audience(ctx context.Context, entryID string) ([]string, error) {
	repo := s.repos.Entries(s.db)
	grants := make(map[string]models.Role)
	seen := make(map[string]struct{})
	for id := entryID; id != ""; {
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: parent chain of %s loops", common.ErrInvalidEntry, entryID)
		}
		seen[id] = struct{}{}

		e, err := repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if attrs, err := e.Decode(); err == nil {
			models.InheritGrants(grants, models.Collaborators(attrs))
		}
		id = e.Parent()
	}
	return models.GrantedUsers(grants), nil
}
