package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/access"
	"github.com/dmitrijs2005/entrysync/internal/server/applier"
	"github.com/dmitrijs2005/entrysync/internal/server/events"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
)

const (
	DefaultPullLimit = 500
	MaxPullLimit     = 2000
)

// PullResult is one page of changes visible to a user.
type PullResult struct {
	Entries        []models.Entry
	Collaborations []models.Collaboration
	Interactions   []models.Interaction
	Next           syncproto.Cursor
	HasMore        bool
}

// SyncService serves the push and pull sides of replication.
type SyncService struct {
	db      applier.DB
	repos   repomanager.RepositoryManager
	applier *applier.Applier
	bus     events.Bus
	log     logging.Logger
}

func NewSyncService(db applier.DB, repos repomanager.RepositoryManager, bus events.Bus, log logging.Logger) *SyncService {
	return &SyncService{
		db:      db,
		repos:   repos,
		applier: applier.New(db, repos, bus, log),
		bus:     bus,
		log:     log.With("module", "sync_service"),
	}
}

// Push applies a batch of transactions for userID and returns one result
// per transaction in request order.
func (s *SyncService) Push(ctx context.Context, userID, workspaceID string, txs []*domain.Transaction) []applier.Result {
	return s.applier.Apply(ctx, userID, workspaceID, txs)
}

// Pull returns the changes after cursor that userID may see. Each stream
// is paged independently; the returned cursor moves past rows that were
// filtered out so they are not scanned again.
//
// A collaboration granted in this page may open up entries the user
// skipped earlier. Those entries are backfilled from the granted tree.
func (s *SyncService) Pull(ctx context.Context, userID, workspaceID string, cursor syncproto.Cursor, limit int) (*PullResult, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", common.ErrInvalidRequest)
	}
	switch {
	case limit <= 0:
		limit = DefaultPullLimit
	case limit > MaxPullLimit:
		limit = MaxPullLimit
	}

	src := access.NewSource(s.repos, s.db)
	out := &PullResult{Next: cursor}

	rows, err := s.repos.Entries(s.db).ListSince(ctx, workspaceID, cursor.Entries, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out.HasMore = len(rows) == limit
	seen := make(map[string]struct{}, len(rows))
	for i := range rows {
		e := &rows[i]
		out.Next.Entries = max(out.Next.Entries, e.Revision)
		ok, err := src.Visible(ctx, e, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Entries = append(out.Entries, *e)
			seen[e.ID] = struct{}{}
		}
	}

	grants, err := s.repos.Collaborations(s.db).ListSince(ctx, userID, workspaceID, cursor.Collaborations, limit)
	if err != nil {
		return nil, fmt.Errorf("list collaborations: %w", err)
	}
	out.HasMore = out.HasMore || len(grants) == limit
	out.Collaborations = grants
	for _, g := range grants {
		out.Next.Collaborations = max(out.Next.Collaborations, g.Revision)
		if g.Revoked() {
			continue
		}
		if err := s.backfill(ctx, src, userID, g.EntryID, out.Next.Entries, seen, out); err != nil {
			return nil, err
		}
	}

	interactions, err := s.repos.Interactions(s.db).ListSince(ctx, userID, workspaceID, cursor.Interactions, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	out.HasMore = out.HasMore || len(interactions) == limit
	out.Interactions = interactions
	for _, in := range interactions {
		out.Next.Interactions = max(out.Next.Interactions, in.Revision)
	}

	return out, nil
}

// backfill appends the visible entries of the tree holding entryID whose
// revision the client has already passed.
func (s *SyncService) backfill(ctx context.Context, src *access.Source, userID, entryID string, upTo int64,
	seen map[string]struct{}, out *PullResult) error {
	granted, err := s.repos.Entries(s.db).Get(ctx, entryID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	tree, err := s.repos.Entries(s.db).ListByRoot(ctx, granted.RootID)
	if err != nil {
		return fmt.Errorf("list tree %s: %w", granted.RootID, err)
	}
	for i := range tree {
		e := &tree[i]
		if _, dup := seen[e.ID]; dup || e.Revision > upTo {
			continue
		}
		ok, err := src.Visible(ctx, e, userID)
		if err != nil {
			return err
		}
		if ok {
			out.Entries = append(out.Entries, *e)
			seen[e.ID] = struct{}{}
		}
	}
	return nil
}

// PushInteractions merges the read state of userID. Rows for entries the
// user cannot see are dropped. The merged rows are returned and announced
// to the user's other devices.
func (s *SyncService) PushInteractions(ctx context.Context, userID, workspaceID string, in []*domain.Interaction) ([]models.Interaction, error) {
	src := access.NewSource(s.repos, s.db)
	var merged []models.Interaction
	for _, i := range in {
		if i.EntryID == "" {
			return nil, fmt.Errorf("%w: entry id is required", common.ErrInvalidRequest)
		}
		e, err := s.repos.Entries(s.db).Get(ctx, i.EntryID)
		if errors.Is(err, common.ErrNotFound) {
			s.log.Debug(ctx, "interaction for unknown entry dropped", "entry", i.EntryID)
			continue
		}
		if err != nil {
			return nil, err
		}
		ok, err := src.Visible(ctx, e, userID)
		if err != nil {
			return nil, err
		}
		if !ok || e.WorkspaceID != workspaceID {
			s.log.Debug(ctx, "interaction for invisible entry dropped", "entry", i.EntryID)
			continue
		}

		row := *i
		row.UserID = userID
		row.WorkspaceID = workspaceID
		m, err := dbx.WithTxResult(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Interaction, error) {
			if err := s.repos.Revisions(tx).LockWorkspace(ctx, workspaceID); err != nil {
				return nil, err
			}
			return s.repos.Interactions(tx).Merge(ctx, &row)
		})
		if err != nil {
			return nil, fmt.Errorf("merge interaction: %w", err)
		}
		merged = append(merged, *m)

		ev := events.Event{UserIDs: []string{userID}, Change: syncproto.EntityChanged{
			WorkspaceID: workspaceID, EntryID: m.EntryID, Kind: syncproto.KindInteraction, Version: m.Version,
		}}
		if err := s.bus.Publish(ctx, ev); err != nil {
			s.log.Warn(ctx, "failed to publish interaction", "entry", m.EntryID, "error", err)
		}
	}
	return merged, nil
}
