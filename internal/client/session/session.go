// Package session ties the local replica of one account on one workspace to
// the sync engine. A Session lives as long as the login: it owns the store,
// the outbox, the syncer, the radar and the optional realtime socket.
package session

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/entrysync/internal/client/outbox"
	"github.com/dmitrijs2005/entrysync/internal/client/radar"
	"github.com/dmitrijs2005/entrysync/internal/client/realtime"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/client/store"
	"github.com/dmitrijs2005/entrysync/internal/client/syncer"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"golang.org/x/sync/errgroup"
)

// Transport is the remote sync service. AccessToken authenticates the
// realtime socket.
type Transport interface {
	syncer.Transport
	AccessToken() string
}

type Options struct {
	Identity   store.Identity
	Sync       syncer.Config
	MaxRetries int
	// Realtime is nil when no notification socket should be kept.
	Realtime *realtime.Settings
}

type Session struct {
	Store  *store.Store
	Outbox *outbox.Outbox
	Syncer *syncer.Syncer
	Radar  *radar.Radar

	realtime *realtime.Client
	id       store.Identity
	log      logging.Logger
}

func New(db *sql.DB, repos repomanager.RepositoryManager, transport Transport, opts Options, log logging.Logger) *Session {
	log = log.With("user", opts.Identity.UserID)
	opts.Sync.WorkspaceID = opts.Identity.WorkspaceID

	ob := outbox.New(db, repos, opts.Identity.WorkspaceID, opts.MaxRetries, log)
	st := store.New(db, repos, ob, opts.Identity, log)
	s := &Session{
		Store:  st,
		Outbox: ob,
		Syncer: syncer.New(opts.Sync, transport, st, ob, repos.Metadata(db), log),
		Radar:  radar.New(st, log),
		id:     opts.Identity,
		log:    log.With("module", "session"),
	}

	st.Subscribe(s.onChange)
	if opts.Realtime != nil {
		s.realtime = realtime.New(opts.Realtime, transport.AccessToken, s.onEntityChanged, log)
	}
	return s
}

func (s *Session) onChange(c store.Change) {
	s.Radar.Observe(context.Background(), c)
	switch c.Kind {
	case store.ChangeLocal:
		s.Syncer.TriggerPush()
	case store.ChangeInteraction:
		if c.Pending {
			s.Syncer.TriggerPush()
		}
	}
}

func (s *Session) onEntityChanged(ev syncproto.EntityChanged) {
	if ev.WorkspaceID != "" && ev.WorkspaceID != s.id.WorkspaceID {
		return
	}
	s.Syncer.TriggerPull()
}

// Rebuild recomputes the radar of the workspace from the stored entries and
// interactions.
func (s *Session) Rebuild(ctx context.Context) error {
	entries, err := s.Store.List(ctx)
	if err != nil {
		return err
	}
	interactions, err := s.Store.Interactions(ctx)
	if err != nil {
		return err
	}
	return s.Radar.Rebuild(s.id.WorkspaceID, entries, interactions)
}

// Run rebuilds the radar and keeps the replica in sync until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Rebuild(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Syncer.Run(ctx) })
	if s.realtime != nil {
		g.Go(func() error { return s.realtime.Run(ctx) })
	}
	s.log.Info(ctx, "session started", "workspace", s.id.WorkspaceID)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Housekeeping drops acknowledged transactions.
func (s *Session) Housekeeping(ctx context.Context) error {
	n, err := s.Outbox.Prune(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Debug(ctx, "pruned acknowledged transactions", "count", n)
	}
	return nil
}

// Counts returns the local user's radar counts for an entry.
func (s *Session) Counts(entryID string) radar.Counts {
	return s.Radar.Counts(s.id.UserID, s.id.WorkspaceID, entryID)
}

// HasUnseen reports whether anything in the workspace is unseen by the
// local user.
func (s *Session) HasUnseen() bool {
	return s.Radar.HasUnseen(s.id.UserID, s.id.WorkspaceID)
}

func (s *Session) Identity() store.Identity {
	return s.id
}
