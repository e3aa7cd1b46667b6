// Package syncer drives synchronization between the local replica and the
// server.
//
// A Syncer moves through Disconnected, Connecting and Connected. Connecting
// pings the server; a failure waits out an exponential backoff that restarts
// from its minimum after every successful connection. While connected a push
// loop and a pull loop run independently on their own intervals and can be
// woken early with TriggerPush and TriggerPull. A transient network failure
// in either loop drops the connection and the cycle starts over.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/backoff"
	"github.com/dmitrijs2005/entrysync/internal/client/outbox"
	"github.com/dmitrijs2005/entrysync/internal/client/store"
	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrResultMismatch is returned when the server answers a push with a
// different number of results than transactions sent.
var ErrResultMismatch = errors.New("push results do not match batch")

const (
	DefaultInterval  = time.Minute
	DefaultBatchSize = 100
	DefaultPullLimit = 500
)

// Transport is the part of the sync service the syncer needs.
type Transport interface {
	Ping(ctx context.Context) error
	Push(ctx context.Context, workspaceID string, txs []syncproto.Transaction) ([]syncproto.TransactionResult, error)
	Pull(ctx context.Context, workspaceID, cursor string, limit int) (*syncproto.PullResponse, error)
	PushInteractions(ctx context.Context, workspaceID string, in []syncproto.Interaction) ([]syncproto.Interaction, error)
}

// Cursors persists the pull position per workspace.
type Cursors interface {
	Cursor(ctx context.Context, workspaceID string) (string, error)
	SetCursor(ctx context.Context, workspaceID, cursor string) error
}

type Config struct {
	WorkspaceID  string
	PushInterval time.Duration
	PullInterval time.Duration
	BatchSize    int
	PullLimit    int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

func (c *Config) defaults() {
	if c.PushInterval <= 0 {
		c.PushInterval = DefaultInterval
	}
	if c.PullInterval <= 0 {
		c.PullInterval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PullLimit <= 0 {
		c.PullLimit = DefaultPullLimit
	}
}

type Syncer struct {
	cfg       Config
	transport Transport
	store     *store.Store
	outbox    *outbox.Outbox
	cursors   Cursors
	backoff   *backoff.Calculator
	log       logging.Logger

	state  atomic.Int32
	pushCh chan struct{}
	pullCh chan struct{}
	pulls  singleflight.Group
	pushMu sync.Mutex

	// OnStateChange and OnPermanentFailure are optional and must be set
	// before Run.
	OnStateChange      func(State)
	OnPermanentFailure func(txID string, err error)
}

func New(cfg Config, transport Transport, st *store.Store, ob *outbox.Outbox, cursors Cursors, log logging.Logger) *Syncer {
	cfg.defaults()
	return &Syncer{
		cfg:       cfg,
		transport: transport,
		store:     st,
		outbox:    ob,
		cursors:   cursors,
		backoff:   backoff.New(cfg.BackoffMin, cfg.BackoffMax),
		log:       log.With("module", "syncer", "workspace", cfg.WorkspaceID),
		pushCh:    make(chan struct{}, 1),
		pullCh:    make(chan struct{}, 1),
	}
}

func (s *Syncer) State() State {
	return State(s.state.Load())
}

func (s *Syncer) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	s.log.Debug(context.Background(), "connection state changed", "state", st.String())
	if s.OnStateChange != nil {
		s.OnStateChange(st)
	}
}

// TriggerPush wakes the push loop. It never blocks.
func (s *Syncer) TriggerPush() {
	select {
	case s.pushCh <- struct{}{}:
	default:
	}
}

// TriggerPull wakes the pull loop. It never blocks.
func (s *Syncer) TriggerPull() {
	select {
	case s.pullCh <- struct{}{}:
	default:
	}
}

// Run connects and syncs until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	defer s.setState(StateDisconnected)
	for {
		s.setState(StateConnecting)
		err := s.transport.Ping(ctx)
		if err == nil {
			s.backoff.Reset()
			s.setState(StateConnected)
			err = s.connected(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.setState(StateDisconnected)
		s.log.Warn(ctx, "sync connection lost", "error", err, "attempt", s.backoff.Attempts()+1)
		if werr := s.backoff.Wait(ctx); werr != nil {
			return werr
		}
	}
}

func (s *Syncer) connected(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, s.cfg.PushInterval, s.pushCh, s.PushOnce) })
	g.Go(func() error { return s.loop(ctx, s.cfg.PullInterval, s.pullCh, s.PullOnce) })
	return g.Wait()
}

// loop runs cycle now, on every tick and on every trigger. Errors that mean
// the server is unreachable end the loop; anything else is logged and the
// next cycle retries.
func (s *Syncer) loop(ctx context.Context, interval time.Duration, trigger <-chan struct{}, cycle func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if disconnects(err) {
				return err
			}
			s.log.Error(ctx, "sync cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-trigger:
		}
	}
}

func disconnects(err error) bool {
	return errors.Is(err, common.ErrTransientNetwork) || errors.Is(err, common.ErrUnauthorized)
}

// PushOnce drains the outbox in batches and then pushes pending read state.
// Each transaction's result is recorded on its own; a failure of one never
// affects the others.
func (s *Syncer) PushOnce(ctx context.Context) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	acked := 0
	for {
		n, full, err := s.pushBatch(ctx)
		acked += n
		if err != nil {
			return err
		}
		if !full {
			break
		}
	}
	if acked > 0 {
		s.TriggerPull()
	}
	return s.pushInteractions(ctx)
}

func (s *Syncer) pushBatch(ctx context.Context) (acked int, full bool, err error) {
	batch, err := s.outbox.NextBatch(ctx, s.cfg.BatchSize)
	if err != nil || len(batch) == 0 {
		return 0, false, err
	}

	ids := make([]string, len(batch))
	wire := make([]syncproto.Transaction, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
		wire[i] = syncproto.FromTransaction(&batch[i])
	}
	if err := s.outbox.MarkSent(ctx, ids); err != nil {
		return 0, false, err
	}

	results, err := s.transport.Push(ctx, s.cfg.WorkspaceID, wire)
	if err != nil {
		if disconnects(err) || ctx.Err() != nil {
			// sent rows stay in the queue and go out again next cycle
			return 0, false, err
		}
		for _, id := range ids {
			s.fail(ctx, id, err.Error())
		}
		return 0, false, err
	}
	if len(results) != len(batch) {
		err := fmt.Errorf("%w: sent %d, got %d", ErrResultMismatch, len(batch), len(results))
		for _, id := range ids {
			s.fail(ctx, id, err.Error())
		}
		return 0, false, err
	}

	for i, r := range results {
		tx := batch[i]
		if r.ID != tx.ID {
			s.fail(ctx, tx.ID, fmt.Sprintf("result %d is for %s", i, r.ID))
			continue
		}
		if r.Status != syncproto.StatusSuccess {
			s.fail(ctx, tx.ID, r.Code+": "+r.Error)
			continue
		}
		if err := s.outbox.MarkAcknowledged(ctx, tx.ID); err != nil {
			return acked, false, err
		}
		if r.Version > 0 {
			if err := s.store.SetServerVersion(ctx, tx.EntryID, r.Version); err != nil {
				s.log.Warn(ctx, "failed to record server version", "entry", tx.EntryID, "error", err)
			}
		}
		acked++
	}
	s.log.Debug(ctx, "pushed batch", "sent", len(batch), "acknowledged", acked)
	// keep draining only while whole batches succeed, so a failing
	// transaction is attempted once per cycle
	return acked, len(batch) == s.cfg.BatchSize && acked == len(batch), nil
}

func (s *Syncer) fail(ctx context.Context, id, reason string) {
	err := s.outbox.MarkError(ctx, id, reason)
	if err == nil {
		return
	}
	if errors.Is(err, common.ErrPermanentApply) {
		if s.OnPermanentFailure != nil {
			s.OnPermanentFailure(id, err)
		}
		return
	}
	s.log.Error(ctx, "failed to record push error", "id", id, "error", err)
}

func (s *Syncer) pushInteractions(ctx context.Context) error {
	pending, err := s.store.PendingInteractions(ctx, s.cfg.BatchSize)
	if err != nil || len(pending) == 0 {
		return err
	}

	wire := make([]syncproto.Interaction, len(pending))
	for i := range pending {
		wire[i] = syncproto.FromInteraction(&pending[i])
	}
	merged, err := s.transport.PushInteractions(ctx, s.cfg.WorkspaceID, wire)
	if err != nil {
		return err
	}

	for i := range pending {
		if err := s.store.ClearPendingInteraction(ctx, &pending[i]); err != nil {
			return err
		}
	}
	for _, m := range merged {
		if err := s.store.ApplyInteraction(ctx, m.Model()); err != nil {
			return err
		}
	}
	return nil
}

// PullOnce fetches everything past the stored cursor, page by page.
// Concurrent calls share one pull.
func (s *Syncer) PullOnce(ctx context.Context) error {
	_, err, _ := s.pulls.Do("pull", func() (any, error) {
		return nil, s.pull(ctx)
	})
	return err
}

func (s *Syncer) pull(ctx context.Context) error {
	for {
		cursor, err := s.cursors.Cursor(ctx, s.cfg.WorkspaceID)
		if err != nil {
			return err
		}
		resp, err := s.transport.Pull(ctx, s.cfg.WorkspaceID, cursor, s.cfg.PullLimit)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, resp); err != nil {
			return fmt.Errorf("apply pulled changes: %w", err)
		}
		// the cursor only moves once everything before it is applied
		if resp.NextCursor != "" && resp.NextCursor != cursor {
			if err := s.cursors.SetCursor(ctx, s.cfg.WorkspaceID, resp.NextCursor); err != nil {
				return err
			}
		}
		s.log.Debug(ctx, "pulled page",
			"entries", len(resp.Entries), "collaborations", len(resp.Collaborations),
			"interactions", len(resp.Interactions), "cursor", resp.NextCursor)
		if !resp.HasMore {
			return nil
		}
	}
}

func (s *Syncer) apply(ctx context.Context, resp *syncproto.PullResponse) error {
	for _, e := range resp.Entries {
		if err := s.store.ApplyServerEntry(ctx, e.Model()); err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
	}
	for _, c := range resp.Collaborations {
		if err := s.store.ApplyCollaboration(ctx, c.Model()); err != nil {
			return fmt.Errorf("collaboration %s/%s: %w", c.EntryID, c.UserID, err)
		}
	}
	for _, i := range resp.Interactions {
		if err := s.store.ApplyInteraction(ctx, i.Model()); err != nil {
			return fmt.Errorf("interaction %s/%s: %w", i.EntryID, i.UserID, err)
		}
	}
	return nil
}
