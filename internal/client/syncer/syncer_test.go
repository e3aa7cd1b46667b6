package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/client/client"
	"github.com/dmitrijs2005/entrysync/internal/client/database"
	"github.com/dmitrijs2005/entrysync/internal/client/outbox"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/client/store"
	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replica struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	store  *store.Store
	outbox *outbox.Outbox
	syncer *Syncer
}

func newReplica(t *testing.T, srv Transport, node string, cfg Config) *replica {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, filepath.Join(t.TempDir(), node+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repos := repomanager.NewSQLiteRepositoryManager()
	ob := outbox.New(db, repos, "w1", 3, logging.NewNopLogger())
	st := store.New(db, repos, ob, store.Identity{UserID: "alice", WorkspaceID: "w1", NodeID: node}, logging.NewNopLogger())
	cfg.WorkspaceID = "w1"
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin, cfg.BackoffMax = time.Millisecond, 5*time.Millisecond
	}
	sy := New(cfg, srv, st, ob, repos.Metadata(db), logging.NewNopLogger())
	return &replica{db: db, repos: repos, store: st, outbox: ob, syncer: sy}
}

func (r *replica) cursor(t *testing.T) string {
	c, err := r.repos.Metadata(r.db).Cursor(context.Background(), "w1")
	require.NoError(t, err)
	return c
}

func space(name string) *models.SpaceAttributes {
	return &models.SpaceAttributes{
		Type: models.EntryTypeSpace, Name: name,
		Collaborators: map[string]models.Role{"alice": models.RoleOwner},
	}
}

func rename(t *testing.T, r *replica, id, name string) {
	t.Helper()
	_, err := store.Mutate(context.Background(), r.store, id, func(a *models.SpaceAttributes) error {
		a.Name = name
		return nil
	})
	require.NoError(t, err)
}

func TestScenario_OfflineEditsReachSecondReplicaInFinalState(t *testing.T) {
	srv := newFakeServer()
	a := newReplica(t, srv, "dev-a", Config{})
	b := newReplica(t, srv, "dev-b", Config{})
	ctx := context.Background()

	// offline: T1 create, T2 rename
	_, err := a.store.CreateEntry(ctx, "E", space("draft"))
	require.NoError(t, err)
	rename(t, a, "E", "final")

	batch, err := a.outbox.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, a.syncer.PushOnce(ctx))
	assert.Equal(t, []string{batch[0].ID, batch[1].ID}, srv.receivedIDs())

	left, err := a.outbox.NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
	e, err := a.store.Get(ctx, "E")
	require.NoError(t, err)
	require.NotNil(t, e.ServerVersion)
	assert.Equal(t, int64(2), *e.ServerVersion)

	var seen []string
	b.store.Subscribe(func(c store.Change) {
		if c.Entry != nil {
			attrs, err := c.Entry.Decode()
			require.NoError(t, err)
			seen = append(seen, attrs.(*models.SpaceAttributes).Name)
		}
	})
	require.NoError(t, b.syncer.PullOnce(ctx))

	got, err := b.store.Get(ctx, "E")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"space","name":"final","collaborators":{"alice":"owner"}}`, string(got.Attributes))
	assert.Equal(t, []string{"final"}, seen)
	assert.Equal(t, "2:0:0", b.cursor(t))
}

func TestPushOnce_OrderAndPartialFailure(t *testing.T) {
	srv := newFakeServer()
	a := newReplica(t, srv, "dev-a", Config{})
	ctx := context.Background()

	_, err := a.store.CreateEntry(ctx, "E", space("v0"))
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		rename(t, a, "E", fmt.Sprintf("v%d", i))
	}
	batch, err := a.outbox.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 4)
	srv.refuse[batch[2].ID] = syncproto.CodeForbidden

	require.NoError(t, a.syncer.PushOnce(ctx))
	assert.Equal(t, []string{batch[0].ID, batch[1].ID, batch[2].ID, batch[3].ID}, srv.receivedIDs())

	left, err := a.outbox.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, batch[2].ID, left[0].ID)
	assert.Equal(t, models.SyncStatusError, left[0].SyncStatus)
	assert.Equal(t, 1, left[0].RetryCount)
	assert.Contains(t, left[0].LastError, syncproto.CodeForbidden)
}

func TestPushOnce_TransientFailureKeepsBatch(t *testing.T) {
	srv := newFakeServer()
	srv.pushErr = client.ErrUnavailable
	a := newReplica(t, srv, "dev-a", Config{})
	ctx := context.Background()

	_, err := a.store.CreateEntry(ctx, "E", space("v0"))
	require.NoError(t, err)

	err = a.syncer.PushOnce(ctx)
	require.ErrorIs(t, err, common.ErrTransientNetwork)

	left, err := a.outbox.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, models.SyncStatusSent, left[0].SyncStatus)
	assert.Zero(t, left[0].RetryCount)

	srv.pushErr = nil
	require.NoError(t, a.syncer.PushOnce(ctx))
	left, err = a.outbox.NextBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

// resultsOff answers pushes with delta results more or fewer than sent.
type resultsOff struct {
	*fakeServer
	delta int
}

func (r *resultsOff) Push(ctx context.Context, ws string, txs []syncproto.Transaction) ([]syncproto.TransactionResult, error) {
	res, err := r.fakeServer.Push(ctx, ws, txs)
	if err != nil {
		return nil, err
	}
	if r.delta < 0 {
		return res[:len(res)+r.delta], nil
	}
	for i := 0; i < r.delta; i++ {
		res = append(res, syncproto.TransactionResult{ID: "extra", Status: syncproto.StatusSuccess})
	}
	return res, nil
}

func TestPushOnce_ResultCountMismatch(t *testing.T) {
	for _, delta := range []int{-1, 2} {
		t.Run(fmt.Sprintf("delta %d", delta), func(t *testing.T) {
			srv := &resultsOff{fakeServer: newFakeServer(), delta: delta}
			a := newReplica(t, srv, "dev-a", Config{})
			ctx := context.Background()

			_, err := a.store.CreateEntry(ctx, "E", space("v0"))
			require.NoError(t, err)
			rename(t, a, "E", "v1")

			var pushErr error
			require.NotPanics(t, func() { pushErr = a.syncer.PushOnce(ctx) })
			require.ErrorIs(t, pushErr, ErrResultMismatch)

			left, err := a.outbox.NextBatch(ctx, 10)
			require.NoError(t, err)
			require.Len(t, left, 2)
			for _, tx := range left {
				assert.Equal(t, models.SyncStatusError, tx.SyncStatus)
				assert.Equal(t, 1, tx.RetryCount)
				assert.Contains(t, tx.LastError, "sent 2")
			}

			srv.delta = 0
			require.NoError(t, a.syncer.PushOnce(ctx))
			left, err = a.outbox.NextBatch(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}

func TestPushOnce_RetryCeilingSurfacesPermanentFailure(t *testing.T) {
	srv := newFakeServer()
	a := newReplica(t, srv, "dev-a", Config{})
	ctx := context.Background()

	_, err := a.store.CreateEntry(ctx, "E", space("v0"))
	require.NoError(t, err)
	batch, err := a.outbox.NextBatch(ctx, 10)
	require.NoError(t, err)
	srv.refuse[batch[0].ID] = syncproto.CodeInternal

	var failed []string
	a.syncer.OnPermanentFailure = func(id string, err error) {
		assert.ErrorIs(t, err, common.ErrPermanentApply)
		failed = append(failed, id)
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, a.syncer.PushOnce(ctx))
	}

	assert.Equal(t, []string{batch[0].ID}, failed)
	assert.Len(t, srv.receivedIDs(), a.outbox.MaxRetries())
	perm, err := a.outbox.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, perm, 1)

	delete(srv.refuse, batch[0].ID)
	require.NoError(t, a.outbox.Retry(ctx, batch[0].ID))
	require.NoError(t, a.syncer.PushOnce(ctx))
	perm, err = a.outbox.Failed(ctx)
	require.NoError(t, err)
	assert.Empty(t, perm)
}

func TestPushOnce_DrainsFullBatches(t *testing.T) {
	srv := newFakeServer()
	a := newReplica(t, srv, "dev-a", Config{BatchSize: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := a.store.CreateEntry(ctx, fmt.Sprintf("E%d", i), space("s"))
		require.NoError(t, err)
	}
	require.NoError(t, a.syncer.PushOnce(ctx))
	assert.Len(t, srv.receivedIDs(), 5)
}

func TestPushOnce_PushesPendingInteractions(t *testing.T) {
	srv := newFakeServer()
	a := newReplica(t, srv, "dev-a", Config{})
	ctx := context.Background()

	_, err := a.store.CreateEntry(ctx, "E", space("v0"))
	require.NoError(t, err)
	_, err = a.store.MarkAsSeen(ctx, "E")
	require.NoError(t, err)

	require.NoError(t, a.syncer.PushOnce(ctx))

	pending, err := a.store.PendingInteractions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	list, err := a.store.Interactions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].Version)
}

type brokenPull struct {
	*fakeServer
	bad bool
}

func (b *brokenPull) Pull(ctx context.Context, ws, cursor string, limit int) (*syncproto.PullResponse, error) {
	resp, err := b.fakeServer.Pull(ctx, ws, cursor, limit)
	if err == nil && b.bad {
		resp.Entries = append(resp.Entries, syncproto.Entry{ID: "bad", WorkspaceID: ws, Type: "space", State: []byte{0xff, 0xff}})
	}
	return resp, err
}

func TestPullOnce_CursorMovesOnlyAfterApply(t *testing.T) {
	srv := newFakeServer()
	a := newReplica(t, srv, "dev-a", Config{})
	ctx := context.Background()
	_, err := a.store.CreateEntry(ctx, "E", space("v0"))
	require.NoError(t, err)
	require.NoError(t, a.syncer.PushOnce(ctx))

	broken := &brokenPull{fakeServer: srv, bad: true}
	b := newReplica(t, broken, "dev-b", Config{})

	require.Error(t, b.syncer.PullOnce(ctx))
	assert.Equal(t, "", b.cursor(t))

	broken.bad = false
	require.NoError(t, b.syncer.PullOnce(ctx))
	assert.Equal(t, "1:0:0", b.cursor(t))

	// replaying from an older cursor is harmless
	require.NoError(t, b.repos.Metadata(b.db).SetCursor(ctx, "w1", ""))
	require.NoError(t, b.syncer.PullOnce(ctx))
	e, err := b.store.Get(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.LocalVersion)
}

func TestPullOnce_PagesUntilDone(t *testing.T) {
	srv := newFakeServer()
	a := newReplica(t, srv, "dev-a", Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := a.store.CreateEntry(ctx, fmt.Sprintf("E%d", i), space("s"))
		require.NoError(t, err)
	}
	require.NoError(t, a.syncer.PushOnce(ctx))

	b := newReplica(t, srv, "dev-b", Config{PullLimit: 1})
	before := srv.pullCount()
	require.NoError(t, b.syncer.PullOnce(ctx))
	assert.Equal(t, 3, srv.pullCount()-before)

	list, err := b.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, "3:0:0", b.cursor(t))
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) add(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func TestRun_BacksOffUntilConnected(t *testing.T) {
	srv := newFakeServer()
	srv.pingErrs = []error{client.ErrUnavailable, client.ErrUnavailable}
	a := newReplica(t, srv, "dev-a", Config{PushInterval: time.Hour, PullInterval: time.Hour})

	log := &stateLog{}
	a.syncer.OnStateChange = log.add

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.syncer.Run(ctx) }()

	require.Eventually(t, func() bool { return a.syncer.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, a.syncer.backoff.Attempts(), "backoff resets on connect")
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, []State{
		StateConnecting, StateDisconnected,
		StateConnecting, StateDisconnected,
		StateConnecting, StateConnected,
		StateDisconnected,
	}, log.snapshot())
}

func TestRun_TriggerPullRunsOutOfCycle(t *testing.T) {
	srv := newFakeServer()
	a := newReplica(t, srv, "dev-a", Config{PushInterval: time.Hour, PullInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.syncer.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.pullCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	a.syncer.TriggerPull()
	require.Eventually(t, func() bool { return srv.pullCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	// a local write pushed through the trigger wakes the pull too
	_, err := a.store.CreateEntry(ctx, "E", space("v0"))
	require.NoError(t, err)
	a.syncer.TriggerPush()
	require.Eventually(t, func() bool { return len(srv.receivedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return srv.pullCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRun_TransientErrorReconnects(t *testing.T) {
	srv := newFakeServer()
	srv.pushErr = client.ErrUnavailable
	a := newReplica(t, srv, "dev-a", Config{PushInterval: time.Hour, PullInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := a.store.CreateEntry(ctx, "E", space("v0"))
	require.NoError(t, err)
	go func() { _ = a.syncer.Run(ctx) }()

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.pings >= 2
	}, 2*time.Second, 5*time.Millisecond)

	srv.mu.Lock()
	srv.pushErr = nil
	srv.mu.Unlock()
	require.Eventually(t, func() bool {
		left, err := a.outbox.NextBatch(ctx, 10)
		return err == nil && len(left) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", State(9).String())
}
