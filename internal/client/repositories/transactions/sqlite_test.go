package transactions

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/client/database"
	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var base = time.UnixMilli(1_700_000_000_000).UTC()

func tx(id, entry string, at time.Time) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		EntryID:     entry,
		WorkspaceID: "w1",
		Operation:   models.OperationUpdate,
		Payload:     []byte(id),
		CreatedBy:   "u1",
		CreatedAt:   at,
	}
}

func ids(list []models.Transaction) []string {
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.ID)
	}
	return out
}

func TestInsert_DefaultsAndDuplicate(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, tx("t1", "e1", base)))
	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, base, got.CreatedAt)
	assert.Equal(t, []byte("t1"), got.Payload)

	err = r.Insert(ctx, tx("t1", "e1", base))
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = r.Get(ctx, "t9")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListByStatus_OrdersByCreationThenInsertion(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, tx("late", "e1", base.Add(time.Second))))
	require.NoError(t, r.Insert(ctx, tx("a", "e2", base)))
	require.NoError(t, r.Insert(ctx, tx("b", "e2", base)))
	require.NoError(t, r.Insert(ctx, tx("sent", "e3", base)))
	require.NoError(t, r.SetStatus(ctx, "sent", models.SyncStatusSent))

	list, err := r.ListByStatus(ctx, "w1", []models.SyncStatus{models.SyncStatusPending, models.SyncStatusError}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "late"}, ids(list))

	list, err = r.ListByStatus(ctx, "w1", []models.SyncStatus{models.SyncStatusPending}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(list))

	list, err = r.ListByStatus(ctx, "w1", nil, 0, 2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestQueries_ScopedToWorkspace(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	other := tx("b1", "e9", base)
	other.WorkspaceID = "w2"
	require.NoError(t, r.Insert(ctx, tx("a1", "e1", base)))
	require.NoError(t, r.Insert(ctx, other))
	for _, id := range []string{"a1", "b1"} {
		_, err := r.RecordError(ctx, id, "boom")
		require.NoError(t, err)
	}

	list, err := r.ListByStatus(ctx, "w2", []models.SyncStatus{models.SyncStatusError}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ids(list))

	failed, err := r.ListFailed(ctx, "w1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(failed))

	n, err := r.DeleteByStatus(ctx, "w2", models.SyncStatusError)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = r.Get(ctx, "a1")
	assert.NoError(t, err)
}

func TestRecordError_CountsAndCeiling(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	require.NoError(t, r.Insert(ctx, tx("t1", "e1", base)))

	for want := 1; want <= 3; want++ {
		n, err := r.RecordError(ctx, "t1", "boom")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	retryable, err := r.ListByStatus(ctx, "w1", []models.SyncStatus{models.SyncStatusError}, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	failed, err := r.ListFailed(ctx, "w1", 3)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].LastError)

	require.NoError(t, r.ResetRetries(ctx, "t1"))
	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
	assert.Equal(t, 0, got.RetryCount)

	assert.ErrorIs(t, r.ResetRetries(ctx, "t1"), common.ErrNotFound)
	_, err = r.RecordError(ctx, "ghost", "x")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeletes(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	require.NoError(t, r.Insert(ctx, tx("t1", "e1", base)))
	require.NoError(t, r.Insert(ctx, tx("t2", "e2", base)))
	require.NoError(t, r.Insert(ctx, tx("t3", "e3", base)))
	require.NoError(t, r.SetStatus(ctx, "t1", models.SyncStatusAcknowledged))

	n, err := r.CountPendingForEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n64, err := r.DeleteByStatus(ctx, "w1", models.SyncStatusAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n64)

	n64, err = r.DeleteByEntries(ctx, []string{"e2", "e3", "e4"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n64)

	n64, err = r.DeleteByEntries(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n64)

	assert.ErrorIs(t, r.SetStatus(ctx, "t1", models.SyncStatusSent), common.ErrNotFound)
}
