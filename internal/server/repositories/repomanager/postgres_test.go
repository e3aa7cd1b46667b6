package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFactories_ReturnConcreteRepos(t *testing.T) {
	db := newDB(t)
	m := NewPostgresRepositoryManager()

	assert.NotNil(t, m.Users(db))
	assert.NotNil(t, m.Entries(db))
	assert.NotNil(t, m.Transactions(db))
	assert.NotNil(t, m.Collaborations(db))
	assert.NotNil(t, m.Interactions(db))
	assert.NotNil(t, m.Revisions(db))
}

func TestRunMigrations(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	tests := []struct {
		name    string
		upErr   error
		wantErr bool
	}{
		{name: "success"},
		{name: "error", upErr: errors.New("boom"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newDB(t)
			gooseUpContext = func(ctx context.Context, got *sql.DB, dir string, opts ...goose.OptionsFunc) error {
				assert.Same(t, db, got)
				assert.Equal(t, ".", dir)
				return tt.upErr
			}

			err := NewPostgresRepositoryManager().RunMigrations(context.Background(), db)
			if tt.wantErr {
				require.EqualError(t, err, "boom")
				return
			}
			require.NoError(t, err)
		})
	}
}
