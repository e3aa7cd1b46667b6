// Package repomanager vends the client replica repositories bound to either
// the database handle or an open transaction.
package repomanager

import (
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/collaborations"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/entries"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/interactions"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/transactions"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
)

type RepositoryManager interface {
	Entries(db dbx.DBTX) entries.Repository
	Transactions(db dbx.DBTX) transactions.Repository
	Collaborations(db dbx.DBTX) collaborations.Repository
	Interactions(db dbx.DBTX) interactions.Repository
	Metadata(db dbx.DBTX) metadata.Repository
}

// SQLiteRepositoryManager vends SQLite-backed repositories.
type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) Entries(db dbx.DBTX) entries.Repository {
	return entries.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Transactions(db dbx.DBTX) transactions.Repository {
	return transactions.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Collaborations(db dbx.DBTX) collaborations.Repository {
	return collaborations.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Interactions(db dbx.DBTX) interactions.Repository {
	return interactions.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}
