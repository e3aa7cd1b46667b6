package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/collaborations"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/entries"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/interactions"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/revisions"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/transactions"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Entries(db dbx.DBTX) entries.Repository
	Transactions(db dbx.DBTX) transactions.Repository
	Collaborations(db dbx.DBTX) collaborations.Repository
	Interactions(db dbx.DBTX) interactions.Repository
	Revisions(db dbx.DBTX) revisions.Repository
}
