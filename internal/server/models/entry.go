package models

import (
	"time"

	domain "github.com/dmitrijs2005/entrysync/internal/models"
)

// Entry is the canonical copy of a replicated entry. Version is the
// per-entry counter handed back to clients; Revision orders rows for pull.
type Entry struct {
	domain.Entry
	Version   int64
	Revision  int64
	DeletedAt *time.Time
}

// Domain returns the shared representation with ServerVersion filled in.
func (e *Entry) Domain() *domain.Entry {
	out := e.Entry
	v := e.Version
	out.ServerVersion = &v
	out.Deleted = e.DeletedAt != nil
	return &out
}

// AppliedTransaction records a transaction id the applier has already
// handled, so replays return the original outcome.
type AppliedTransaction struct {
	ID          string
	EntryID     string
	WorkspaceID string
	Operation   domain.Operation
	CreatedBy   string
	CreatedAt   time.Time
	AppliedAt   time.Time
	Version     int64
}

type Collaboration struct {
	domain.Collaboration
	Revision int64
}

type Interaction struct {
	domain.Interaction
	Revision int64
}
