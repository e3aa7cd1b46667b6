package entries

import (
	"context"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/models"
)

// Repository persists the local replica of entries.
type Repository interface {
	// Get returns the entry including tombstones, or common.ErrEntryNotFound.
	Get(ctx context.Context, id string) (*models.Entry, error)

	// Upsert writes the entry by id.
	Upsert(ctx context.Context, e *models.Entry) error

	// MarkDeleted tombstones the entry and bumps its local version.
	MarkDeleted(ctx context.Context, id, by string, at time.Time) error

	// SetServerVersion records the version acknowledged by the server.
	SetServerVersion(ctx context.Context, id string, version int64) error

	// Parent returns the parent id, "" for roots.
	Parent(ctx context.Context, id string) (string, error)

	// Descendants returns id and the ids of every entry beneath it.
	Descendants(ctx context.Context, id string) ([]string, error)

	// List returns the live entries of a workspace.
	List(ctx context.Context, workspaceID string) ([]models.Entry, error)

	// Children returns the live direct children of an entry.
	Children(ctx context.Context, parentID string) ([]models.Entry, error)
}
