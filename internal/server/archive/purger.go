package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/repomanager"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultBatchSize = 100
	uploadAttempts   = 3
)

type DB interface {
	dbx.TxBeginner
	dbx.DBTX
}

// Record is the archived form of a purged entry.
type Record struct {
	ID             string                 `json:"id"`
	WorkspaceID    string                 `json:"workspaceId"`
	Type           domain.EntryType       `json:"type"`
	ParentID       string                 `json:"parentId,omitempty"`
	RootID         string                 `json:"rootId"`
	Attributes     json.RawMessage        `json:"attributes"`
	State          []byte                 `json:"state"`
	CreatedBy      string                 `json:"createdBy"`
	CreatedAt      time.Time              `json:"createdAt"`
	DeletedBy      string                 `json:"deletedBy"`
	DeletedAt      time.Time              `json:"deletedAt"`
	Version        int64                  `json:"version"`
	Collaborations []domain.Collaboration `json:"collaborations,omitempty"`
}

// Key is the object key of an archived entry.
func Key(e *models.Entry) string {
	return fmt.Sprintf("tombstones/%s/%s.json", e.WorkspaceID, e.ID)
}

// Purger removes tombstones older than the retention period. Each entry is
// archived before its rows are deleted; an entry whose upload fails stays
// in place for the next run.
type Purger struct {
	db        DB
	repos     repomanager.RepositoryManager
	store     Store
	retention time.Duration
	interval  time.Duration
	batchSize int
	retryBase time.Duration
	log       logging.Logger
	now       func() time.Time
}

func NewPurger(db DB, repos repomanager.RepositoryManager, store Store, retention, interval time.Duration, log logging.Logger) *Purger {
	return &Purger{
		db:        db,
		repos:     repos,
		store:     store,
		retention: retention,
		interval:  interval,
		batchSize: DefaultBatchSize,
		retryBase: time.Second,
		log:       log.With("module", "purger"),
		now:       time.Now,
	}
}

// Run purges on every interval until ctx is done. A non-positive interval
// disables the purger.
func (p *Purger) Run(ctx context.Context) error {
	if p.interval <= 0 {
		p.log.Info(ctx, "tombstone purge disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.PurgeOnce(ctx)
			if err != nil {
				p.log.Error(ctx, "tombstone purge failed", "error", err)
				continue
			}
			if n > 0 {
				p.log.Info(ctx, "tombstones purged", "count", n)
			}
		}
	}
}

// PurgeOnce handles one batch and returns how many entries were removed.
// Entries that still have children are left for a later run, after the
// children are purged, so no parent chain is cut.
func (p *Purger) PurgeOnce(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.retention)
	due, err := p.repos.Entries(p.db).ListTombstoned(ctx, cutoff, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list tombstones: %w", err)
	}

	purged := 0
	for i := range due {
		e := &due[i]
		busy, err := p.hasChildren(ctx, e)
		if err != nil {
			return purged, err
		}
		if busy {
			continue
		}
		if err := p.archive(ctx, e); err != nil {
			p.log.Warn(ctx, "archive failed, entry kept", "entry", e.ID, "error", err)
			continue
		}
		if err := p.remove(ctx, e.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (p *Purger) hasChildren(ctx context.Context, e *models.Entry) (bool, error) {
	tree, err := p.repos.Entries(p.db).ListByRoot(ctx, e.RootID)
	if err != nil {
		return false, err
	}
	for _, other := range tree {
		if other.Parent() == e.ID {
			return true, nil
		}
	}
	return false, nil
}

func (p *Purger) archive(ctx context.Context, e *models.Entry) error {
	attrs, err := domain.ProjectState(e.State)
	if err != nil {
		return fmt.Errorf("project state: %w", err)
	}
	grants, err := p.repos.Collaborations(p.db).ListByEntry(ctx, e.ID)
	if err != nil {
		return err
	}

	rec := Record{
		ID:          e.ID,
		WorkspaceID: e.WorkspaceID,
		Type:        e.Type,
		ParentID:    e.Parent(),
		RootID:      e.RootID,
		Attributes:  attrs,
		State:       e.State,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		DeletedBy:   e.UpdatedBy,
		DeletedAt:   *e.DeletedAt,
		Version:     e.Version,
	}
	for _, g := range grants {
		rec.Collaborations = append(rec.Collaborations, g.Collaboration)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	b := retry.WithMaxRetries(uploadAttempts-1, retry.NewExponential(p.retryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := p.store.Put(ctx, Key(e), body); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// remove deletes the entry and every row keyed by it in one transaction.
func (p *Purger) remove(ctx context.Context, entryID string) error {
	return dbx.WithTx(ctx, p.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := p.repos.Transactions(tx).DeleteByEntry(ctx, entryID); err != nil {
			return err
		}
		if _, err := p.repos.Collaborations(tx).DeleteByEntry(ctx, entryID); err != nil {
			return err
		}
		if _, err := p.repos.Interactions(tx).DeleteByEntry(ctx, entryID); err != nil {
			return err
		}
		return p.repos.Entries(tx).Delete(ctx, entryID)
	})
}
