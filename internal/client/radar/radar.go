// Package radar keeps per-user unread and mention counts for the entries of
// a workspace. The state is derived and process-local: it is fed from store
// changes as they commit and can be rebuilt at any time from entries and
// interactions.
package radar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/client/store"
	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/models"
)

// Counts is the read state of one entry for one user.
type Counts struct {
	Unseen   int
	Mentions int
}

// Zero reports whether nothing is pending.
func (c Counts) Zero() bool {
	return c.Unseen == 0 && c.Mentions == 0
}

// Source resolves who may read an entry.
type Source interface {
	Audience(ctx context.Context, entryID string) ([]string, error)
}

// entryState holds the ids of messages counted against an entry. Sets make
// replays of the same message harmless.
type entryState struct {
	unseen   map[string]struct{}
	mentions map[string]struct{}
}

func newEntryState() *entryState {
	return &entryState{unseen: map[string]struct{}{}, mentions: map[string]struct{}{}}
}

func (s *entryState) counts() Counts {
	return Counts{Unseen: len(s.unseen), Mentions: len(s.mentions)}
}

// State maps account -> workspace -> entry -> counted messages.
type State map[string]map[string]map[string]*entryState

type Radar struct {
	mu       sync.RWMutex
	state    State
	lastSeen map[string]map[string]time.Time
	// owner remembers which parent a message was counted on.
	owner map[string]string

	src Source
	log logging.Logger
}

func New(src Source, log logging.Logger) *Radar {
	return &Radar{
		state:    State{},
		lastSeen: map[string]map[string]time.Time{},
		owner:    map[string]string{},
		src:      src,
		log:      log.With("module", "radar"),
	}
}

func (r *Radar) entry(user, workspaceID, entryID string, create bool) *entryState {
	ws, ok := r.state[user]
	if !ok {
		if !create {
			return nil
		}
		ws = map[string]map[string]*entryState{}
		r.state[user] = ws
	}
	entries, ok := ws[workspaceID]
	if !ok {
		if !create {
			return nil
		}
		entries = map[string]*entryState{}
		ws[workspaceID] = entries
	}
	st, ok := entries[entryID]
	if !ok && create {
		st = newEntryState()
		entries[entryID] = st
	}
	return st
}

// MessageAdded counts a message against its parent for every reader except
// its author. Readers who have already seen the parent past the message's
// creation time are skipped. Anything that is not a live message is ignored.
func (r *Radar) MessageAdded(ctx context.Context, msg *models.Entry) error {
	if msg.Type != models.EntryTypeMessage || msg.Deleted || msg.Parent() == "" {
		return nil
	}
	attrs, err := msg.Decode()
	if err != nil {
		return err
	}
	m, ok := attrs.(*models.MessageAttributes)
	if !ok {
		return nil
	}
	audience, err := r.src.Audience(ctx, msg.Parent())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.count(msg, m, audience)
	return nil
}

func (r *Radar) count(msg *models.Entry, m *models.MessageAttributes, audience []string) {
	parent := msg.Parent()
	r.owner[msg.ID] = parent
	for _, u := range audience {
		if u == msg.CreatedBy {
			continue
		}
		if seen, ok := r.lastSeen[u][parent]; ok && !seen.Before(msg.CreatedAt) {
			continue
		}
		st := r.entry(u, msg.WorkspaceID, parent, true)
		st.unseen[msg.ID] = struct{}{}
		for _, mention := range m.Mentions {
			if mention == u {
				st.mentions[msg.ID] = struct{}{}
				break
			}
		}
	}
}

// MessageRemoved uncounts a deleted message for everyone.
func (r *Radar) MessageRemoved(workspaceID, messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.owner[messageID]
	if !ok {
		return
	}
	delete(r.owner, messageID)
	for _, ws := range r.state {
		if st := ws[workspaceID][parent]; st != nil {
			delete(st.unseen, messageID)
			delete(st.mentions, messageID)
		}
	}
}

// Seen zeroes the counts of (entry, user) and remembers the time so that
// older messages arriving later are not counted again.
func (r *Radar) Seen(user, workspaceID, entryID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen(user, workspaceID, entryID, at)
}

func (r *Radar) seen(user, workspaceID, entryID string, at time.Time) {
	byEntry, ok := r.lastSeen[user]
	if !ok {
		byEntry = map[string]time.Time{}
		r.lastSeen[user] = byEntry
	}
	if at.After(byEntry[entryID]) {
		byEntry[entryID] = at
	}
	if st := r.entry(user, workspaceID, entryID, false); st != nil {
		clear(st.unseen)
		clear(st.mentions)
	}
}

// Forget drops all counts on the given entries, used when access is revoked.
func (r *Radar) Forget(entryIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ws := range r.state {
		for _, entries := range ws {
			for _, id := range entryIDs {
				delete(entries, id)
			}
		}
	}
}

// Counts returns the counts of one entry for one user.
func (r *Radar) Counts(user, workspaceID, entryID string) Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st := r.entry(user, workspaceID, entryID, false); st != nil {
		return st.counts()
	}
	return Counts{}
}

// Workspace returns the non-zero counts of every entry in a workspace.
func (r *Radar) Workspace(user, workspaceID string) map[string]Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]Counts{}
	for id, st := range r.state[user][workspaceID] {
		if c := st.counts(); !c.Zero() {
			out[id] = c
		}
	}
	return out
}

// HasUnseen reports whether any entry of the workspace has pending counts.
// It is evaluated on read.
func (r *Radar) HasUnseen(user, workspaceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.state[user][workspaceID] {
		if !st.counts().Zero() {
			return true
		}
	}
	return false
}

// Rebuild replaces the state of a workspace with one derived from its
// entries and interactions alone.
func (r *Radar) Rebuild(workspaceID string, entries []models.Entry, interactions []models.Interaction) error {
	audience := newTreeAudience(entries)
	messages := make([]models.Entry, 0)
	for _, e := range entries {
		if e.Type == models.EntryTypeMessage && !e.Deleted && e.Parent() != "" {
			messages = append(messages, e)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ws := range r.state {
		delete(ws, workspaceID)
	}
	for _, i := range interactions {
		if i.WorkspaceID == workspaceID && i.LastSeenAt != nil {
			r.seen(i.UserID, workspaceID, i.EntryID, *i.LastSeenAt)
		}
	}
	for idx := range messages {
		msg := &messages[idx]
		attrs, err := msg.Decode()
		if err != nil {
			r.log.Warn(context.Background(), "skipping undecodable message", "entry", msg.ID, "error", err)
			continue
		}
		m, ok := attrs.(*models.MessageAttributes)
		if !ok {
			continue
		}
		r.count(msg, m, audience.of(msg.Parent()))
	}
	return nil
}

// Observe feeds a committed store change into the radar.
func (r *Radar) Observe(ctx context.Context, c store.Change) {
	switch c.Kind {
	case store.ChangeLocal, store.ChangeRemote:
		if c.Entry == nil || c.Entry.Type != models.EntryTypeMessage {
			return
		}
		if c.Entry.Deleted {
			r.MessageRemoved(c.Entry.WorkspaceID, c.Entry.ID)
			return
		}
		if !c.Created {
			return
		}
		if err := r.MessageAdded(ctx, c.Entry); err != nil {
			r.log.Warn(ctx, "failed to count message", "entry", c.Entry.ID, "error", err)
		}
	case store.ChangeInteraction:
		if i := c.Interaction; i != nil && i.LastSeenAt != nil {
			r.Seen(i.UserID, i.WorkspaceID, i.EntryID, *i.LastSeenAt)
		}
	case store.ChangeRevoked:
		r.Forget(c.EntryIDs)
	}
}
