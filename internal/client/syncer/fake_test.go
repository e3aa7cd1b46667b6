package syncer

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/entrysync/internal/crdt"
	"github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
)

// fakeServer is an in-memory sync service that merges pushed payloads the
// way the real applier does.
type fakeServer struct {
	mu sync.Mutex

	pingErrs []error
	pushErr  error
	refuse   map[string]string

	received     []syncproto.Transaction
	entries      map[string]*syncproto.Entry
	revs         map[string]int64
	revision     int64
	interactions map[string]syncproto.Interaction
	pings        int
	pulls        int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		refuse:       map[string]string{},
		entries:      map[string]*syncproto.Entry{},
		revs:         map[string]int64{},
		interactions: map[string]syncproto.Interaction{},
	}
}

func (f *fakeServer) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if len(f.pingErrs) > 0 {
		err := f.pingErrs[0]
		f.pingErrs = f.pingErrs[1:]
		return err
	}
	return nil
}

func (f *fakeServer) Push(_ context.Context, ws string, txs []syncproto.Transaction) ([]syncproto.TransactionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return nil, f.pushErr
	}

	out := make([]syncproto.TransactionResult, 0, len(txs))
	for _, tx := range txs {
		f.received = append(f.received, tx)
		if code, ok := f.refuse[tx.ID]; ok {
			out = append(out, syncproto.TransactionResult{ID: tx.ID, Status: syncproto.StatusError, Code: code, Error: "refused"})
			continue
		}
		v, err := f.apply(ws, tx)
		if err != nil {
			out = append(out, syncproto.TransactionResult{ID: tx.ID, Status: syncproto.StatusError, Code: syncproto.CodeInvalid, Error: err.Error()})
			continue
		}
		out = append(out, syncproto.TransactionResult{ID: tx.ID, Status: syncproto.StatusSuccess, Version: v})
	}
	return out, nil
}

func (f *fakeServer) apply(ws string, tx syncproto.Transaction) (int64, error) {
	e, ok := f.entries[tx.EntryID]
	switch models.Operation(tx.Operation) {
	case models.OperationCreate:
		if ok {
			return e.Version, nil
		}
		attrs, err := models.AttributesFromState(tx.Payload)
		if err != nil {
			return 0, err
		}
		e = &syncproto.Entry{
			ID: tx.EntryID, WorkspaceID: ws, Type: string(attrs.EntryType()), ParentID: attrs.Parent(),
			RootID: tx.EntryID, State: tx.Payload, CreatedBy: tx.CreatedBy, CreatedAt: tx.CreatedAt,
		}
		if p, ok := f.entries[attrs.Parent()]; ok {
			e.RootID = p.RootID
		}
		f.entries[tx.EntryID] = e
	case models.OperationUpdate:
		merged, _, err := crdt.Merge(e.State, tx.Payload)
		if err != nil {
			return 0, err
		}
		e.State = merged
	case models.OperationDelete:
		e.Deleted = true
	}
	e.Version++
	f.revision++
	f.revs[e.ID] = f.revision
	return e.Version, nil
}

func (f *fakeServer) Pull(_ context.Context, _ string, cursor string, limit int) (*syncproto.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++

	c, err := syncproto.ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, rev := range f.revs {
		if rev > c.Entries {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return f.revs[ids[i]] < f.revs[ids[j]] })

	resp := &syncproto.PullResponse{}
	if len(ids) > limit {
		ids, resp.HasMore = ids[:limit], true
	}
	for _, id := range ids {
		resp.Entries = append(resp.Entries, *f.entries[id])
		c.Entries = f.revs[id]
	}
	resp.NextCursor = c.String()
	return resp, nil
}

func (f *fakeServer) PushInteractions(_ context.Context, _ string, in []syncproto.Interaction) ([]syncproto.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]syncproto.Interaction, 0, len(in))
	for _, i := range in {
		key := i.EntryID + "/" + i.UserID
		i.Version = f.interactions[key].Version + 1
		f.interactions[key] = i
		out = append(out, i)
	}
	return out, nil
}

func (f *fakeServer) receivedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.received))
	for i, tx := range f.received {
		ids[i] = tx.ID
	}
	return ids
}

func (f *fakeServer) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls
}
