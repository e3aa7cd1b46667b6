// Package events fans change notifications out to every server instance.
// Events are addressed to users; the realtime hub forwards them to the
// sockets of those users.
package events

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/entrysync/internal/syncproto"
)

// Event is one change notification and its recipients.
type Event struct {
	UserIDs []string                `json:"userIds"`
	Change  syncproto.EntityChanged `json:"change"`
}

// For reports whether userID is a recipient.
func (e Event) For(userID string) bool {
	return slices.Contains(e.UserIDs, userID)
}

type Handler func(Event)

// Bus publishes events and delivers them to subscribers.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers h and returns a function removing it.
	Subscribe(h Handler) func()
	Close() error
}

// LocalBus delivers events synchronously inside one process.
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]Handler)}
}

func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.dispatch(ev)
	return nil
}

func (b *LocalBus) dispatch(ev Event) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

func (b *LocalBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	clear(b.handlers)
	b.mu.Unlock()
	return nil
}
