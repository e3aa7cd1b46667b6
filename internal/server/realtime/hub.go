// Package realtime serves the notification sockets. A socket carries only
// terse change events addressed to its user; clients pull to learn what
// changed.
package realtime

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/server/events"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
)

// sendBuffer is the number of undelivered messages a socket may hold
// before further events are dropped for it.
const sendBuffer = 32

type conn struct {
	userID   string
	deviceID string
	send     chan syncproto.Message
}

// Hub tracks the open sockets per user and forwards bus events to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*conn]struct{}
	log   logging.Logger
}

func NewHub(log logging.Logger) *Hub {
	return &Hub{conns: make(map[string]map[*conn]struct{}), log: log.With("module", "realtime_hub")}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[c.userID]
	if !ok {
		set = make(map[*conn]struct{})
		h.conns[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[c.userID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.userID)
	}
}

// Count returns the number of open sockets of userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// Deliver queues ev on every socket of its recipients. A socket whose
// buffer is full misses the event and catches up on its next pull.
func (h *Hub) Deliver(ev events.Event) {
	msg, err := syncproto.NewMessage(syncproto.TypeEntityChanged, ev.Change)
	if err != nil {
		h.log.Error(context.Background(), "failed to encode event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, user := range ev.UserIDs {
		for c := range h.conns[user] {
			select {
			case c.send <- msg:
			default:
				h.log.Warn(context.Background(), "socket buffer full, event dropped", "user", user, "device", c.deviceID)
			}
		}
	}
}
