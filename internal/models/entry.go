// Package models defines the replicated data model shared by the client
// replica and the server: entries and their typed attributes, transactions,
// collaborations and interactions.
package models

import (
	"encoding/json"
	"time"
)

// Entry is one node of the workspace tree.
type Entry struct {
	ID          string
	WorkspaceID string
	Type        EntryType
	ParentID    *string
	RootID      string

	// State is the encoded CRDT document; Attributes is its JSON projection.
	State      []byte
	Attributes json.RawMessage

	CreatedBy string
	CreatedAt time.Time
	UpdatedBy string
	UpdatedAt *time.Time

	// LocalVersion increments on every local write. ServerVersion is set only
	// once the server acknowledged the entry.
	LocalVersion  int64
	ServerVersion *int64

	// Deleted marks a tombstone kept until dependent rows are purged.
	Deleted bool
}

// Decode returns the typed attributes held in the entry state.
func (e *Entry) Decode() (Attributes, error) {
	return AttributesFromState(e.State)
}

// Parent returns ParentID or "" for roots.
func (e *Entry) Parent() string {
	if e.ParentID == nil {
		return ""
	}
	return *e.ParentID
}

// Operation is the kind of mutation carried by a transaction.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// SyncStatus tracks a transaction through the outbox.
type SyncStatus string

const (
	SyncStatusPending      SyncStatus = "pending"
	SyncStatusSent         SyncStatus = "sent"
	SyncStatusAcknowledged SyncStatus = "acknowledged"
	SyncStatusError        SyncStatus = "error"
)

// Transaction is one local mutation queued for upstream sync. Payload is a
// CRDT update: the full state for creates, a delta for updates, empty for
// deletes.
type Transaction struct {
	ID          string
	EntryID     string
	WorkspaceID string
	Operation   Operation
	Payload     []byte
	CreatedBy   string
	CreatedAt   time.Time
	SyncStatus  SyncStatus
	RetryCount  int
	LastError   string
}

// Collaboration is a role grant of a user on an entry. Updates are accepted
// only with a strictly higher Version.
type Collaboration struct {
	EntryID     string
	WorkspaceID string
	UserID      string
	Role        Role
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
	Version     int64
}

// Revoked reports whether the grant was withdrawn.
func (c *Collaboration) Revoked() bool {
	return c.DeletedAt != nil
}

// Interaction is a user's read state on an entry.
type Interaction struct {
	EntryID         string
	WorkspaceID     string
	UserID          string
	LastSeenAt      *time.Time
	LastOpenedAt    *time.Time
	LastSeenVersion int64
	Version         int64
}
