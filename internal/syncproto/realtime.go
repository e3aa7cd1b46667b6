package syncproto

import (
	"encoding/json"
	"fmt"
)

// Realtime message types.
const (
	TypeHandshake     = "connection.handshake"
	TypeReady         = "connection.ready"
	TypeEntityChanged = "entity.changed"
)

// Kinds of changed entities.
const (
	KindEntry         = "entry"
	KindCollaboration = "collaboration"
	KindInteraction   = "interaction"
)

// Message is the realtime envelope.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Handshake struct {
	DeviceID string `json:"deviceId"`
}

type Ready struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId"`
}

// EntityChanged is the terse change notification; receivers pull to learn
// what changed.
type EntityChanged struct {
	WorkspaceID string `json:"workspaceId"`
	EntryID     string `json:"entryId"`
	Kind        string `json:"kind"`
	Version     int64  `json:"version"`
}

// NewMessage wraps payload into an envelope of type typ.
func NewMessage(typ string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Message{Type: typ, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
