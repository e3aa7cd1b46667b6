package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/crdt"
)

// EntryType is the tag of an entry variant.
type EntryType string

const (
	EntryTypeSpace    EntryType = "space"
	EntryTypePage     EntryType = "page"
	EntryTypeChannel  EntryType = "channel"
	EntryTypeChat     EntryType = "chat"
	EntryTypeDatabase EntryType = "database"
	EntryTypeRecord   EntryType = "record"
	EntryTypeField    EntryType = "field"
	EntryTypeView     EntryType = "view"
	EntryTypeFolder   EntryType = "folder"
	EntryTypeFile     EntryType = "file"
	EntryTypeMessage  EntryType = "message"
)

// IsRoot reports whether entries of type t may terminate a parent chain.
func (t EntryType) IsRoot() bool {
	switch t {
	case EntryTypeSpace, EntryTypeChat, EntryTypePage, EntryTypeChannel:
		return true
	}
	return false
}

// Attributes is the decoded projection of an entry's CRDT state.
type Attributes interface {
	EntryType() EntryType
	Parent() string
}

// Collaborative is implemented by variants that carry role grants.
type Collaborative interface {
	Attributes
	CollaboratorMap() map[string]Role
}

type SpaceAttributes struct {
	Type          EntryType       `json:"type"`
	ParentID      string          `json:"parentId,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Avatar        string          `json:"avatar,omitempty"`
	Collaborators map[string]Role `json:"collaborators,omitempty"`
}

type PageAttributes struct {
	Type          EntryType       `json:"type"`
	ParentID      string          `json:"parentId,omitempty"`
	Name          string          `json:"name"`
	Avatar        string          `json:"avatar,omitempty"`
	Collaborators map[string]Role `json:"collaborators,omitempty"`
}

type ChannelAttributes struct {
	Type          EntryType       `json:"type"`
	ParentID      string          `json:"parentId,omitempty"`
	Name          string          `json:"name"`
	Avatar        string          `json:"avatar,omitempty"`
	Collaborators map[string]Role `json:"collaborators,omitempty"`
}

type ChatAttributes struct {
	Type          EntryType       `json:"type"`
	ParentID      string          `json:"parentId,omitempty"`
	Collaborators map[string]Role `json:"collaborators,omitempty"`
}

type DatabaseAttributes struct {
	Type          EntryType       `json:"type"`
	ParentID      string          `json:"parentId,omitempty"`
	Name          string          `json:"name"`
	Avatar        string          `json:"avatar,omitempty"`
	Collaborators map[string]Role `json:"collaborators,omitempty"`
}

type FolderAttributes struct {
	Type          EntryType       `json:"type"`
	ParentID      string          `json:"parentId,omitempty"`
	Name          string          `json:"name"`
	Avatar        string          `json:"avatar,omitempty"`
	Collaborators map[string]Role `json:"collaborators,omitempty"`
}

// RecordAttributes holds one database row. Fields maps a field entry id to
// its value.
type RecordAttributes struct {
	Type     EntryType                  `json:"type"`
	ParentID string                     `json:"parentId,omitempty"`
	Name     string                     `json:"name"`
	Fields   map[string]json.RawMessage `json:"fields,omitempty"`
}

type FieldAttributes struct {
	Type     EntryType `json:"type"`
	ParentID string    `json:"parentId,omitempty"`
	Name     string    `json:"name"`
	DataType string    `json:"dataType"`
	Index    string    `json:"index,omitempty"`
}

type ViewAttributes struct {
	Type     EntryType `json:"type"`
	ParentID string    `json:"parentId,omitempty"`
	Name     string    `json:"name"`
	Layout   string    `json:"layout"`
	Index    string    `json:"index,omitempty"`
}

type FileAttributes struct {
	Type      EntryType `json:"type"`
	ParentID  string    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType,omitempty"`
	Extension string    `json:"extension,omitempty"`
	Size      int64     `json:"size,omitempty"`
}

type MessageAttributes struct {
	Type        EntryType `json:"type"`
	ParentID    string    `json:"parentId,omitempty"`
	Text        string    `json:"text"`
	Mentions    []string  `json:"mentions,omitempty"`
	ReferenceID string    `json:"referenceId,omitempty"`
}

func (a *SpaceAttributes) EntryType() EntryType    { return EntryTypeSpace }
func (a *PageAttributes) EntryType() EntryType     { return EntryTypePage }
func (a *ChannelAttributes) EntryType() EntryType  { return EntryTypeChannel }
func (a *ChatAttributes) EntryType() EntryType     { return EntryTypeChat }
func (a *DatabaseAttributes) EntryType() EntryType { return EntryTypeDatabase }
func (a *FolderAttributes) EntryType() EntryType   { return EntryTypeFolder }
func (a *RecordAttributes) EntryType() EntryType   { return EntryTypeRecord }
func (a *FieldAttributes) EntryType() EntryType    { return EntryTypeField }
func (a *ViewAttributes) EntryType() EntryType     { return EntryTypeView }
func (a *FileAttributes) EntryType() EntryType     { return EntryTypeFile }
func (a *MessageAttributes) EntryType() EntryType  { return EntryTypeMessage }

func (a *SpaceAttributes) Parent() string    { return a.ParentID }
func (a *PageAttributes) Parent() string     { return a.ParentID }
func (a *ChannelAttributes) Parent() string  { return a.ParentID }
func (a *ChatAttributes) Parent() string     { return a.ParentID }
func (a *DatabaseAttributes) Parent() string { return a.ParentID }
func (a *FolderAttributes) Parent() string   { return a.ParentID }
func (a *RecordAttributes) Parent() string   { return a.ParentID }
func (a *FieldAttributes) Parent() string    { return a.ParentID }
func (a *ViewAttributes) Parent() string     { return a.ParentID }
func (a *FileAttributes) Parent() string     { return a.ParentID }
func (a *MessageAttributes) Parent() string  { return a.ParentID }

func (a *SpaceAttributes) CollaboratorMap() map[string]Role    { return a.Collaborators }
func (a *PageAttributes) CollaboratorMap() map[string]Role     { return a.Collaborators }
func (a *ChannelAttributes) CollaboratorMap() map[string]Role  { return a.Collaborators }
func (a *ChatAttributes) CollaboratorMap() map[string]Role     { return a.Collaborators }
func (a *DatabaseAttributes) CollaboratorMap() map[string]Role { return a.Collaborators }
func (a *FolderAttributes) CollaboratorMap() map[string]Role   { return a.Collaborators }

// New returns an empty attribute value of type t.
func New(t EntryType) (Attributes, error) {
	switch t {
	case EntryTypeSpace:
		return &SpaceAttributes{Type: t}, nil
	case EntryTypePage:
		return &PageAttributes{Type: t}, nil
	case EntryTypeChannel:
		return &ChannelAttributes{Type: t}, nil
	case EntryTypeChat:
		return &ChatAttributes{Type: t}, nil
	case EntryTypeDatabase:
		return &DatabaseAttributes{Type: t}, nil
	case EntryTypeFolder:
		return &FolderAttributes{Type: t}, nil
	case EntryTypeRecord:
		return &RecordAttributes{Type: t}, nil
	case EntryTypeField:
		return &FieldAttributes{Type: t}, nil
	case EntryTypeView:
		return &ViewAttributes{Type: t}, nil
	case EntryTypeFile:
		return &FileAttributes{Type: t}, nil
	case EntryTypeMessage:
		return &MessageAttributes{Type: t}, nil
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidEntryType, t)
	}
}

// Collaborators returns the role grants carried by a, or nil.
func Collaborators(a Attributes) map[string]Role {
	if c, ok := a.(Collaborative); ok {
		return c.CollaboratorMap()
	}
	return nil
}

// keySep joins an object attribute name with its member key so that members
// of collaborators and record fields merge independently.
const keySep = "."

// Flatten encodes a into the register map stored in the CRDT document.
// Object valued attributes are split into one register per member.
func Flatten(a Attributes) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}

	out := make(map[string]json.RawMessage, len(top))
	for k, v := range top {
		var members map[string]json.RawMessage
		if len(v) > 0 && v[0] == '{' && json.Unmarshal(v, &members) == nil {
			for mk, mv := range members {
				out[k+keySep+mk] = mv
			}
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Nest reverses Flatten and returns the JSON projection of a register map.
func Nest(fields map[string]json.RawMessage) (json.RawMessage, error) {
	top := make(map[string]any, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		name, member, ok := strings.Cut(k, keySep)
		if !ok {
			top[k] = v
			continue
		}
		obj, _ := top[name].(map[string]json.RawMessage)
		if obj == nil {
			obj = make(map[string]json.RawMessage)
			top[name] = obj
		}
		obj[member] = v
	}
	return json.Marshal(top)
}

// Decode builds typed attributes from a register map. The type register
// selects the variant.
func Decode(fields map[string]json.RawMessage) (Attributes, error) {
	var t EntryType
	raw, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("%w: missing type", common.ErrInvalidEntryType)
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidEntryType, err)
	}

	attrs, err := New(t)
	if err != nil {
		return nil, err
	}
	projection, err := Nest(fields)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(projection, attrs); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidEntry, err)
	}
	return attrs, nil
}

// AttributesFromState decodes an encoded CRDT document into attributes.
func AttributesFromState(state []byte) (Attributes, error) {
	doc, err := crdt.Decode(state)
	if err != nil {
		return nil, err
	}
	return Decode(doc.Snapshot())
}

// ProjectState returns the JSON projection of an encoded CRDT document.
func ProjectState(state []byte) (json.RawMessage, error) {
	doc, err := crdt.Decode(state)
	if err != nil {
		return nil, err
	}
	return Nest(doc.Snapshot())
}
