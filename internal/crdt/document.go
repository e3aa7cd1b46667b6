// Package crdt implements the state-based CRDT used for entry attributes:
// a last-writer-wins map whose registers are ordered by (clock, node,
// deleted, value). Merge is a join over that order, so it is commutative,
// associative and idempotent, and any two replicas that saw the same set of
// updates hold identical state regardless of arrival order or duplicates.
//
// The merge never inspects values. Type-specific validation belongs to the
// layers that produce updates.
package crdt

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Register is one LWW cell of a Document.
type Register struct {
	Value   json.RawMessage
	Clock   uint64
	Node    string
	Deleted bool
}

// wins reports whether r is ordered after o.
func (r Register) wins(o Register) bool {
	if r.Clock != o.Clock {
		return r.Clock > o.Clock
	}
	if r.Node != o.Node {
		return r.Node > o.Node
	}
	if r.Deleted != o.Deleted {
		return r.Deleted
	}
	return bytes.Compare(r.Value, o.Value) > 0
}

func (r Register) equal(o Register) bool {
	return r.Clock == o.Clock && r.Node == o.Node && r.Deleted == o.Deleted && bytes.Equal(r.Value, o.Value)
}

// Document is a map of attribute keys to registers.
type Document struct {
	registers map[string]Register
}

func New() *Document {
	return &Document{registers: make(map[string]Register)}
}

// Len counts registers, tombstones included.
func (d *Document) Len() int {
	return len(d.registers)
}

// Clock returns the highest clock seen in the document.
func (d *Document) Clock() uint64 {
	var max uint64
	for _, r := range d.registers {
		if r.Clock > max {
			max = r.Clock
		}
	}
	return max
}

// Keys returns register keys in sorted order, tombstones included.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.registers))
	for k := range d.registers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Document) Register(key string) (Register, bool) {
	r, ok := d.registers[key]
	return r, ok
}

// Get returns the live value of key.
func (d *Document) Get(key string) (json.RawMessage, bool) {
	r, ok := d.registers[key]
	if !ok || r.Deleted {
		return nil, false
	}
	return r.Value, true
}

// Set writes value under key with a clock above everything in the document.
func (d *Document) Set(key string, value json.RawMessage, node string) Register {
	r := Register{Value: compact(value), Clock: d.Clock() + 1, Node: node}
	d.registers[key] = r
	return r
}

// Delete writes a tombstone for key.
func (d *Document) Delete(key string, node string) Register {
	r := Register{Clock: d.Clock() + 1, Node: node, Deleted: true}
	d.registers[key] = r
	return r
}

// Apply merges a single register and reports whether the document changed.
func (d *Document) Apply(key string, r Register) bool {
	if r.Deleted {
		r.Value = nil
	} else {
		r.Value = compact(r.Value)
	}
	cur, ok := d.registers[key]
	if ok && (cur.equal(r) || !r.wins(cur)) {
		return false
	}
	d.registers[key] = r
	return true
}

// Merge joins other into d and reports whether d changed.
func (d *Document) Merge(other *Document) bool {
	if other == nil {
		return false
	}
	changed := false
	for k, r := range other.registers {
		if d.Apply(k, r) {
			changed = true
		}
	}
	return changed
}

func (d *Document) Clone() *Document {
	c := &Document{registers: make(map[string]Register, len(d.registers))}
	for k, r := range d.registers {
		r.Value = append(json.RawMessage(nil), r.Value...)
		c.registers[k] = r
	}
	return c
}

// Equal compares full register state, tombstones included.
func (d *Document) Equal(o *Document) bool {
	if len(d.registers) != len(o.registers) {
		return false
	}
	for k, r := range d.registers {
		or, ok := o.registers[k]
		if !ok || !r.equal(or) {
			return false
		}
	}
	return true
}

// Snapshot is the live projection: key -> value, tombstones dropped.
func (d *Document) Snapshot() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(d.registers))
	for k, r := range d.registers {
		if r.Deleted {
			continue
		}
		out[k] = r.Value
	}
	return out
}

// JSON renders the live projection as a JSON object.
func (d *Document) JSON() (json.RawMessage, error) {
	return json.Marshal(d.Snapshot())
}

// Diff builds the delta that turns base's projection into next. Changed or
// added keys become registers, keys missing from next become tombstones. All
// delta registers share one clock above base so they merge as one write.
// base is not modified.
func Diff(base *Document, next map[string]json.RawMessage, node string) *Document {
	delta := New()
	clock := base.Clock() + 1
	for k, v := range next {
		v = compact(v)
		if cur, ok := base.Get(k); ok && bytes.Equal(cur, v) {
			continue
		}
		delta.registers[k] = Register{Value: v, Clock: clock, Node: node}
	}
	for k, r := range base.registers {
		if r.Deleted {
			continue
		}
		if _, ok := next[k]; !ok {
			delta.registers[k] = Register{Clock: clock, Node: node, Deleted: true}
		}
	}
	return delta
}

func compact(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return append(json.RawMessage(nil), v...)
	}
	return buf.Bytes()
}
