package crdt

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout (protobuf compatible):
//
//	message Document { repeated Register registers = 1; }
//	message Register {
//	  string key = 1; bytes value = 2; uint64 clock = 3;
//	  string node = 4; bool deleted = 5;
//	}
const (
	fieldRegisters protowire.Number = 1

	fieldKey     protowire.Number = 1
	fieldValue   protowire.Number = 2
	fieldClock   protowire.Number = 3
	fieldNode    protowire.Number = 4
	fieldDeleted protowire.Number = 5
)

var ErrMalformed = errors.New("malformed crdt payload")

// Encode serialises d deterministically (keys sorted).
func Encode(d *Document) []byte {
	var out []byte
	for _, k := range d.Keys() {
		r := d.registers[k]
		var msg []byte
		msg = protowire.AppendTag(msg, fieldKey, protowire.BytesType)
		msg = protowire.AppendString(msg, k)
		if !r.Deleted {
			msg = protowire.AppendTag(msg, fieldValue, protowire.BytesType)
			msg = protowire.AppendBytes(msg, r.Value)
		}
		msg = protowire.AppendTag(msg, fieldClock, protowire.VarintType)
		msg = protowire.AppendVarint(msg, r.Clock)
		msg = protowire.AppendTag(msg, fieldNode, protowire.BytesType)
		msg = protowire.AppendString(msg, r.Node)
		if r.Deleted {
			msg = protowire.AppendTag(msg, fieldDeleted, protowire.VarintType)
			msg = protowire.AppendVarint(msg, protowire.EncodeBool(true))
		}

		out = protowire.AppendTag(out, fieldRegisters, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	return out
}

// Decode parses bytes produced by Encode. Empty input is an empty document.
func Decode(b []byte) (*Document, error) {
	d := New()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldRegisters || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		key, r, err := decodeRegister(msg)
		if err != nil {
			return nil, err
		}
		d.Apply(key, r)
	}
	return d, nil
}

func decodeRegister(b []byte) (string, Register, error) {
	var (
		key    string
		hasKey bool
		r      Register
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", r, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", r, fmt.Errorf("%w: key", ErrMalformed)
			}
			key, hasKey = v, true
			b = b[n:]
		case num == fieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", r, fmt.Errorf("%w: value", ErrMalformed)
			}
			r.Value = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldClock && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", r, fmt.Errorf("%w: clock", ErrMalformed)
			}
			r.Clock = v
			b = b[n:]
		case num == fieldNode && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", r, fmt.Errorf("%w: node", ErrMalformed)
			}
			r.Node = v
			b = b[n:]
		case num == fieldDeleted && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", r, fmt.Errorf("%w: deleted", ErrMalformed)
			}
			r.Deleted = protowire.DecodeBool(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", r, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !hasKey {
		return "", r, fmt.Errorf("%w: register without key", ErrMalformed)
	}
	return key, r, nil
}

// Merge decodes state and update, joins them and re-encodes the result.
// changed is false when update carried nothing new, which makes replays
// and duplicate deliveries no-ops.
func Merge(state, update []byte) (merged []byte, changed bool, err error) {
	base, err := Decode(state)
	if err != nil {
		return nil, false, fmt.Errorf("decode state: %w", err)
	}
	delta, err := Decode(update)
	if err != nil {
		return nil, false, fmt.Errorf("decode update: %w", err)
	}
	changed = base.Merge(delta)
	return Encode(base), changed, nil
}
