package syncproto

import (
	"fmt"
	"strconv"
	"strings"
)

// Cursor is the pull position: the last revision seen per stream. All
// revisions come from one server sequence, so each stream advances
// independently and monotonically.
type Cursor struct {
	Entries        int64
	Collaborations int64
	Interactions   int64
}

func (c Cursor) String() string {
	return fmt.Sprintf("%d:%d:%d", c.Entries, c.Collaborations, c.Interactions)
}

// ParseCursor decodes the opaque cursor string. The empty string is the
// zero cursor.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Cursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	var vals [3]int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return Cursor{}, fmt.Errorf("malformed cursor %q", s)
		}
		vals[i] = v
	}
	return Cursor{Entries: vals[0], Collaborations: vals[1], Interactions: vals[2]}, nil
}

// Max returns the componentwise maximum, so cursors never move backwards.
func (c Cursor) Max(o Cursor) Cursor {
	return Cursor{
		Entries:        max(c.Entries, o.Entries),
		Collaborations: max(c.Collaborations, o.Collaborations),
		Interactions:   max(c.Interactions, o.Interactions),
	}
}
