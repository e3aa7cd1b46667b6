package cli

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "trimmed line", input: "  alice@example.org \nrest\n", want: "alice@example.org"},
		{name: "last line without newline", input: "bob", want: "bob"},
		{name: "nothing to read", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := GetSimpleText(lines(tt.input), "Enter user name", &out)
			if tt.wantErr {
				require.ErrorIs(t, err, io.EOF)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Enter user name\n> ", out.String())
		})
	}
}

func TestGetPassword(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	readPassword = func(int) ([]byte, error) { return []byte("s3cret"), nil }
	var out bytes.Buffer
	pw, err := GetPassword(&out)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), pw)
	assert.Equal(t, "Enter password: \n", out.String())

	readPassword = func(int) ([]byte, error) { return nil, errors.New("not a terminal") }
	_, err = GetPassword(io.Discard)
	require.EqualError(t, err, "not a terminal")
}

func TestGetMultiline_StopsAtBlankLine(t *testing.T) {
	var out bytes.Buffer
	got, err := GetMultiline(lines("hi @bob\r\nsee the spec\n\nnot part of it\n"), "Enter message", &out)
	require.NoError(t, err)
	assert.Equal(t, "hi @bob\nsee the spec", got)
	assert.Contains(t, out.String(), blockHint)

	got, err = GetMultiline(lines("no trailing blank"), "Enter message", io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "no trailing blank", got)
}

func TestGetGrants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]models.Role
		wantErr bool
	}{
		{
			name:  "roles and removals",
			input: "bob=editor\n carol = viewer \ndave=\n\n",
			want:  map[string]models.Role{"bob": models.RoleEditor, "carol": models.RoleViewer, "dave": models.RoleNone},
		},
		{
			name:  "later line wins",
			input: "bob=viewer\r\nbob=admin\r\n\r\n",
			want:  map[string]models.Role{"bob": models.RoleAdmin},
		},
		{
			name:  "empty block",
			input: "\n",
			want:  map[string]models.Role{},
		},
		{name: "missing separator", input: "bob editor\n\n", wantErr: true},
		{name: "missing user", input: "=owner\n\n", wantErr: true},
		{name: "unknown role", input: "bob=superuser\n\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetGrants(lines(tt.input), "Enter collaborators", io.Discard)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrBadGrant)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
