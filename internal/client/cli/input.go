package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/entrysync/internal/models"
	"golang.org/x/term"
)

// ErrBadGrant is returned by GetGrants for a line that is not user=role.
var ErrBadGrant = errors.New("expected user=role")

const blockHint = "(press Enter on an empty line to finish)"

// readPassword is replaced in tests so nothing touches the terminal.
var readPassword = term.ReadPassword

// GetSimpleText prompts on w and returns one trimmed line from reader. A
// final line without a newline is accepted.
func GetSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// GetPassword reads a password from the terminal without echo.
func GetPassword(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// readBlock collects lines up to the first empty one or EOF, with line
// endings stripped.
func readBlock(reader *bufio.Reader, prompt string, w io.Writer) ([]string, error) {
	if _, err := fmt.Fprintln(w, prompt+"\n"+blockHint); err != nil {
		return nil, err
	}
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			lines = append(lines, line)
		}
		if line == "" || err != nil {
			return lines, nil
		}
	}
}

// GetMultiline reads a message body: a block of lines joined with '\n'.
func GetMultiline(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	lines, err := readBlock(reader, prompt, w)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// GetGrants reads a block of user=role lines. An empty role maps the user
// to models.RoleNone, which callers treat as removal. A later line for the
// same user overrides an earlier one.
func GetGrants(reader *bufio.Reader, prompt string, w io.Writer) (map[string]models.Role, error) {
	lines, err := readBlock(reader, prompt, w)
	if err != nil {
		return nil, err
	}
	grants := make(map[string]models.Role, len(lines))
	for _, l := range lines {
		user, role, ok := strings.Cut(l, "=")
		user, role = strings.TrimSpace(user), strings.TrimSpace(role)
		r := models.Role(role)
		if !ok || user == "" || (r != models.RoleNone && !r.Valid()) {
			return nil, fmt.Errorf("%w: %q", ErrBadGrant, l)
		}
		grants[user] = r
	}
	return grants, nil
}
