package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/models"
)

var errUsage = errors.New("usage")

func (a *App) usage(text string) error {
	fmt.Fprintln(a.out, "Usage:", text)
	return errUsage
}

func (a *App) report(err error) error {
	if err != nil {
		fmt.Fprintf(a.out, "Error: %v\n", err)
	}
	return err
}

// withAttrs replaces the JSON members of attrs given in set. A nil value
// removes the member.
func withAttrs(attrs models.Attributes, set map[string]any) (models.Attributes, error) {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	obj := map[string]any{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for k, v := range set {
		if v == nil {
			delete(obj, k)
			continue
		}
		obj[k] = v
	}

	out, err := models.New(attrs.EntryType())
	if err != nil {
		return nil, err
	}
	raw, err = json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// mentions returns the user ids referenced as @user in text.
func mentions(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(text) {
		if !strings.HasPrefix(w, "@") {
			continue
		}
		u := strings.TrimRight(strings.TrimPrefix(w, "@"), ".,:;!?")
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

func newAttributes(t models.EntryType, parentID, name, me string) (models.Attributes, error) {
	base, err := models.New(t)
	if err != nil {
		return nil, err
	}
	set := map[string]any{"name": name}
	if parentID != "" {
		set["parentId"] = parentID
	}
	switch t {
	case models.EntryTypeMessage:
		set = map[string]any{"parentId": parentID, "text": name, "mentions": mentions(name)}
	case models.EntryTypeField:
		set["dataType"] = "text"
	case models.EntryTypeView:
		set["layout"] = "table"
	}
	if parentID == "" {
		set["collaborators"] = map[string]models.Role{me: models.RoleOwner}
	}
	return withAttrs(base, set)
}

func entryName(e *models.Entry) string {
	var v struct {
		Name string `json:"name"`
		Text string `json:"text"`
	}
	_ = json.Unmarshal(e.Attributes, &v)
	if v.Name != "" {
		return v.Name
	}
	return v.Text
}

// List prints the children of an entry, or the roots of the workspace.
func (a *App) List(ctx context.Context, args []string) error {
	var (
		entries []models.Entry
		err     error
	)
	if len(args) > 0 {
		entries, err = a.session.Store.Children(ctx, args[0])
	} else {
		entries, err = a.session.Store.List(ctx)
	}
	if err != nil {
		return a.report(err)
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tUNSEEN\tMENTIONS\tSYNCED")
	for i := range entries {
		e := &entries[i]
		if e.Deleted || (len(args) == 0 && e.Parent() != "") {
			continue
		}
		c := a.session.Counts(e.ID)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%t\n", e.ID, e.Type, entryName(e), c.Unseen, c.Mentions, e.ServerVersion != nil)
	}
	return w.Flush()
}

// Show prints one entry with the local user's role on it.
func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.usage("show <id>")
	}
	e, err := a.session.Store.Get(ctx, args[0])
	if err != nil {
		return a.report(err)
	}
	role, err := a.session.Store.ResolveRole(ctx, e.ID)
	if err != nil {
		return a.report(err)
	}

	fmt.Fprintf(a.out, "%s %s (role: %s, local version %d", e.Type, e.ID, roleName(role), e.LocalVersion)
	if e.ServerVersion != nil {
		fmt.Fprintf(a.out, ", server version %d", *e.ServerVersion)
	}
	fmt.Fprintln(a.out, ")")
	if e.Deleted {
		fmt.Fprintln(a.out, "deleted")
	}
	fmt.Fprintln(a.out, string(e.Attributes))
	return nil
}

func roleName(r models.Role) string {
	if r == models.RoleNone {
		return "none"
	}
	return string(r)
}

// New creates an entry: new <type> <parent|-> <name...>.
func (a *App) New(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return a.usage("new <type> <parent|-> <name>")
	}
	parent := args[1]
	if parent == "-" {
		parent = ""
	}
	attrs, err := newAttributes(models.EntryType(args[0]), parent, strings.Join(args[2:], " "), a.account.UserID)
	if err != nil {
		return a.report(err)
	}
	e, err := a.session.Store.CreateEntry(ctx, "", attrs)
	if err != nil {
		return a.report(err)
	}
	fmt.Fprintln(a.out, "Created", e.ID)
	return nil
}

// Post adds a message to a channel, chat or page: post <parent> [text...].
// Without text the message body is read until an empty line.
func (a *App) Post(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("post <parent> [text]")
	}
	if len(args) == 1 {
		text, err := getMultiline(a.reader, "Enter message", a.out)
		if err != nil {
			return err
		}
		if text == "" {
			return a.usage("post <parent> [text]")
		}
		args = append(args, text)
	}
	return a.New(ctx, append([]string{string(models.EntryTypeMessage)}, args...))
}

// Rename sets the name of a named entry.
func (a *App) Rename(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return a.usage("rename <id> <name>")
	}
	name := strings.Join(args[1:], " ")
	_, err := a.session.Store.ApplyLocalMutation(ctx, args[0], func(attrs models.Attributes) (models.Attributes, error) {
		if attrs.EntryType() == models.EntryTypeMessage {
			return nil, fmt.Errorf("%w: messages have no name", common.ErrInvalidEntryType)
		}
		return withAttrs(attrs, map[string]any{"name": name})
	})
	return a.report(err)
}

// Share edits the collaborators of an entry. Each line is user=role; an
// empty role removes the user.
func (a *App) Share(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.usage("share <id>")
	}
	changes, err := getGrants(a.reader, "Enter collaborators as user=role (empty role removes)", a.out)
	if errors.Is(err, ErrBadGrant) {
		fmt.Fprintln(a.out, "Error:", err)
		return a.usage("user=role")
	}
	if err != nil {
		return err
	}

	_, err = a.session.Store.ApplyLocalMutation(ctx, args[0], func(attrs models.Attributes) (models.Attributes, error) {
		if _, ok := attrs.(models.Collaborative); !ok {
			return nil, fmt.Errorf("%w: %s has no collaborators", common.ErrInvalidEntryType, attrs.EntryType())
		}
		grants := map[string]models.Role{}
		for u, r := range models.Collaborators(attrs) {
			grants[u] = r
		}
		for u, r := range changes {
			if r == models.RoleNone {
				delete(grants, u)
				continue
			}
			grants[u] = r
		}
		var v any = grants
		if len(grants) == 0 {
			v = nil
		}
		return withAttrs(attrs, map[string]any{"collaborators": v})
	})
	return a.report(err)
}

// Delete tombstones an entry.
func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.usage("rm <id>")
	}
	return a.report(a.session.Store.DeleteEntry(ctx, args[0]))
}

// Seen marks an entry as seen; with opened it also counts as opened.
func (a *App) Seen(ctx context.Context, args []string, opened bool) error {
	if len(args) != 1 {
		return a.usage("seen|open <id>")
	}
	var err error
	if opened {
		_, err = a.session.Store.MarkAsOpened(ctx, args[0])
	} else {
		_, err = a.session.Store.MarkAsSeen(ctx, args[0])
	}
	return a.report(err)
}

// Radar prints the unseen and mention counts of the workspace.
func (a *App) Radar(ctx context.Context) error {
	id := a.session.Identity()
	counts := a.session.Radar.Workspace(id.UserID, id.WorkspaceID)
	if len(counts) == 0 {
		fmt.Fprintln(a.out, "Nothing new")
		return nil
	}
	ids := make([]string, 0, len(counts))
	for k := range counts {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	for _, k := range ids {
		fmt.Fprintf(a.out, "%s: %d unseen, %d mentions\n", k, counts[k].Unseen, counts[k].Mentions)
	}
	return nil
}

// Failed lists transactions that exhausted their retries.
func (a *App) Failed(ctx context.Context) error {
	txs, err := a.session.Outbox.Failed(ctx)
	if err != nil {
		return a.report(err)
	}
	if len(txs) == 0 {
		fmt.Fprintln(a.out, "No failed transactions")
		return nil
	}
	for _, t := range txs {
		fmt.Fprintf(a.out, "%s %s %s retries=%d: %s\n", t.ID, t.Operation, t.EntryID, t.RetryCount, t.LastError)
	}
	return nil
}

// Retry puts a failed transaction back into the queue.
func (a *App) Retry(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return a.usage("retry <transaction id>")
	}
	if err := a.session.Outbox.Retry(ctx, args[0]); err != nil {
		return a.report(err)
	}
	a.session.Syncer.TriggerPush()
	return nil
}

// Sync pushes and pulls right away.
func (a *App) Sync(ctx context.Context) error {
	if err := a.session.Syncer.PushOnce(ctx); err != nil {
		return a.report(err)
	}
	if err := a.session.Syncer.PullOnce(ctx); err != nil {
		return a.report(err)
	}
	return a.report(a.session.Housekeeping(ctx))
}
