package radar

import "github.com/dmitrijs2005/entrysync/internal/models"

// treeAudience answers audience queries from an in-memory entry list, the
// same way the store does from its tables.
type treeAudience struct {
	byID  map[string]*models.Entry
	cache map[string][]string
}

func newTreeAudience(entries []models.Entry) *treeAudience {
	t := &treeAudience{byID: make(map[string]*models.Entry, len(entries)), cache: map[string][]string{}}
	for i := range entries {
		t.byID[entries[i].ID] = &entries[i]
	}
	return t
}

func (t *treeAudience) of(entryID string) []string {
	if users, ok := t.cache[entryID]; ok {
		return users
	}
	grants := map[string]models.Role{}
	visited := map[string]struct{}{}
	for id := entryID; id != ""; {
		if _, ok := visited[id]; ok {
			break
		}
		visited[id] = struct{}{}
		e, ok := t.byID[id]
		if !ok {
			break
		}
		if attrs, err := e.Decode(); err == nil {
			models.InheritGrants(grants, models.Collaborators(attrs))
		}
		id = e.Parent()
	}
	users := models.GrantedUsers(grants)
	t.cache[entryID] = users
	return users
}
