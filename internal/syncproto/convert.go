package syncproto

import "github.com/dmitrijs2005/entrysync/internal/models"

func FromTransaction(t *models.Transaction) Transaction {
	return Transaction{
		ID:        t.ID,
		EntryID:   t.EntryID,
		Operation: string(t.Operation),
		Payload:   t.Payload,
		CreatedAt: t.CreatedAt,
		CreatedBy: t.CreatedBy,
	}
}

func (t Transaction) Model(workspaceID string) *models.Transaction {
	return &models.Transaction{
		ID:          t.ID,
		EntryID:     t.EntryID,
		WorkspaceID: workspaceID,
		Operation:   models.Operation(t.Operation),
		Payload:     t.Payload,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
	}
}

// FromEntry converts an entry acknowledged by the server. version is the
// canonical version assigned on apply.
func FromEntry(e *models.Entry, version int64) Entry {
	return Entry{
		ID:          e.ID,
		WorkspaceID: e.WorkspaceID,
		Type:        string(e.Type),
		ParentID:    e.Parent(),
		RootID:      e.RootID,
		State:       e.State,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		UpdatedBy:   e.UpdatedBy,
		UpdatedAt:   e.UpdatedAt,
		Version:     version,
		Deleted:     e.Deleted,
	}
}

func (e Entry) Model() *models.Entry {
	out := &models.Entry{
		ID:          e.ID,
		WorkspaceID: e.WorkspaceID,
		Type:        models.EntryType(e.Type),
		RootID:      e.RootID,
		State:       e.State,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		UpdatedBy:   e.UpdatedBy,
		UpdatedAt:   e.UpdatedAt,
		Deleted:     e.Deleted,
	}
	if e.ParentID != "" {
		p := e.ParentID
		out.ParentID = &p
	}
	if e.Version > 0 {
		v := e.Version
		out.ServerVersion = &v
	}
	return out
}

func FromCollaboration(c *models.Collaboration) Collaboration {
	return Collaboration{
		EntryID:     c.EntryID,
		WorkspaceID: c.WorkspaceID,
		UserID:      c.UserID,
		Role:        string(c.Role),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		DeletedAt:   c.DeletedAt,
		Version:     c.Version,
	}
}

func (c Collaboration) Model() *models.Collaboration {
	return &models.Collaboration{
		EntryID:     c.EntryID,
		WorkspaceID: c.WorkspaceID,
		UserID:      c.UserID,
		Role:        models.Role(c.Role),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		DeletedAt:   c.DeletedAt,
		Version:     c.Version,
	}
}

func FromInteraction(i *models.Interaction) Interaction {
	return Interaction{
		EntryID:         i.EntryID,
		WorkspaceID:     i.WorkspaceID,
		UserID:          i.UserID,
		LastSeenAt:      i.LastSeenAt,
		LastOpenedAt:    i.LastOpenedAt,
		LastSeenVersion: i.LastSeenVersion,
		Version:         i.Version,
	}
}

func (i Interaction) Model() *models.Interaction {
	return &models.Interaction{
		EntryID:         i.EntryID,
		WorkspaceID:     i.WorkspaceID,
		UserID:          i.UserID,
		LastSeenAt:      i.LastSeenAt,
		LastOpenedAt:    i.LastOpenedAt,
		LastSeenVersion: i.LastSeenVersion,
		Version:         i.Version,
	}
}
