package revisions

import "context"

// Repository orders revision assignment within a workspace.
type Repository interface {
	// LockWorkspace blocks until the calling transaction is the only one in
	// the workspace allowed to take revisions, and holds that right until it
	// commits or rolls back. Revisions of a workspace therefore become
	// visible in the order they were taken, and a pull cursor never passes a
	// revision that commits later.
	LockWorkspace(ctx context.Context, workspaceID string) error
}
