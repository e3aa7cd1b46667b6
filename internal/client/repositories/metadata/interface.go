package metadata

import (
	"context"
)

// Repository is a small key/value table for replica bookkeeping such as the
// pull cursor and the device id.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Cursor(ctx context.Context, workspaceID string) (string, error)
	SetCursor(ctx context.Context, workspaceID, cursor string) error
}

// Well-known keys.
const (
	KeyDeviceID     = "device_id"
	keyCursorPrefix = "cursor:"
)
