package client

import (
	"context"

	"github.com/dmitrijs2005/entrysync/internal/syncproto"
)

// Client is the sync service as seen by the client engine.
type Client interface {
	Close() error
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password, deviceID string) (*syncproto.AuthResponse, error)
	// Remember keeps credentials for a login deferred until the server is
	// reachable.
	Remember(username, password, deviceID string)
	Ping(ctx context.Context) error
	Push(ctx context.Context, workspaceID string, txs []syncproto.Transaction) ([]syncproto.TransactionResult, error)
	Pull(ctx context.Context, workspaceID, cursor string, limit int) (*syncproto.PullResponse, error)
	PushInteractions(ctx context.Context, workspaceID string, in []syncproto.Interaction) ([]syncproto.Interaction, error)
	AccessToken() string
}
