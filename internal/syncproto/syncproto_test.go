package syncproto

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoServer struct {
	SyncServer
}

func (s *echoServer) Push(_ context.Context, req *PushRequest) (*PushResponse, error) {
	out := &PushResponse{}
	for _, tx := range req.Transactions {
		out.Results = append(out.Results, TransactionResult{ID: tx.ID, Status: StatusSuccess, Version: int64(len(tx.Payload))})
	}
	return out, nil
}

func (s *echoServer) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return nil, status.Error(codes.Unavailable, "down")
}

func dial(t *testing.T, srv SyncServer, opts ...grpc.ServerOption) SyncClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(opts...)
	RegisterSyncServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewSyncClient(conn)
}

func TestService_RoundTripOverJSONCodec(t *testing.T) {
	srv := &echoServer{}
	var method string
	client := dial(t, srv, grpc.UnaryInterceptor(func(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
		method = info.FullMethod
		return h(ctx, req)
	}))

	resp, err := client.Push(context.Background(), &PushRequest{
		WorkspaceID: "w",
		Transactions: []Transaction{
			{ID: "t1", EntryID: "e", Operation: "create", Payload: []byte{1, 2, 3}},
			{ID: "t2", EntryID: "e", Operation: "update", Payload: []byte{4}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, MethodPush, method)
	assert.Equal(t, []TransactionResult{
		{ID: "t1", Status: StatusSuccess, Version: 3},
		{ID: "t2", Status: StatusSuccess, Version: 1},
	}, resp.Results)

	_, err = client.Ping(context.Background(), &PingRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestCursor(t *testing.T) {
	c, err := ParseCursor("")
	require.NoError(t, err)
	assert.Equal(t, Cursor{}, c)

	c, err = ParseCursor("12:3:40")
	require.NoError(t, err)
	assert.Equal(t, Cursor{Entries: 12, Collaborations: 3, Interactions: 40}, c)
	assert.Equal(t, "12:3:40", c.String())

	assert.Equal(t, Cursor{Entries: 12, Collaborations: 5, Interactions: 40}, c.Max(Cursor{Entries: 1, Collaborations: 5}))

	for _, bad := range []string{"1:2", "a:b:c", "1:-2:3", "1:2:3:4"} {
		_, err := ParseCursor(bad)
		assert.Error(t, err, bad)
	}
}

func TestMessage_Envelope(t *testing.T) {
	m, err := NewMessage(TypeEntityChanged, EntityChanged{WorkspaceID: "w", EntryID: "e", Kind: KindEntry, Version: 7})
	require.NoError(t, err)
	assert.Equal(t, TypeEntityChanged, m.Type)
	assert.JSONEq(t, `{"workspaceId":"w","entryId":"e","kind":"entry","version":7}`, string(m.Payload))

	var ev EntityChanged
	require.NoError(t, m.Decode(&ev))
	assert.Equal(t, int64(7), ev.Version)

	assert.Error(t, Message{Type: TypeHandshake, Payload: []byte("{")}.Decode(&Handshake{}))
}
