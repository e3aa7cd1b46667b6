package syncproto

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "entrysync.v1.SyncService"

const (
	MethodRegister         = "/" + ServiceName + "/Register"
	MethodLogin            = "/" + ServiceName + "/Login"
	MethodPing             = "/" + ServiceName + "/Ping"
	MethodPush             = "/" + ServiceName + "/Push"
	MethodPull             = "/" + ServiceName + "/Pull"
	MethodPushInteractions = "/" + ServiceName + "/PushInteractions"
)

// SyncServer is implemented by the server handler.
type SyncServer interface {
	Register(context.Context, *RegisterRequest) (*AuthResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Push(context.Context, *PushRequest) (*PushResponse, error)
	Pull(context.Context, *PullRequest) (*PullResponse, error)
	PushInteractions(context.Context, *PushInteractionsRequest) (*PushInteractionsResponse, error)
}

func unary[Req, Resp any](name string, call func(SyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the sync service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", SyncServer.Register),
		unary("Login", SyncServer.Login),
		unary("Ping", SyncServer.Ping),
		unary("Push", SyncServer.Push),
		unary("Pull", SyncServer.Pull),
		unary("PushInteractions", SyncServer.PushInteractions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "entrysync/v1/sync",
}

func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SyncClient is the client stub of the sync service.
type SyncClient interface {
	Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error)
	Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error)
	Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error)
	Pull(ctx context.Context, in *PullRequest, opts ...grpc.CallOption) (*PullResponse, error)
	PushInteractions(ctx context.Context, in *PushInteractionsRequest, opts ...grpc.CallOption) (*PushInteractionsResponse, error)
}

type syncClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncClient(cc grpc.ClientConnInterface) SyncClient {
	return &syncClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, MethodRegister, in, opts)
}

func (c *syncClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*AuthResponse, error) {
	return invoke[AuthResponse](ctx, c.cc, MethodLogin, in, opts)
}

func (c *syncClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, MethodPing, in, opts)
}

func (c *syncClient) Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error) {
	return invoke[PushResponse](ctx, c.cc, MethodPush, in, opts)
}

func (c *syncClient) Pull(ctx context.Context, in *PullRequest, opts ...grpc.CallOption) (*PullResponse, error) {
	return invoke[PullResponse](ctx, c.cc, MethodPull, in, opts)
}

func (c *syncClient) PushInteractions(ctx context.Context, in *PushInteractionsRequest, opts ...grpc.CallOption) (*PushInteractionsResponse, error) {
	return invoke[PushInteractionsResponse](ctx, c.cc, MethodPushInteractions, in, opts)
}
