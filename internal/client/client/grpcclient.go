package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultTimeout bounds each unary call.
const DefaultTimeout = 15 * time.Second

type credentials struct {
	username, password, deviceID string
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      syncproto.SyncClient
	timeout     time.Duration

	mu          sync.RWMutex
	accessToken string
	creds       *credentials
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *GRPCClient) AccessToken() string {
	return s.token()
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	err := invoker(withAccessToken(ctx, s.token()), method, req, reply, cc, opts...)
	if err == nil || method == syncproto.MethodLogin {
		return err
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated {
		return err
	}
	if st.Message() != common.ErrTokenExpired.Error() && s.token() != "" {
		return err
	}

	s.mu.RLock()
	creds := s.creds
	s.mu.RUnlock()
	if creds == nil {
		return err
	}

	// token expired or never issued, log in again and retry once
	if _, lerr := s.Login(ctx, creds.username, creds.password, creds.deviceID); lerr != nil {
		return err
	}
	return invoker(withAccessToken(ctx, s.token()), method, req, reply, cc, opts...)
}

func NewGRPCClient(endpointURL string) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, timeout: DefaultTimeout}
	err := c.InitGRPCClient()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(opts ...grpc.DialOption) error {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, opts...)
	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = syncproto.NewSyncClient(conn)
	return nil
}

func (s *GRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *GRPCClient) Register(ctx context.Context, username, password string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.Register(ctx, &syncproto.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return s.mapError(err)
	}
	return nil
}

// Login authenticates and remembers the credentials for token renewal.
func (s *GRPCClient) Login(ctx context.Context, username, password, deviceID string) (*syncproto.AuthResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Login(ctx, &syncproto.LoginRequest{Username: username, Password: password, DeviceID: deviceID})
	if err != nil {
		return nil, s.mapError(err)
	}

	s.mu.Lock()
	s.accessToken = resp.AccessToken
	s.creds = &credentials{username: username, password: password, deviceID: deviceID}
	s.mu.Unlock()
	return resp, nil
}

// Remember stores credentials verified offline so the first call that
// reaches the server logs in on its own.
func (s *GRPCClient) Remember(username, password, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &credentials{username: username, password: password, deviceID: deviceID}
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Ping(ctx, &syncproto.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

// Push sends one batch and returns one result per transaction, in order.
func (s *GRPCClient) Push(ctx context.Context, workspaceID string, txs []syncproto.Transaction) ([]syncproto.TransactionResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Push(ctx, &syncproto.PushRequest{WorkspaceID: workspaceID, Transactions: txs})
	if err != nil {
		return nil, s.mapError(err)
	}
	if len(resp.Results) != len(txs) {
		return nil, fmt.Errorf("%w: push returned %d results for %d transactions", common.ErrInternal, len(resp.Results), len(txs))
	}
	return resp.Results, nil
}

func (s *GRPCClient) Pull(ctx context.Context, workspaceID, cursor string, limit int) (*syncproto.PullResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Pull(ctx, &syncproto.PullRequest{WorkspaceID: workspaceID, Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) PushInteractions(ctx context.Context, workspaceID string, in []syncproto.Interaction) ([]syncproto.Interaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.PushInteractions(ctx, &syncproto.PushInteractionsRequest{WorkspaceID: workspaceID, Interactions: in})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Interactions, nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return ErrUnauthorized
	case codes.PermissionDenied:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrForbidden)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrNotFound)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrInvalidEntry)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", st.Message(), common.ErrAlreadyExists)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
