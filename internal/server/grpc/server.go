package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/entrysync/internal/logging"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/applier"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
	"github.com/dmitrijs2005/entrysync/internal/server/services"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"google.golang.org/grpc"
)

type userSvc interface {
	Register(ctx context.Context, username, password string) (*services.Session, error)
	Login(ctx context.Context, username, password, deviceID string) (*services.Session, error)
}

type syncSvc interface {
	Push(ctx context.Context, userID, workspaceID string, txs []*domain.Transaction) []applier.Result
	Pull(ctx context.Context, userID, workspaceID string, cursor syncproto.Cursor, limit int) (*services.PullResult, error)
	PushInteractions(ctx context.Context, userID, workspaceID string, in []*domain.Interaction) ([]models.Interaction, error)
}

type GRPCServer struct {
	address   string
	users     userSvc
	sync      syncSvc
	logger    logging.Logger
	jwtSecret []byte
}

var _ syncproto.SyncServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, us userSvc, ss syncSvc, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		users:     us,
		sync:      ss,
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	syncproto.RegisterSyncServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
