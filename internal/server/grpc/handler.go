package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/entrysync/internal/common"
	domain "github.com/dmitrijs2005/entrysync/internal/models"
	"github.com/dmitrijs2005/entrysync/internal/server/applier"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors onto gRPC codes. Unknown errors are hidden
// behind Internal.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, common.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrInvalidEntry), errors.Is(err, common.ErrInvalidEntryType),
		errors.Is(err, common.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrVersionConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// resultCode classifies a failed transaction for the client.
func resultCode(err error) string {
	switch {
	case errors.Is(err, common.ErrForbidden):
		return syncproto.CodeForbidden
	case errors.Is(err, common.ErrNotFound):
		return syncproto.CodeNotFound
	case errors.Is(err, common.ErrInvalidEntry), errors.Is(err, common.ErrInvalidEntryType),
		errors.Is(err, common.ErrAlreadyExists):
		return syncproto.CodeInvalid
	default:
		return syncproto.CodeInternal
	}
}

func toResult(r applier.Result) syncproto.TransactionResult {
	if r.Err == nil {
		return syncproto.TransactionResult{ID: r.TransactionID, Status: syncproto.StatusSuccess, Version: r.Version}
	}
	code := resultCode(r.Err)
	msg := r.Err.Error()
	if code == syncproto.CodeInternal {
		msg = "internal error"
	}
	return syncproto.TransactionResult{ID: r.TransactionID, Status: syncproto.StatusError, Code: code, Error: msg}
}

func (s *GRPCServer) userID(ctx context.Context) (string, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Internal, "no user in context")
	}
	return id, nil
}

func (s *GRPCServer) Register(ctx context.Context, req *syncproto.RegisterRequest) (*syncproto.AuthResponse, error) {
	s.logger.Info(ctx, "Registration request")

	sess, err := s.users.Register(ctx, req.Username, req.Password)
	if err != nil {
		s.logger.Error(ctx, "registration failed", "username", req.Username, "error", err)
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "Registered", "username", req.Username)
	return &syncproto.AuthResponse{UserID: sess.UserID, AccessToken: sess.AccessToken, ExpiresAt: sess.ExpiresAt}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *syncproto.LoginRequest) (*syncproto.AuthResponse, error) {
	sess, err := s.users.Login(ctx, req.Username, req.Password, req.DeviceID)
	if err != nil {
		if !errors.Is(err, common.ErrUnauthorized) {
			s.logger.Error(ctx, "login failed", "username", req.Username, "error", err)
		}
		return nil, toStatus(err)
	}
	return &syncproto.AuthResponse{UserID: sess.UserID, AccessToken: sess.AccessToken, ExpiresAt: sess.ExpiresAt}, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *syncproto.PingRequest) (*syncproto.PingResponse, error) {
	return &syncproto.PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	if req.WorkspaceID == "" {
		return nil, status.Error(codes.InvalidArgument, "workspace id is required")
	}

	txs := make([]*domain.Transaction, len(req.Transactions))
	for i, t := range req.Transactions {
		txs[i] = t.Model(req.WorkspaceID)
	}

	results := s.sync.Push(ctx, userID, req.WorkspaceID, txs)
	resp := &syncproto.PushResponse{Results: make([]syncproto.TransactionResult, len(results))}
	for i, r := range results {
		resp.Results[i] = toResult(r)
		if resultCode(r.Err) == syncproto.CodeInternal && r.Err != nil {
			s.logger.Error(ctx, "transaction failed", "tx", r.TransactionID, "error", r.Err)
		}
	}
	return resp, nil
}

func (s *GRPCServer) Pull(ctx context.Context, req *syncproto.PullRequest) (*syncproto.PullResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	cursor, err := syncproto.ParseCursor(req.Cursor)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	page, err := s.sync.Pull(ctx, userID, req.WorkspaceID, cursor, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &syncproto.PullResponse{
		Entries:        make([]syncproto.Entry, 0, len(page.Entries)),
		Collaborations: make([]syncproto.Collaboration, 0, len(page.Collaborations)),
		Interactions:   make([]syncproto.Interaction, 0, len(page.Interactions)),
		NextCursor:     page.Next.String(),
		HasMore:        page.HasMore,
	}
	for i := range page.Entries {
		e := &page.Entries[i]
		resp.Entries = append(resp.Entries, syncproto.FromEntry(e.Domain(), e.Version))
	}
	for i := range page.Collaborations {
		resp.Collaborations = append(resp.Collaborations, syncproto.FromCollaboration(&page.Collaborations[i].Collaboration))
	}
	for i := range page.Interactions {
		resp.Interactions = append(resp.Interactions, syncproto.FromInteraction(&page.Interactions[i].Interaction))
	}
	return resp, nil
}

func (s *GRPCServer) PushInteractions(ctx context.Context, req *syncproto.PushInteractionsRequest) (*syncproto.PushInteractionsResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	if req.WorkspaceID == "" {
		return nil, status.Error(codes.InvalidArgument, "workspace id is required")
	}

	in := make([]*domain.Interaction, len(req.Interactions))
	for i, x := range req.Interactions {
		in[i] = x.Model()
	}
	merged, err := s.sync.PushInteractions(ctx, userID, req.WorkspaceID, in)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &syncproto.PushInteractionsResponse{Interactions: make([]syncproto.Interaction, 0, len(merged))}
	for i := range merged {
		resp.Interactions = append(resp.Interactions, syncproto.FromInteraction(&merged[i].Interaction))
	}
	return resp, nil
}
