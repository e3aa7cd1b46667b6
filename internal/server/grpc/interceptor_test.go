package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/server/auth"
	"github.com/dmitrijs2005/entrysync/internal/syncproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func withToken(token string) context.Context {
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestInterceptor_PublicMethodsSkipToken(t *testing.T) {
	s := newServer(&fakeUser{}, &fakeSync{})

	for _, m := range []string{syncproto.MethodRegister, syncproto.MethodLogin, syncproto.MethodPing} {
		called := false
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			called = true
			return "ok", nil
		}
		resp, err := s.accessTokenInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: m}, h)
		require.NoError(t, err, m)
		assert.True(t, called, m)
		assert.Equal(t, "ok", resp)
	}
}

func TestInterceptor_Rejections(t *testing.T) {
	s := newServer(&fakeUser{}, &fakeSync{})
	info := &grpc.UnaryServerInfo{FullMethod: syncproto.MethodPush}
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		t.Fatal("handler should not be called")
		return nil, nil
	}

	expired, _, err := auth.GenerateToken("u1", "d1", []byte("k"), -time.Minute)
	require.NoError(t, err)
	foreign, _, err := auth.GenerateToken("u1", "d1", []byte("other"), time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name string
		ctx  context.Context
		msg  string
	}{
		{"missing", context.Background(), "missing token"},
		{"garbage", withToken("not-a-jwt"), common.ErrInvalidToken.Error()},
		{"wrong key", withToken(foreign), common.ErrInvalidToken.Error()},
		{"expired", withToken(expired), common.ErrTokenExpired.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.accessTokenInterceptor(tt.ctx, nil, info, h)
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
			assert.Equal(t, tt.msg, status.Convert(err).Message())
		})
	}
}

func TestInterceptor_ValidTokenSetsIdentity(t *testing.T) {
	s := newServer(&fakeUser{}, &fakeSync{})
	token, _, err := auth.GenerateToken("user-123", "dev-9", []byte("k"), time.Hour)
	require.NoError(t, err)

	var gotUser, gotDevice any
	h := func(ctx context.Context, req interface{}) (interface{}, error) {
		gotUser = ctx.Value(UserIDKey)
		gotDevice = ctx.Value(DeviceIDKey)
		return "ok", nil
	}
	_, err = s.accessTokenInterceptor(withToken(token), nil, &grpc.UnaryServerInfo{FullMethod: syncproto.MethodPull}, h)
	require.NoError(t, err)
	assert.Equal(t, "user-123", gotUser)
	assert.Equal(t, "dev-9", gotDevice)
}
