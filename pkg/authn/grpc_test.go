package authn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func newGRPCService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewBuilder(Options{DefaultScheme: "Test"}).Apply(headerScheme("Test")).Build()
	require.NoError(t, err)
	return svc
}

func TestUnaryServerInterceptor(t *testing.T) {
	t.Parallel()
	interceptor := UnaryServerInterceptor(newGRPCService(t), "")
	info := &grpc.UnaryServerInfo{FullMethod: "/authn.v1.Keys/List"}

	tests := []struct {
		name     string
		md       metadata.MD
		wantCode codes.Code
		wantMsg  string
	}{
		{name: "valid", md: metadata.Pairs("authorization", "Test alice"), wantCode: codes.OK},
		{name: "missing", md: metadata.Pairs("x-other", "1"), wantCode: codes.Unauthenticated, wantMsg: "missing credentials"},
		{name: "invalid", md: metadata.Pairs("authorization", "Test bad"), wantCode: codes.Unauthenticated, wantMsg: "invalid credentials"},
		{name: "expired", md: metadata.Pairs("authorization", "Test old"), wantCode: codes.Unauthenticated, wantMsg: "credentials expired"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := metadata.NewIncomingContext(context.Background(), tc.md)
			var subject string
			_, err := interceptor(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
				subject = MustPrincipalFromContext(ctx).Subject()
				return nil, nil
			})
			if tc.wantCode == codes.OK {
				require.NoError(t, err)
				assert.Equal(t, "alice", subject)
				return
			}
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tc.wantCode, st.Code())
			assert.Equal(t, tc.wantMsg, st.Message())
		})
	}
}

func TestUnaryServerInterceptor_NoMetadata(t *testing.T) {
	t.Parallel()
	interceptor := UnaryServerInterceptor(newGRPCService(t), "")
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		t.Error("handler must not run")
		return nil, nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestUnaryServerInterceptor_Misconfigured(t *testing.T) {
	t.Parallel()
	interceptor := UnaryServerInterceptor(newGRPCService(t), "Missing")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Test alice"))
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		return nil, nil
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	t.Parallel()
	interceptor := StreamServerInterceptor(newGRPCService(t), "Test")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Test carol"))

	var subject string
	err := interceptor(nil, &fakeServerStream{ctx: ctx}, &grpc.StreamServerInfo{FullMethod: "/authn.v1.Sessions/Watch"},
		func(_ any, ss grpc.ServerStream) error {
			subject = MustPrincipalFromContext(ss.Context()).Subject()
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "carol", subject)
}
