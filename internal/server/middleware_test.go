package server

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

// MockServerStream mocks grpc.ServerStream
type MockServerStream struct {
	grpc.ServerStream
	ctx    context.Context
	header metadata.MD
}

func (m *MockServerStream) Context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

func (m *MockServerStream) SetHeader(md metadata.MD) error {
	m.header = metadata.Join(m.header, md)
	return nil
}

func TestUnaryInterceptors(t *testing.T) {
	srv := New(Config{}, nil).(*serverImpl)
	info := &grpc.UnaryServerInfo{FullMethod: "/google.firestore.v1.Firestore/GetDocument"}

	t.Run("Recovery Panic", func(t *testing.T) {
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			panic("oops")
		}
		_, err := srv.recoveryUnaryInterceptor(context.Background(), "request", info, handler)
		assert.Equal(t, codes.Internal, status.Code(err))
	})

	t.Run("Logging Error", func(t *testing.T) {
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.NotFound, "missing")
		}
		_, err := srv.loggingUnaryInterceptor(context.Background(), "request", info, handler)
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Auth Disabled", func(t *testing.T) {
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			assert.Nil(t, GetClaims(ctx))
			return "ok", nil
		}
		resp, err := srv.authUnaryInterceptor(context.Background(), "request", info, handler)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	})
}

func TestStreamInterceptors(t *testing.T) {
	srv := New(Config{AuthSecret: "s3cret"}, nil).(*serverImpl)
	info := &grpc.StreamServerInfo{FullMethod: "/google.firestore.v1.Firestore/Listen"}

	t.Run("Recovery Panic", func(t *testing.T) {
		err := srv.recoveryStreamInterceptor(nil, &MockServerStream{}, info, func(interface{}, grpc.ServerStream) error {
			panic("oops")
		})
		assert.Equal(t, codes.Internal, status.Code(err))
	})

	t.Run("Request ID", func(t *testing.T) {
		md := metadata.Pairs(requestIDHeader, "abc", "google-cloud-resource-prefix", "projects/p/databases/(default)")
		ss := &MockServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}
		err := srv.requestIDStreamInterceptor(nil, ss, info, func(_ interface{}, stream grpc.ServerStream) error {
			assert.Equal(t, "abc", GetRequestID(stream.Context()))
			assert.Equal(t, "projects/p/databases/(default)", GetDatabase(stream.Context()))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"abc"}, ss.header.Get(requestIDHeader))
	})

	t.Run("Auth Missing Token", func(t *testing.T) {
		called := false
		err := srv.authStreamInterceptor(nil, &MockServerStream{}, info, func(interface{}, grpc.ServerStream) error {
			called = true
			return nil
		})
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
		assert.False(t, called)
	})

	t.Run("Logging Cancelled", func(t *testing.T) {
		err := srv.loggingStreamInterceptor(nil, &MockServerStream{}, info, func(interface{}, grpc.ServerStream) error {
			return status.Error(codes.Canceled, "client went away")
		})
		assert.Equal(t, codes.Canceled, status.Code(err))
	})
}

func TestCodeLevel(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "INFO", codeLevel(ctx, codes.OK).String())
	assert.Equal(t, "WARN", codeLevel(ctx, codes.DeadlineExceeded).String())
	assert.Equal(t, "INFO", codeLevel(ctx, codes.NotFound).String())
	assert.Equal(t, "ERROR", codeLevel(ctx, codes.Internal).String())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, "WARN", codeLevel(cancelled, codes.Unknown).String())
}
