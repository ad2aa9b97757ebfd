package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/syntrixbase/docwatch/internal/auth"
	"github.com/syntrixbase/docwatch/internal/ctxkeys"
	"github.com/syntrixbase/docwatch/internal/resource"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const requestIDHeader = "x-request-id"

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxkeys.KeyRequestID).(string); ok {
		return id
	}
	return ""
}

// GetDatabase returns the database named by the call's resource-prefix
// header, empty when the header was not sent.
func GetDatabase(ctx context.Context) string {
	db, _ := ctx.Value(ctxkeys.KeyDatabase).(string)
	return db
}

// GetClaims returns the verified token claims, nil when auth is off.
func GetClaims(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(ctxkeys.KeyClaims).(*auth.Claims)
	return c
}

// wrappedStream replaces a ServerStream's context.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func (s *serverImpl) unaryInterceptors() grpc.ServerOption {
	interceptors := []grpc.UnaryServerInterceptor{
		s.recoveryUnaryInterceptor,
		s.requestIDUnaryInterceptor,
		s.loggingUnaryInterceptor,
		s.authUnaryInterceptor,
	}
	return grpc.ChainUnaryInterceptor(interceptors...)
}

func (s *serverImpl) streamInterceptors() grpc.ServerOption {
	interceptors := []grpc.StreamServerInterceptor{
		s.recoveryStreamInterceptor,
		s.requestIDStreamInterceptor,
		s.loggingStreamInterceptor,
		s.authStreamInterceptor,
	}
	return grpc.ChainStreamInterceptor(interceptors...)
}

func (s *serverImpl) recoveryUnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gRPC panic recovered",
				"method", info.FullMethod,
				"error", r,
				"stack", string(debug.Stack()),
			)
			err = status.Errorf(codes.Internal, "Internal server error")
		}
	}()
	return handler(ctx, req)
}

func (s *serverImpl) recoveryStreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gRPC panic recovered",
				"method", info.FullMethod,
				"error", r,
				"stack", string(debug.Stack()),
			)
			err = status.Errorf(codes.Internal, "Internal server error")
		}
	}()
	return handler(srv, ss)
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// withRequest stores the request id and database in ctx.
func withRequest(ctx context.Context) (context.Context, string) {
	md, _ := metadata.FromIncomingContext(ctx)
	id := firstValue(md, requestIDHeader)
	if id == "" {
		id = uuid.New().String()
	}
	ctx = context.WithValue(ctx, ctxkeys.KeyRequestID, id)
	if db := firstValue(md, resource.PrefixHeader); db != "" {
		ctx = context.WithValue(ctx, ctxkeys.KeyDatabase, db)
	}
	return ctx, id
}

func (s *serverImpl) requestIDUnaryInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	ctx, id := withRequest(ctx)
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))
	return handler(ctx, req)
}

func (s *serverImpl) requestIDStreamInterceptor(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, id := withRequest(ss.Context())
	_ = ss.SetHeader(metadata.Pairs(requestIDHeader, id))
	return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
}

// authenticate returns ctx carrying the caller's claims.
func (s *serverImpl) authenticate(ctx context.Context) (context.Context, error) {
	if s.validator == nil {
		return ctx, nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(auth.HeaderKey())
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	claims, err := s.validator.ValidateHeader(values[0])
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return context.WithValue(ctx, ctxkeys.KeyClaims, claims), nil
}

func (s *serverImpl) authUnaryInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	ctx, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *serverImpl) authStreamInterceptor(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := s.authenticate(ss.Context())
	if err != nil {
		return err
	}
	return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
}

// codeLevel picks the log level for a finished call.
func codeLevel(ctx context.Context, code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelInfo
	case codes.Canceled, codes.DeadlineExceeded:
		// Client went away
		return slog.LevelWarn
	case codes.NotFound, codes.AlreadyExists, codes.InvalidArgument,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		// Expected client errors, not server errors
		return slog.LevelInfo
	default:
		if ctx.Err() != nil {
			return slog.LevelWarn
		}
		return slog.LevelError
	}
}

func (s *serverImpl) loggingUnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	code := status.Code(err)
	s.logger.Log(ctx, codeLevel(ctx, code), "gRPC Request",
		"method", info.FullMethod,
		"code", code,
		"duration", time.Since(start),
		"request_id", GetRequestID(ctx),
		"database", GetDatabase(ctx),
		"error", err,
	)
	return resp, err
}

func (s *serverImpl) loggingStreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)

	code := status.Code(err)
	level := codeLevel(ss.Context(), code)
	// Listen streams normally end with the client cancelling.
	if code == codes.Canceled {
		level = slog.LevelInfo
	}
	s.logger.Log(ss.Context(), level, "gRPC Stream",
		"method", info.FullMethod,
		"code", code,
		"duration", time.Since(start),
		"request_id", GetRequestID(ss.Context()),
		"database", GetDatabase(ss.Context()),
		"error", err,
	)
	return err
}
