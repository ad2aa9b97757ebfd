// Package server hosts gRPC services behind recovery, request-id, auth and
// logging interceptors.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/syntrixbase/docwatch/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

type serverImpl struct {
	cfg    Config
	logger *slog.Logger

	validator *auth.Validator

	grpcServer *grpc.Server

	mu      sync.Mutex
	started bool
}

// New creates a new Service instance.
func New(cfg Config, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	s := &serverImpl{
		cfg:    cfg,
		logger: logger,
	}
	if cfg.AuthSecret != "" {
		s.validator = auth.NewValidator(cfg.AuthSecret, cfg.AuthProject)
	}

	opts := []grpc.ServerOption{
		s.unaryInterceptors(),
		s.streamInterceptors(),
	}
	if cfg.GRPCMaxConcurrent > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(uint32(cfg.GRPCMaxConcurrent)))
	}
	s.grpcServer = grpc.NewServer(opts...)

	if cfg.EnableReflection {
		reflection.Register(s.grpcServer)
	}

	return s
}

func (s *serverImpl) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("grpc listen error: %w", err)
	}
	return s.Serve(ctx, lis)
}

func (s *serverImpl) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		lis.Close()
		return errors.New("server already started")
	}
	s.started = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting gRPC server", "address", lis.Addr().String(), "auth", s.validator != nil)
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("grpc server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil // Normal shutdown signal
	}
}

func (s *serverImpl) Stop(ctx context.Context) error {
	s.logger.Info("Stopping gRPC server")

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Context deadline exceeded, forcing gRPC stop")
		s.grpcServer.Stop()
		<-done
		return nil
	}
}

func (s *serverImpl) RegisterGRPCService(desc *grpc.ServiceDesc, impl interface{}) {
	s.grpcServer.RegisterService(desc, impl)
}

func (s *serverImpl) GRPCServer() *grpc.Server {
	return s.grpcServer
}
