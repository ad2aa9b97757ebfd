package server

import (
	"context"
	"net"

	"google.golang.org/grpc"
)

// Service is the gRPC network layer shared by the emulator binary and the
// in-process test servers.
type Service interface {
	// Start listens on the configured address and serves until a fatal
	// error occurs or ctx is cancelled.
	Start(ctx context.Context) error

	// Serve is Start on a caller-provided listener.
	Serve(ctx context.Context, lis net.Listener) error

	// Stop initiates a graceful shutdown, forcing it when ctx expires.
	Stop(ctx context.Context) error

	// RegisterGRPCService registers a gRPC service implementation.
	// This must be called BEFORE Start().
	RegisterGRPCService(desc *grpc.ServiceDesc, impl interface{})

	// GRPCServer exposes the server for generated Register functions.
	GRPCServer() *grpc.Server
}
