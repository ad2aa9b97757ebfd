package emulator

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/syntrixbase/docwatch/internal/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const localBufferSize = 1 << 20

// Local runs an emulator behind the full server stack on an in-memory
// listener.
type Local struct {
	*Server

	svc    server.Service
	lis    *bufconn.Listener
	cancel context.CancelFunc
	done   chan error
}

// StartLocal starts an emulator reachable through Local.Dial.
func StartLocal(cfg Config, srvCfg server.Config, logger *slog.Logger) *Local {
	emu := New(cfg, logger)
	svc := server.New(srvCfg, logger)
	emu.Register(svc)
	svc.RegisterGRPCService(&healthpb.Health_ServiceDesc, health.NewServer())

	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		Server: emu,
		svc:    svc,
		lis:    bufconn.Listen(localBufferSize),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { l.done <- svc.Serve(ctx, l.lis) }()
	return l
}

// Target is the dial target Dial uses. Any target works together with
// DialerOption.
const Target = "passthrough:///emulator"

// DialerOption routes a client connection to the in-memory listener.
func (l *Local) DialerOption() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return l.lis.DialContext(ctx)
	})
}

// Dial opens a plaintext client connection to the emulator.
func (l *Local) Dial(opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		l.DialerOption(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	return grpc.NewClient(Target, opts...)
}

// Shutdown ends open Listen streams and stops the server.
func (l *Local) Shutdown(ctx context.Context) error {
	l.Server.Close()
	l.cancel()
	stopErr := l.svc.Stop(ctx)
	return errors.Join(stopErr, <-l.done)
}
