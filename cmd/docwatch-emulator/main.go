package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/syntrixbase/docwatch/internal/config"
	"github.com/syntrixbase/docwatch/internal/emulator"
	"github.com/syntrixbase/docwatch/internal/logging"
	"github.com/syntrixbase/docwatch/internal/server"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// 0. Parse Command Line Flags
	configDir := flag.String("config", config.DefaultDir, "Configuration directory")
	configFile := flag.String("config-file", "", "Single configuration file (replaces -config layering)")
	flag.Parse()

	// 1. Load Configuration
	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.LoadConfig(*configDir)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Initialize(cfg.Logging, "docwatch-emulator"); err != nil {
		return err
	}
	defer logging.Shutdown()

	slog.Info("Starting emulator", "address", cfg.Server.Address(), "auth", cfg.Server.AuthSecret != "")

	// 2. Wire Services
	logger := slog.Default()
	svc := server.New(cfg.Server, logger)
	emu := emulator.New(cfg.Emulator, logger)
	emu.Register(svc)

	healthSrv := health.NewServer()
	svc.RegisterGRPCService(&healthpb.Health_ServiceDesc, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// 3. Serve until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down emulator...")
		healthSrv.Shutdown()

		// Streams end first so GracefulStop does not wait on them.
		emu.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return svc.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Emulator stopped")
	return nil
}
