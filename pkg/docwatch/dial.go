package docwatch

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/docwatch/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const tokenSubject = "docwatch"

// Dial validates cfg, connects to cfg.Address and returns a Connection
// that owns the gRPC connection. extra is appended to the dial options.
func Dial(cfg Config, logger *slog.Logger, extra ...grpc.DialOption) (*Connection, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}

	cc, err := grpc.NewClient(cfg.Address, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.Address, err)
	}

	c := New(cc, cfg.Root(), Options{Watch: cfg.Watch, Logger: logger})
	c.owned = cc
	c.logger.Debug("Dialed", "address", cfg.Address, "tls", cfg.TLS, "auth", cfg.AuthSecret != "")
	return c, nil
}

func dialOptions(cfg Config) ([]grpc.DialOption, error) {
	var opts []grpc.DialOption

	switch {
	case !cfg.TLS:
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	case cfg.CAFile != "":
		creds, err := credentials.NewClientTLSFromFile(cfg.CAFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load CA file: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	default:
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}

	if cfg.AuthSecret != "" {
		tokens, err := auth.NewTokenSource(cfg.AuthSecret, tokenSubject, cfg.ProjectID, cfg.TokenTTL, cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithPerRPCCredentials(tokens))
	}
	return opts, nil
}
