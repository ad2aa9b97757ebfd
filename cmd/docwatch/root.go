package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/syntrixbase/docwatch/internal/config"
	"github.com/syntrixbase/docwatch/internal/logging"
	"github.com/syntrixbase/docwatch/pkg/docwatch"
)

const closeTimeout = 5 * time.Second

type rootOptions struct {
	configDir  string
	configFile string
	address    string
	project    string
	database   string
	timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "docwatch",
		Short: "Read, write and watch documents",
		// Disable Cobra CLI's built-in usage on runtime errors
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configDir, "config", config.DefaultDir, "Configuration directory")
	flags.StringVar(&opts.configFile, "config-file", "", "Single configuration file (replaces --config layering)")
	flags.StringVar(&opts.address, "address", "", "Server address (overrides config)")
	flags.StringVar(&opts.project, "project", "", "Project id (overrides config)")
	flags.StringVar(&opts.database, "database", "", "Database id (overrides config)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout for get and set")

	cmd.MarkFlagsMutuallyExclusive("config", "config-file")

	cmd.AddCommand(
		newGetCommand(opts),
		newSetCommand(opts),
		newWatchCommand(opts),
	)
	return cmd
}

// loadConfig reads --config-file when given, otherwise the layered
// --config directory, and applies the client flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.configFile)
	} else {
		cfg, err = config.LoadConfig(o.configDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if o.address != "" {
		cfg.Client.Address = o.address
	}
	if o.project != "" {
		cfg.Client.ProjectID = o.project
	}
	if o.database != "" {
		cfg.Client.DatabaseID = o.database
	}
	return cfg, nil
}

// connect loads configuration and dials.
func (o *rootOptions) connect() (*docwatch.Connection, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging, "docwatch"); err != nil {
		return nil, err
	}
	return docwatch.Dial(cfg.Client, slog.Default())
}

// withConnection runs fn on a fresh connection and closes it afterwards.
func (o *rootOptions) withConnection(fn func(*docwatch.Connection) error) error {
	conn, err := o.connect()
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	runErr := fn(conn)

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		slog.Warn("Failed to close connection", "error", err)
	}
	return runErr
}

func (o *rootOptions) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}

func writeLine(w io.Writer, data []byte) error {
	_, err := fmt.Fprintf(w, "%s\n", data)
	return err
}
