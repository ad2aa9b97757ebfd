package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/syntrixbase/docwatch/pkg/docwatch"
	"github.com/syntrixbase/docwatch/pkg/model"
	"golang.org/x/sync/errgroup"
)

// printer writes one JSON line per change. Watches share the output.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) listener(root docwatch.Root, path string) docwatch.ListenerFunc {
	return func(doc *model.Document) {
		data, err := encodeDocument(root, path, doc)
		if err != nil {
			slog.Error("Failed to encode document", "path", path, "error", err)
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := writeLine(p.out, data); err != nil {
			slog.Error("Failed to write output", "error", err)
		}
	}
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <path>...",
		Short: "Print every change to the given documents until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return opts.withConnection(func(conn *docwatch.Connection) error {
				return watchAll(ctx, conn, args, &printer{out: cmd.OutOrStdout()})
			})
		},
	}
}

// watchAll starts one watch per path and returns when ctx ends or every
// watch has ended on its own.
func watchAll(ctx context.Context, conn *docwatch.Connection, paths []string, p *printer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ids := make([]docwatch.ID, 0, len(paths))
	for _, path := range paths {
		id := conn.StartWatch(path, p.listener(conn.Root(), path))
		if id == docwatch.InvalidID {
			return fmt.Errorf("failed to watch %s", path)
		}
		ids = append(ids, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	var remaining sync.WaitGroup
	for _, id := range ids {
		done, _ := conn.WatchDone(id)
		remaining.Add(1)
		g.Go(func() error {
			defer remaining.Done()
			select {
			case <-done:
			case <-gctx.Done():
				conn.StopWatch(id)
			}
			return nil
		})
	}
	g.Go(func() error {
		remaining.Wait()
		cancel()
		return nil
	})
	return g.Wait()
}
