// Package docwatch is a client for a Firestore-compatible document
// database: point reads and writes, per-document change watches, and
// buffered transactions over one gRPC connection.
package docwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/syntrixbase/docwatch/internal/config"
	"github.com/syntrixbase/docwatch/internal/docclient"
	"github.com/syntrixbase/docwatch/internal/resource"
	"github.com/syntrixbase/docwatch/internal/txn"
	"github.com/syntrixbase/docwatch/internal/watch"
	"github.com/syntrixbase/docwatch/pkg/model"
	"google.golang.org/grpc"
)

type (
	// ID identifies a watch. It is never reused by a Connection.
	ID = watch.ID
	// Listener receives the changes of one watched document.
	Listener = watch.Listener
	// ListenerFunc adapts a function to Listener.
	ListenerFunc = watch.ListenerFunc
	// ReadyListener is a Listener that is also told when the watch has
	// delivered the document's initial state.
	ReadyListener = watch.ReadyListener
	// Transaction buffers writes until Commit.
	Transaction = txn.Transaction
	// Root is the database every path of a Connection resolves against.
	Root = resource.Root
	// Config configures Dial.
	Config = config.ClientConfig
	// WatchConfig tunes watch teardown.
	WatchConfig = watch.Config
)

// InvalidID is returned by StartWatch when the watch is rejected.
const InvalidID = watch.InvalidID

// NewRoot returns the root of projects/{project}/databases/{database}. An
// empty database selects "(default)".
func NewRoot(project, database string) Root { return resource.NewRoot(project, database) }

// DefaultConfig returns a Config pointing at a local emulator.
func DefaultConfig() Config { return config.DefaultClientConfig() }

// Options tune a Connection built with New.
type Options struct {
	Watch  WatchConfig
	Logger *slog.Logger
}

// Connection combines the point operations, the watch registry and
// transactions behind one gRPC connection.
type Connection struct {
	root   resource.Root
	logger *slog.Logger

	docs    *docclient.Transport
	watches *watch.Registry
	txns    *txn.Manager

	// owned is closed by Close when the Connection dialed it itself.
	owned  *grpc.ClientConn
	closed atomic.Bool
}

// New builds a Connection on an existing client connection. Close does
// not close cc.
func New(cc grpc.ClientConnInterface, root Root, opts Options) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stub := firestorepb.NewFirestoreClient(cc)
	return &Connection{
		root:    root,
		logger:  logger.With("component", "connection", "database", root.Database()),
		docs:    docclient.New(stub, root, logger),
		watches: watch.NewRegistry(stub, root, opts.Watch, logger),
		txns:    txn.NewManager(stub, root, logger),
	}
}

// Root returns the database root of c.
func (c *Connection) Root() Root { return c.root }

// Fetch reads the document at path. found is false when the document does
// not exist or the call failed; the two are not distinguished.
func (c *Connection) Fetch(ctx context.Context, path string) (doc *model.Document, found bool) {
	if c.rejectClosed("Fetch", path) {
		return nil, false
	}
	doc = &model.Document{}
	if !c.docs.Fetch(ctx, path, doc) {
		return nil, false
	}
	return doc, true
}

// FetchInto is Fetch writing into a caller-owned document. A nil dst is
// rejected without a call.
func (c *Connection) FetchInto(ctx context.Context, path string, dst *model.Document) bool {
	if c.rejectClosed("Fetch", path) {
		return false
	}
	return c.docs.Fetch(ctx, path, dst)
}

// Upsert creates or replaces the document at path with a copy of doc.
// When out is non-nil it receives the server's representation.
func (c *Connection) Upsert(ctx context.Context, path string, doc *model.Document, out *model.Document) bool {
	if c.rejectClosed("Upsert", path) {
		return false
	}
	return c.docs.Upsert(ctx, path, doc, out)
}

// StartWatch starts watching path and returns immediately. It returns
// InvalidID when l is nil or the Connection is closed.
func (c *Connection) StartWatch(path string, l Listener) ID {
	return c.watches.Start(path, l)
}

// StopWatch asks the watch to end. It returns false for unknown ids and
// for watches already stopped or ended. The watch ends after its current
// read returns; see WatchDone.
func (c *Connection) StopWatch(id ID) bool {
	return c.watches.Stop(id)
}

// WatchDone returns a channel closed when the watch's goroutine has exited.
func (c *Connection) WatchDone(id ID) (<-chan struct{}, bool) {
	return c.watches.Done(id)
}

// BeginTransaction starts a read-write transaction.
func (c *Connection) BeginTransaction(ctx context.Context) (*Transaction, error) {
	if c.closed.Load() {
		return nil, model.ErrClosed
	}
	return c.txns.Begin(ctx)
}

// Commit applies tx's buffered writes atomically. A transaction commits
// at most once.
func (c *Connection) Commit(ctx context.Context, tx *Transaction) bool {
	if c.rejectClosed("Commit", "") {
		return false
	}
	return c.txns.Commit(ctx, tx)
}

// Rollback abandons tx.
func (c *Connection) Rollback(ctx context.Context, tx *Transaction) bool {
	if c.rejectClosed("Rollback", "") {
		return false
	}
	return c.txns.Rollback(ctx, tx)
}

// Close stops every watch and waits for their goroutines, including ones
// idle between keep-alives. When ctx expires first the streams are
// cancelled, Close still waits, and ctx's error is returned. A dialed
// connection is closed last.
func (c *Connection) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := c.watches.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing watches: %w", err))
	}
	if c.owned != nil {
		if err := c.owned.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing connection: %w", err))
		}
	}
	c.logger.Debug("Connection closed")
	return errors.Join(errs...)
}

func (c *Connection) rejectClosed(op, path string) bool {
	if !c.closed.Load() {
		return false
	}
	c.logger.Error("Operation on closed connection", "op", op, "path", path, "error", model.ErrClosed)
	return true
}
