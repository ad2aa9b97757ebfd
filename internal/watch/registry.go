package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/syntrixbase/docwatch/internal/resource"
	"github.com/syntrixbase/docwatch/pkg/model"
)

// ID identifies one watch for the lifetime of its Registry.
type ID int64

// InvalidID is returned when a watch cannot be started.
const InvalidID ID = -1

// Registry starts and stops watch workers.
//
// Stopped workers stay registered until the registry is closed. Stop may
// be called from a listener running on the worker's own goroutine, so the
// registry never removes entries on its own; growth is bounded by the
// number of watches started.
type Registry struct {
	opener Opener
	root   resource.Root
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lastID  ID
	workers map[ID]*Worker
	closed  bool
}

// NewRegistry creates a registry whose workers open streams with opener.
func NewRegistry(opener Opener, root resource.Root, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opener:  opener,
		root:    root,
		cfg:     cfg,
		logger:  logger.With("component", "watch-registry"),
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[ID]*Worker),
	}
}

// Start begins watching path and returns the new watch's id without
// waiting for the stream handshake. It returns InvalidID when l is nil or
// the registry is closed; no stream is opened in either case.
func (r *Registry) Start(path string, l Listener) ID {
	if isNilListener(l) {
		r.logger.Error("No listener provided; skipping", "path", path, "error", model.ErrNoListener)
		return InvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Error("Registry closed; skipping", "path", path, "error", model.ErrClosed)
		return InvalidID
	}

	r.lastID++
	id := r.lastID
	w := newWorker(r.ctx, id, path, r.root, r.opener, l, r.cfg, r.logger)
	// Registered before the goroutine starts so a listener can stop its
	// own watch from the first callback.
	r.workers[id] = w
	w.start()

	r.logger.Debug("Watch started", "watch_id", int64(id), "path", path)
	return id
}

// Stop requests the watch to end and returns immediately. The worker
// exits after its current read returns. Stop returns false for ids that
// were never issued and for watches that are already stopped or ended.
func (r *Registry) Stop(id ID) bool {
	r.mu.Lock()
	w, ok := r.workers[id]
	r.mu.Unlock()

	if !ok {
		r.logger.Info("Could not find watch", "watch_id", int64(id))
		return false
	}
	if !w.stop() {
		r.logger.Info("Watch already stopped", "watch_id", int64(id), "state", w.State().String())
		return false
	}

	r.logger.Debug("Stopping watch", "watch_id", int64(id), "path", w.Path())
	return true
}

// Worker returns the worker registered under id.
func (r *Registry) Worker(id ID) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	return w, ok
}

// Done returns the exit channel of the worker registered under id.
func (r *Registry) Done(id ID) (<-chan struct{}, bool) {
	w, ok := r.Worker(id)
	if !ok {
		return nil, false
	}
	return w.Done(), true
}

// Len returns the number of registered workers, stopped ones included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Close stops every worker and waits for all of them to exit, including
// those blocked waiting for a keep-alive. If ctx ends first, the streams
// are cancelled, Close still waits for the workers, and ctx's error is
// returned. Start fails after Close.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}

	allDone := make(chan struct{})
	go func() {
		defer close(allDone)
		for _, w := range workers {
			<-w.Done()
		}
	}()

	select {
	case <-allDone:
		r.cancel()
		r.logger.Debug("All watches stopped", "count", len(workers))
		return nil
	case <-ctx.Done():
	}

	r.logger.Warn("Watches still running at close deadline; cancelling streams")
	r.cancel()
	for _, w := range workers {
		w.abort()
	}
	<-allDone
	return ctx.Err()
}
