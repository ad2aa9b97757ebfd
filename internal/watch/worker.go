// Package watch drives one Listen stream per watched document and keeps
// the registry of running watches.
package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/syntrixbase/docwatch/internal/resource"
	"github.com/syntrixbase/docwatch/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Opener opens Listen streams. firestorepb.FirestoreClient satisfies it.
type Opener interface {
	Listen(ctx context.Context, opts ...grpc.CallOption) (firestorepb.Firestore_ListenClient, error)
}

// State is the protocol state of a worker.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateAwaitingAck
	StateReading
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateReading:
		return "reading"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Worker owns the Listen stream for one document. All listener calls are
// made from the worker's own goroutine.
type Worker struct {
	id       ID
	path     string
	name     string
	root     resource.Root
	opener   Opener
	listener Listener
	cfg      Config
	logger   *slog.Logger

	// ctx scopes the stream. It is only cancelled to force a blocked read
	// to return, or once the worker has exited.
	ctx    context.Context
	cancel context.CancelFunc

	listening atomic.Bool
	state     atomic.Int32
	lastSeen  atomic.Int64
	done      chan struct{}

	targetsMu sync.Mutex
	targets   map[int32]struct{}
}

func newWorker(parent context.Context, id ID, path string, root resource.Root, opener Opener, l Listener, cfg Config, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(parent)
	name := root.DocumentName(path)
	return &Worker{
		id:       id,
		path:     path,
		name:     name,
		root:     root,
		opener:   opener,
		listener: l,
		cfg:      cfg,
		logger:   logger.With("watch_id", int64(id), "document", name),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		targets:  make(map[int32]struct{}),
	}
}

func (w *Worker) ID() ID                { return w.id }
func (w *Worker) Path() string          { return w.path }
func (w *Worker) State() State          { return State(w.state.Load()) }
func (w *Worker) Listening() bool       { return w.listening.Load() }
func (w *Worker) Done() <-chan struct{} { return w.done }

// LastSeen returns when the last server message arrived, zero before the
// first one.
func (w *Worker) LastSeen() time.Time {
	ns := w.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ActiveTargets returns the server-assigned target ids currently added on
// this worker's stream, in ascending order.
func (w *Worker) ActiveTargets() []int32 {
	w.targetsMu.Lock()
	defer w.targetsMu.Unlock()
	ids := make([]int32, 0, len(w.targets))
	for id := range w.targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (w *Worker) start() {
	w.listening.Store(true)
	go w.run()
}

// stop requests termination. The worker notices between reads. It
// reports whether the worker was still listening.
func (w *Worker) stop() bool {
	return w.listening.CompareAndSwap(true, false)
}

// abort cancels the stream so a blocked read returns immediately.
func (w *Worker) abort() {
	w.listening.Store(false)
	w.cancel()
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.cancel()
	defer w.setState(StateTerminated)
	defer w.listening.Store(false)

	w.setState(StateInitializing)
	w.logger.Debug("Listening for changes")

	stream, err := w.opener.Listen(w.root.WithPrefix(w.ctx))
	if err != nil {
		w.logger.Error("Failed to initialize stream", "error", err)
		return
	}

	w.setState(StateAwaitingAck)
	if err := stream.Send(w.addTargetRequest()); err != nil {
		w.logger.Error("Failed to write to stream", "error", err)
		return
	}

	w.setState(StateReading)
	for w.listening.Load() {
		resp, err := stream.Recv()
		if err != nil {
			w.logStreamEnd(err)
			w.clearTargets()
			return
		}
		w.lastSeen.Store(time.Now().UnixNano())

		// A stop that landed while the read was blocked wins over the message.
		if !w.listening.Load() {
			break
		}
		if !w.dispatch(resp) {
			break
		}
	}

	w.finish(stream)
}

func (w *Worker) addTargetRequest() *firestorepb.ListenRequest {
	return &firestorepb.ListenRequest{
		Database: w.root.Database(),
		TargetChange: &firestorepb.ListenRequest_AddTarget{
			AddTarget: &firestorepb.Target{
				TargetType: &firestorepb.Target_Documents{
					Documents: &firestorepb.Target_DocumentsTarget{
						Documents: []string{w.name},
					},
				},
				Once: false,
			},
		},
	}
}

// dispatch processes one server message. It returns false when the
// message ends the watch.
func (w *Worker) dispatch(resp *firestorepb.ListenResponse) bool {
	switch r := resp.GetResponseType().(type) {
	case *firestorepb.ListenResponse_TargetChange:
		return w.handleTargetChange(r.TargetChange)

	case *firestorepb.ListenResponse_DocumentChange:
		change := r.DocumentChange
		w.logger.Debug("Received document change", "target_ids", change.GetTargetIds(), "document", wire.Describe(change.GetDocument()))
		return w.notify(func() { w.listener.OnChange(wire.DocumentFromProto(change.GetDocument())) })

	case *firestorepb.ListenResponse_DocumentDelete:
		w.logger.Debug("Received document delete", "removed_target_ids", r.DocumentDelete.GetRemovedTargetIds())
		return w.notify(func() { w.listener.OnChange(nil) })

	case *firestorepb.ListenResponse_DocumentRemove:
		w.logger.Debug("Received document remove", "removed_target_ids", r.DocumentRemove.GetRemovedTargetIds())
		return w.notify(func() { w.listener.OnChange(nil) })

	case *firestorepb.ListenResponse_Filter:
		w.logger.Warn("Response type not implemented", "type", "filter", "target_id", r.Filter.GetTargetId(), "count", r.Filter.GetCount())
		return true

	default:
		w.logger.Warn("Response type not implemented", "type", "unknown")
		return true
	}
}

func (w *Worker) handleTargetChange(change *firestorepb.TargetChange) bool {
	if cause := change.GetCause(); cause.GetCode() != 0 {
		w.logger.Error("Received a non-zero status with a target change",
			"code", codes.Code(cause.GetCode()),
			"message", cause.GetMessage(),
			"target_ids", change.GetTargetIds(),
		)
		return false
	}

	ids := change.GetTargetIds()
	switch t := change.GetTargetChangeType(); t {
	case firestorepb.TargetChange_NO_CHANGE:
		w.logger.Debug("Received keep-alive")
	case firestorepb.TargetChange_ADD:
		w.targetsMu.Lock()
		for _, id := range ids {
			w.targets[id] = struct{}{}
		}
		w.targetsMu.Unlock()
		w.logger.Debug("Targets added server-side", "target_ids", ids)
	case firestorepb.TargetChange_REMOVE:
		w.targetsMu.Lock()
		for _, id := range ids {
			delete(w.targets, id)
		}
		w.targetsMu.Unlock()
		w.logger.Debug("Targets removed server-side", "target_ids", ids)
	case firestorepb.TargetChange_CURRENT:
		w.logger.Debug("Targets are current", "target_ids", ids)
		if rl, ok := w.listener.(ReadyListener); ok {
			return w.notify(rl.OnCurrent)
		}
	case firestorepb.TargetChange_RESET:
		w.logger.Debug("Targets reset", "target_ids", ids)
	default:
		w.logger.Error("Received an invalid target change type", "type", int32(t))
		return false
	}
	return true
}

// notify runs a listener call. A panicking listener ends its own watch
// and nothing else.
func (w *Worker) notify(call func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Listener panic recovered",
				"error", r,
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()
	call()
	return true
}

// finish half-closes the stream and drains it without dispatching until
// the server ends it or FinishTimeout elapses.
func (w *Worker) finish(stream firestorepb.Firestore_ListenClient) {
	w.setState(StateTerminating)
	defer w.clearTargets()

	if err := stream.CloseSend(); err != nil {
		w.logger.Warn("Failed to half-close stream", "error", err)
	}

	timer := time.AfterFunc(w.cfg.FinishTimeout, w.cancel)
	defer timer.Stop()

	for {
		_, err := stream.Recv()
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			w.logger.Debug("Stream finished")
			return
		}
		if status.Code(err) == codes.Canceled && w.ctx.Err() != nil {
			w.logger.Debug("Stream cancelled while finishing")
			return
		}
		st, _ := status.FromError(err)
		w.logger.Warn("Received ok=false on finish", "code", st.Code(), "message", st.Message())
		return
	}
}

func (w *Worker) logStreamEnd(err error) {
	switch {
	case errors.Is(err, io.EOF):
		w.logger.Info("Stream closed by server")
	case status.Code(err) == codes.Canceled && w.ctx.Err() != nil:
		w.logger.Info("Stream cancelled")
	default:
		st, _ := status.FromError(err)
		w.logger.Error("Failed to read from stream", "code", st.Code(), "message", st.Message())
	}
}

func (w *Worker) clearTargets() {
	w.targetsMu.Lock()
	clear(w.targets)
	w.targetsMu.Unlock()
}
