package emulator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"github.com/syntrixbase/docwatch/internal/resource"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var errStreamOverflow = errors.New("listen stream fell behind")

// listenStream is the state of one Listen call. Everything but the
// request reader runs on the handler goroutine, which is the only sender.
type listenStream struct {
	srv      *Server
	stream   firestorepb.Firestore_ListenServer
	database string
	logger   *slog.Logger
	cancel   context.CancelCauseFunc

	events  chan event
	targets map[int32][]*subscription
	nextID  int32
}

func (s *Server) Listen(stream firestorepb.Firestore_ListenServer) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	prefix := md.Get(resource.PrefixHeader)
	if len(prefix) == 0 {
		return status.Errorf(codes.InvalidArgument, "missing %s metadata", resource.PrefixHeader)
	}
	root, err := resource.ParseDatabase(prefix[0])
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := authorize(stream.Context(), root); err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(stream.Context())
	defer cancel(nil)

	l := &listenStream{
		srv:      s,
		stream:   stream,
		database: prefix[0],
		logger:   s.logger.With("stream_id", uuid.NewString()),
		cancel:   cancel,
		events:   make(chan event, s.cfg.StreamBuffer),
		targets:  make(map[int32][]*subscription),
	}
	defer l.removeAll()

	s.streams.Add(1)
	defer s.streams.Add(-1)
	l.logger.Debug("Listen stream opened", "database", l.database)

	requests := make(chan *firestorepb.ListenRequest)
	recvErr := make(chan error, 1)
	go func() {
		for {
			req, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	keepAlive := time.NewTicker(s.cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case req := <-requests:
			err = l.handle(req)
		case ev := <-l.events:
			err = l.sendEvent(ev)
		case <-keepAlive.C:
			err = l.sendTargetChange(firestorepb.TargetChange_NO_CHANGE, nil, nil)
		case err = <-recvErr:
			if errors.Is(err, io.EOF) {
				l.logger.Debug("Listen stream half-closed by client")
				return nil
			}
			return err
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), errStreamOverflow) {
				l.logger.Warn("Listen stream overflowed", "buffer", s.cfg.StreamBuffer)
				return status.Error(codes.ResourceExhausted, errStreamOverflow.Error())
			}
			return status.FromContextError(ctx.Err()).Err()
		case <-s.closing:
			return status.Error(codes.Unavailable, "emulator shutting down")
		}
		if err != nil {
			return err
		}
	}
}

func (l *listenStream) handle(req *firestorepb.ListenRequest) error {
	if req.GetDatabase() != l.database {
		return status.Errorf(codes.InvalidArgument, "database %q does not match %s %q", req.GetDatabase(), resource.PrefixHeader, l.database)
	}

	switch tc := req.GetTargetChange().(type) {
	case *firestorepb.ListenRequest_AddTarget:
		return l.addTarget(tc.AddTarget)
	case *firestorepb.ListenRequest_RemoveTarget:
		if !l.remove(tc.RemoveTarget) {
			return l.rejectTarget(tc.RemoveTarget, codes.NotFound, "target not found")
		}
		return l.sendTargetChange(firestorepb.TargetChange_REMOVE, []int32{tc.RemoveTarget}, nil)
	default:
		return status.Error(codes.InvalidArgument, "listen request has no target change")
	}
}

func (l *listenStream) addTarget(target *firestorepb.Target) error {
	id := target.GetTargetId()
	if id == 0 {
		id = l.allocateID()
	} else if _, taken := l.targets[id]; taken {
		return l.rejectTarget(id, codes.AlreadyExists, "target id already in use")
	}

	docs := target.GetDocuments()
	if docs == nil {
		return l.rejectTarget(id, codes.InvalidArgument, "only document targets are supported")
	}
	for _, name := range docs.GetDocuments() {
		root, _, err := resource.Parse(name)
		if err != nil {
			return l.rejectTarget(id, codes.InvalidArgument, err.Error())
		}
		if root.Database() != l.database {
			return l.rejectTarget(id, codes.InvalidArgument, "document is outside the stream's database")
		}
	}

	if err := l.sendTargetChange(firestorepb.TargetChange_ADD, []int32{id}, nil); err != nil {
		return err
	}

	subs := make([]*subscription, 0, len(docs.GetDocuments()))
	for _, name := range docs.GetDocuments() {
		sub := &subscription{
			targetID: id,
			name:     name,
			events:   l.events,
			overflow: func() { l.cancel(errStreamOverflow) },
		}
		subs = append(subs, sub)
		// Snapshots go straight out; later changes queue behind them.
		if doc := l.srv.store.subscribe(sub); doc != nil {
			if err := l.sendDocument(id, doc); err != nil {
				l.targets[id] = subs
				return err
			}
		}
	}
	l.targets[id] = subs
	l.logger.Debug("Target added", "target_id", id, "documents", docs.GetDocuments())

	if err := l.sendTargetChange(firestorepb.TargetChange_CURRENT, []int32{id}, nil); err != nil {
		return err
	}
	if target.GetOnce() {
		l.remove(id)
		return l.sendTargetChange(firestorepb.TargetChange_REMOVE, []int32{id}, nil)
	}
	return nil
}

func (l *listenStream) allocateID() int32 {
	for {
		l.nextID++
		if _, taken := l.targets[l.nextID]; !taken {
			return l.nextID
		}
	}
}

// rejectTarget reports a per-target failure without ending the stream.
func (l *listenStream) rejectTarget(id int32, code codes.Code, msg string) error {
	l.logger.Info("Target rejected", "target_id", id, "code", code, "message", msg)
	return l.sendTargetChange(firestorepb.TargetChange_REMOVE, []int32{id}, &rpcstatus.Status{
		Code:    int32(code),
		Message: msg,
	})
}

func (l *listenStream) remove(id int32) bool {
	subs, ok := l.targets[id]
	if !ok {
		return false
	}
	for _, sub := range subs {
		l.srv.store.unsubscribe(sub)
	}
	delete(l.targets, id)
	return true
}

func (l *listenStream) removeAll() {
	for id := range l.targets {
		l.remove(id)
	}
}

func (l *listenStream) sendEvent(ev event) error {
	// Events queued before a RemoveTarget are dropped.
	if _, ok := l.targets[ev.targetID]; !ok {
		return nil
	}
	if ev.doc == nil {
		return l.stream.Send(&firestorepb.ListenResponse{
			ResponseType: &firestorepb.ListenResponse_DocumentDelete{
				DocumentDelete: &firestorepb.DocumentDelete{
					Document:         ev.name,
					RemovedTargetIds: []int32{ev.targetID},
					ReadTime:         timestamppb.Now(),
				},
			},
		})
	}
	return l.sendDocument(ev.targetID, ev.doc)
}

func (l *listenStream) sendDocument(targetID int32, doc *firestorepb.Document) error {
	return l.stream.Send(&firestorepb.ListenResponse{
		ResponseType: &firestorepb.ListenResponse_DocumentChange{
			DocumentChange: &firestorepb.DocumentChange{
				Document:  doc,
				TargetIds: []int32{targetID},
			},
		},
	})
}

func (l *listenStream) sendTargetChange(t firestorepb.TargetChange_TargetChangeType, ids []int32, cause *rpcstatus.Status) error {
	return l.stream.Send(&firestorepb.ListenResponse{
		ResponseType: &firestorepb.ListenResponse_TargetChange{
			TargetChange: &firestorepb.TargetChange{
				TargetChangeType: t,
				TargetIds:        ids,
				Cause:            cause,
				ReadTime:         timestamppb.Now(),
			},
		},
	})
}
