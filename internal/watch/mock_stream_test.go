package watch

import (
	"context"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/syntrixbase/docwatch/pkg/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type recvResult struct {
	resp *firestorepb.ListenResponse
	err  error
}

// mockListenStream implements firestorepb.Firestore_ListenClient for testing.
// Recv blocks until the test pushes a message or the call context ends.
type mockListenStream struct {
	ctx context.Context

	mu         sync.Mutex
	sent       []*firestorepb.ListenRequest
	sendErr    error
	closedSend bool

	recvCh     chan recvResult
	closed     chan struct{}
	closeOnce  sync.Once
	eofOnClose bool
}

func newMockListenStream(ctx context.Context) *mockListenStream {
	return &mockListenStream{
		ctx:        ctx,
		recvCh:     make(chan recvResult, 64),
		closed:     make(chan struct{}),
		eofOnClose: true,
	}
}

func (m *mockListenStream) Send(req *firestorepb.ListenRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, req)
	return nil
}

func (m *mockListenStream) Recv() (*firestorepb.ListenResponse, error) {
	m.mu.Lock()
	eof := m.eofOnClose
	m.mu.Unlock()

	closed := m.closed
	if !eof {
		closed = nil
	}

	select {
	case r := <-m.recvCh:
		return r.resp, r.err
	case <-closed:
		return nil, io.EOF
	case <-m.ctx.Done():
		return nil, status.FromContextError(m.ctx.Err()).Err()
	}
}

func (m *mockListenStream) CloseSend() error {
	m.mu.Lock()
	m.closedSend = true
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockListenStream) Header() (metadata.MD, error) { return nil, nil }
func (m *mockListenStream) Trailer() metadata.MD         { return nil }
func (m *mockListenStream) Context() context.Context     { return m.ctx }
func (m *mockListenStream) SendMsg(interface{}) error    { return nil }
func (m *mockListenStream) RecvMsg(interface{}) error    { return nil }

func (m *mockListenStream) push(resp *firestorepb.ListenResponse) {
	m.recvCh <- recvResult{resp: resp}
}

func (m *mockListenStream) pushErr(err error) {
	m.recvCh <- recvResult{err: err}
}

func (m *mockListenStream) sentRequests() []*firestorepb.ListenRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*firestorepb.ListenRequest(nil), m.sent...)
}

func (m *mockListenStream) didCloseSend() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedSend
}

// mockOpener implements Opener and hands every opened stream to the test.
type mockOpener struct {
	openErr    error
	sendErr    error
	eofOnClose bool

	mu      sync.Mutex
	calls   int
	ctxs    []context.Context
	streams chan *mockListenStream
}

func newMockOpener() *mockOpener {
	return &mockOpener{eofOnClose: true, streams: make(chan *mockListenStream, 64)}
}

func (o *mockOpener) Listen(ctx context.Context, _ ...grpc.CallOption) (firestorepb.Firestore_ListenClient, error) {
	o.mu.Lock()
	o.calls++
	o.ctxs = append(o.ctxs, ctx)
	o.mu.Unlock()

	if o.openErr != nil {
		return nil, o.openErr
	}
	s := newMockListenStream(ctx)
	s.sendErr = o.sendErr
	s.eofOnClose = o.eofOnClose
	o.streams <- s
	return s, nil
}

func (o *mockOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *mockOpener) next(timeout time.Duration) *mockListenStream {
	select {
	case s := <-o.streams:
		return s
	case <-time.After(timeout):
		return nil
	}
}

// recordingListener records every call in order.
type recordingListener struct {
	mu      sync.Mutex
	docs    []*model.Document
	current int
	calls   chan struct{}
	onCall  func(doc *model.Document)
}

func newRecordingListener() *recordingListener {
	return &recordingListener{calls: make(chan struct{}, 64)}
}

func (l *recordingListener) OnChange(doc *model.Document) {
	l.mu.Lock()
	l.docs = append(l.docs, doc.Clone())
	fn := l.onCall
	l.mu.Unlock()
	if fn != nil {
		fn(doc)
	}
	l.calls <- struct{}{}
}

func (l *recordingListener) OnCurrent() {
	l.mu.Lock()
	l.current++
	l.mu.Unlock()
	l.calls <- struct{}{}
}

func (l *recordingListener) snapshot() ([]*model.Document, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.Document(nil), l.docs...), l.current
}

func (l *recordingListener) wait(timeout time.Duration) bool {
	select {
	case <-l.calls:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ============================================================================
// Response builders
// ============================================================================

func targetChange(t firestorepb.TargetChange_TargetChangeType, ids ...int32) *firestorepb.ListenResponse {
	return &firestorepb.ListenResponse{
		ResponseType: &firestorepb.ListenResponse_TargetChange{
			TargetChange: &firestorepb.TargetChange{TargetChangeType: t, TargetIds: ids},
		},
	}
}

func documentChange(name string, fields map[string]*firestorepb.Value, ids ...int32) *firestorepb.ListenResponse {
	return &firestorepb.ListenResponse{
		ResponseType: &firestorepb.ListenResponse_DocumentChange{
			DocumentChange: &firestorepb.DocumentChange{
				Document:  &firestorepb.Document{Name: name, Fields: fields},
				TargetIds: ids,
			},
		},
	}
}

func documentDelete(name string, ids ...int32) *firestorepb.ListenResponse {
	return &firestorepb.ListenResponse{
		ResponseType: &firestorepb.ListenResponse_DocumentDelete{
			DocumentDelete: &firestorepb.DocumentDelete{Document: name, RemovedTargetIds: ids},
		},
	}
}

func documentRemove(name string, ids ...int32) *firestorepb.ListenResponse {
	return &firestorepb.ListenResponse{
		ResponseType: &firestorepb.ListenResponse_DocumentRemove{
			DocumentRemove: &firestorepb.DocumentRemove{Document: name, RemovedTargetIds: ids},
		},
	}
}

func intValue(v int64) *firestorepb.Value {
	return &firestorepb.Value{ValueType: &firestorepb.Value_IntegerValue{IntegerValue: v}}
}
