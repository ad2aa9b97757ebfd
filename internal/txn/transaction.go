// Package txn layers buffered multi-document writes on the same stub and
// resource naming as the point operations.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/syntrixbase/docwatch/internal/resource"
	"github.com/syntrixbase/docwatch/internal/wire"
	"github.com/syntrixbase/docwatch/pkg/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Stub is the subset of firestorepb.FirestoreClient transactions use.
type Stub interface {
	BeginTransaction(ctx context.Context, in *firestorepb.BeginTransactionRequest, opts ...grpc.CallOption) (*firestorepb.BeginTransactionResponse, error)
	GetDocument(ctx context.Context, in *firestorepb.GetDocumentRequest, opts ...grpc.CallOption) (*firestorepb.Document, error)
	Commit(ctx context.Context, in *firestorepb.CommitRequest, opts ...grpc.CallOption) (*firestorepb.CommitResponse, error)
	Rollback(ctx context.Context, in *firestorepb.RollbackRequest, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

// Manager begins and commits transactions.
type Manager struct {
	stub   Stub
	root   resource.Root
	logger *slog.Logger
}

func NewManager(stub Stub, root resource.Root, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{stub: stub, root: root, logger: logger.With("component", "txn")}
}

// Transaction buffers writes until Commit. It is safe for concurrent use.
type Transaction struct {
	m  *Manager
	id []byte

	mu     sync.Mutex
	writes []*firestorepb.Write
	done   bool
}

// Begin starts a read-write transaction on the server.
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	resp, err := m.stub.BeginTransaction(m.root.WithPrefix(ctx), &firestorepb.BeginTransactionRequest{
		Database: m.root.Database(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{m: m, id: resp.GetTransaction()}, nil
}

// ID returns the server-assigned transaction id.
func (tx *Transaction) ID() []byte { return tx.id }

// Fetch reads path inside the transaction into dst, with the same
// result semantics as a plain fetch.
func (tx *Transaction) Fetch(ctx context.Context, path string, dst *model.Document) bool {
	if dst == nil {
		tx.m.logger.Error("Fetch called without output document", "path", path, "error", model.ErrNoDestination)
		return false
	}
	name := tx.m.root.DocumentName(path)
	resp, err := tx.m.stub.GetDocument(tx.m.root.WithPrefix(ctx), &firestorepb.GetDocumentRequest{
		Name:                name,
		ConsistencySelector: &firestorepb.GetDocumentRequest_Transaction{Transaction: tx.id},
	})
	if err != nil {
		tx.m.logFailure("GetDocument", err)
		return false
	}
	*dst = *wire.DocumentFromProto(resp)
	return true
}

// Upsert buffers a create-or-replace of path. No call is made until
// Commit. It returns false once the transaction has been committed or
// rolled back.
func (tx *Transaction) Upsert(path string, doc *model.Document) bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		tx.m.logger.Error("Upsert on finished transaction", "path", path, "error", model.ErrCommitted)
		return false
	}

	pb := wire.DocumentToProto(doc.Clone())
	if pb == nil {
		pb = &firestorepb.Document{}
	}
	pb.Name = tx.m.root.DocumentName(path)
	pb.CreateTime, pb.UpdateTime = nil, nil

	tx.writes = append(tx.writes, &firestorepb.Write{
		Operation: &firestorepb.Write_Update{Update: pb},
	})
	return true
}

// Pending returns the number of buffered writes.
func (tx *Transaction) Pending() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.writes)
}

// Commit sends the buffered writes atomically. A transaction commits at
// most once; later calls return false.
func (m *Manager) Commit(ctx context.Context, tx *Transaction) bool {
	if tx == nil {
		m.logger.Error("Commit called without transaction")
		return false
	}
	writes, ok := tx.finish()
	if !ok {
		m.logger.Error("Transaction already finished", "error", model.ErrCommitted)
		return false
	}

	_, err := m.stub.Commit(m.root.WithPrefix(ctx), &firestorepb.CommitRequest{
		Database:    m.root.Database(),
		Writes:      writes,
		Transaction: tx.id,
	})
	if err != nil {
		m.logFailure("Commit", err)
		return false
	}
	return true
}

// Rollback abandons the transaction and its buffered writes.
func (m *Manager) Rollback(ctx context.Context, tx *Transaction) bool {
	if tx == nil {
		return false
	}
	if _, ok := tx.finish(); !ok {
		return false
	}
	_, err := m.stub.Rollback(m.root.WithPrefix(ctx), &firestorepb.RollbackRequest{
		Database:    m.root.Database(),
		Transaction: tx.id,
	})
	if err != nil {
		m.logFailure("Rollback", err)
		return false
	}
	return true
}

func (tx *Transaction) finish() ([]*firestorepb.Write, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, false
	}
	tx.done = true
	writes := tx.writes
	tx.writes = nil
	return writes, true
}

func (m *Manager) logFailure(method string, err error) {
	st, _ := status.FromError(err)
	m.logger.Warn("Received ok=false", "method", method, "code", st.Code(), "message", st.Message())
}
