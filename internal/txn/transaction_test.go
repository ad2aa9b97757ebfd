package txn

import (
	"context"
	"sync"
	"testing"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docwatch/internal/resource"
	"github.com/syntrixbase/docwatch/pkg/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

type mockStub struct {
	mu sync.Mutex

	beginErr  error
	commitErr error

	gets      []*firestorepb.GetDocumentRequest
	commits   []*firestorepb.CommitRequest
	rollbacks []*firestorepb.RollbackRequest
}

func (m *mockStub) BeginTransaction(_ context.Context, in *firestorepb.BeginTransactionRequest, _ ...grpc.CallOption) (*firestorepb.BeginTransactionResponse, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return &firestorepb.BeginTransactionResponse{Transaction: []byte("tx-1")}, nil
}

func (m *mockStub) GetDocument(_ context.Context, in *firestorepb.GetDocumentRequest, _ ...grpc.CallOption) (*firestorepb.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets = append(m.gets, in)
	return &firestorepb.Document{Name: in.Name}, nil
}

func (m *mockStub) Commit(_ context.Context, in *firestorepb.CommitRequest, _ ...grpc.CallOption) (*firestorepb.CommitResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, in)
	if m.commitErr != nil {
		return nil, m.commitErr
	}
	return &firestorepb.CommitResponse{}, nil
}

func (m *mockStub) Rollback(_ context.Context, in *firestorepb.RollbackRequest, _ ...grpc.CallOption) (*emptypb.Empty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks = append(m.rollbacks, in)
	return &emptypb.Empty{}, nil
}

var testRoot = resource.NewRoot("p", "")

func TestTransaction_Commit(t *testing.T) {
	stub := &mockStub{}
	m := NewManager(stub, testRoot, nil)

	tx, err := m.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("tx-1"), tx.ID())

	doc := model.NewDocument(map[string]model.Value{"Random Value": model.Integer(5)})
	require.True(t, tx.Upsert("firestore_test/transaction_test_0", doc))
	require.True(t, tx.Upsert("firestore_test/transaction_test_1", nil))
	assert.Equal(t, 2, tx.Pending())
	assert.Empty(t, stub.commits)

	require.True(t, m.Commit(context.Background(), tx))
	require.Len(t, stub.commits, 1)

	req := stub.commits[0]
	assert.Equal(t, testRoot.Database(), req.Database)
	assert.Equal(t, []byte("tx-1"), req.Transaction)
	require.Len(t, req.Writes, 2)
	assert.Equal(t, testRoot.DocumentName("firestore_test/transaction_test_0"), req.Writes[0].GetUpdate().GetName())
	assert.Equal(t, int64(5), req.Writes[0].GetUpdate().GetFields()["Random Value"].GetIntegerValue())

	// Committed transactions are finished.
	assert.False(t, m.Commit(context.Background(), tx))
	assert.False(t, tx.Upsert("c/d", doc))
	assert.False(t, m.Rollback(context.Background(), tx))
	assert.Len(t, stub.commits, 1)
}

func TestTransaction_Fetch(t *testing.T) {
	stub := &mockStub{}
	m := NewManager(stub, testRoot, nil)
	tx, err := m.Begin(context.Background())
	require.NoError(t, err)

	assert.False(t, tx.Fetch(context.Background(), "c/d", nil))
	assert.Empty(t, stub.gets)

	var doc model.Document
	require.True(t, tx.Fetch(context.Background(), "c/d", &doc))
	require.Len(t, stub.gets, 1)
	assert.Equal(t, []byte("tx-1"), stub.gets[0].GetTransaction())
	assert.Equal(t, testRoot.DocumentName("c/d"), doc.Name)
}

func TestTransaction_Errors(t *testing.T) {
	m := NewManager(&mockStub{beginErr: status.Error(codes.Unavailable, "down")}, testRoot, nil)
	_, err := m.Begin(context.Background())
	assert.Error(t, err)

	stub := &mockStub{commitErr: status.Error(codes.Aborted, "contention")}
	m = NewManager(stub, testRoot, nil)
	tx, err := m.Begin(context.Background())
	require.NoError(t, err)
	assert.False(t, m.Commit(context.Background(), tx))
	assert.False(t, m.Commit(context.Background(), nil))
}

func TestTransaction_Rollback(t *testing.T) {
	stub := &mockStub{}
	m := NewManager(stub, testRoot, nil)
	tx, err := m.Begin(context.Background())
	require.NoError(t, err)
	tx.Upsert("c/d", model.NewDocument(nil))

	require.True(t, m.Rollback(context.Background(), tx))
	require.Len(t, stub.rollbacks, 1)
	assert.False(t, m.Commit(context.Background(), tx))
	assert.Empty(t, stub.commits)
}
