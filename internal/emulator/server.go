// Package emulator is an in-memory implementation of the Firestore gRPC
// service covering point reads and writes, transactions and document
// Listen targets.
package emulator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"github.com/syntrixbase/docwatch/internal/resource"
	"github.com/syntrixbase/docwatch/internal/server"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type transaction struct {
	database string
	expires  time.Time
}

// Server implements firestorepb.FirestoreServer on an in-memory store.
type Server struct {
	firestorepb.UnimplementedFirestoreServer

	cfg    Config
	logger *slog.Logger
	store  *store

	txMu sync.Mutex
	txns map[uuid.UUID]transaction

	closing   chan struct{}
	closeOnce sync.Once
	streams   atomic.Int64
}

// New creates an empty emulator.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "emulator"),
		store:   newStore(),
		txns:    make(map[uuid.UUID]transaction),
		closing: make(chan struct{}),
	}
}

// Register adds the Firestore service to svc.
func (s *Server) Register(svc server.Service) {
	firestorepb.RegisterFirestoreServer(svc.GRPCServer(), s)
}

// Close ends every open Listen stream with UNAVAILABLE. Unary calls keep
// working.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// ActiveStreams returns the number of Listen streams being served.
func (s *Server) ActiveStreams() int { return int(s.streams.Load()) }

// Subscribers returns the number of document targets across all streams.
func (s *Server) Subscribers() int { return s.store.subscribers() }

// Documents returns the number of stored documents.
func (s *Server) Documents() int { return s.store.len() }

func (s *Server) GetDocument(ctx context.Context, req *firestorepb.GetDocumentRequest) (*firestorepb.Document, error) {
	root, err := s.documentRoot(ctx, req.GetName())
	if err != nil {
		return nil, err
	}
	if id := req.GetTransaction(); id != nil {
		if err := s.checkTransaction(root.Database(), id); err != nil {
			return nil, err
		}
	}

	doc, ok := s.store.get(req.GetName())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Document %q not found", req.GetName())
	}
	return applyMask(doc, req.GetMask()), nil
}

func (s *Server) UpdateDocument(ctx context.Context, req *firestorepb.UpdateDocumentRequest) (*firestorepb.Document, error) {
	doc := req.GetDocument()
	if doc == nil {
		return nil, status.Error(codes.InvalidArgument, "document is required")
	}
	if _, err := s.documentRoot(ctx, doc.GetName()); err != nil {
		return nil, err
	}

	exists, err := precondition(req.GetCurrentDocument())
	if err != nil {
		return nil, err
	}
	m := mutation{name: doc.GetName(), update: doc, exists: exists}
	if mask := req.GetUpdateMask(); mask != nil {
		m.mask = mask.GetFieldPaths()
	}

	_, results, err := s.store.apply([]mutation{m})
	if err != nil {
		return nil, err
	}
	return applyMask(results[0], req.GetMask()), nil
}

func (s *Server) DeleteDocument(ctx context.Context, req *firestorepb.DeleteDocumentRequest) (*emptypb.Empty, error) {
	if _, err := s.documentRoot(ctx, req.GetName()); err != nil {
		return nil, err
	}
	exists, err := precondition(req.GetCurrentDocument())
	if err != nil {
		return nil, err
	}
	if _, _, err := s.store.apply([]mutation{{name: req.GetName(), exists: exists}}); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) BeginTransaction(ctx context.Context, req *firestorepb.BeginTransactionRequest) (*firestorepb.BeginTransactionResponse, error) {
	if err := s.databaseRoot(ctx, req.GetDatabase()); err != nil {
		return nil, err
	}
	if req.GetOptions().GetReadOnly() != nil {
		return nil, status.Error(codes.Unimplemented, "read-only transactions are not supported")
	}

	id := uuid.New()
	s.txMu.Lock()
	s.expireTransactionsLocked()
	s.txns[id] = transaction{database: req.GetDatabase(), expires: time.Now().Add(s.cfg.TransactionTTL)}
	s.txMu.Unlock()

	s.logger.Debug("Transaction started", "transaction", id.String())
	return &firestorepb.BeginTransactionResponse{Transaction: id[:]}, nil
}

func (s *Server) Commit(ctx context.Context, req *firestorepb.CommitRequest) (*firestorepb.CommitResponse, error) {
	if err := s.databaseRoot(ctx, req.GetDatabase()); err != nil {
		return nil, err
	}

	muts := make([]mutation, 0, len(req.GetWrites()))
	for _, w := range req.GetWrites() {
		m, err := s.toMutation(ctx, req.GetDatabase(), w)
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	}

	if id := req.GetTransaction(); id != nil {
		if err := s.endTransaction(req.GetDatabase(), id); err != nil {
			return nil, err
		}
	}

	commitTime, _, err := s.store.apply(muts)
	if err != nil {
		return nil, err
	}

	ts := timestamppb.New(commitTime)
	results := make([]*firestorepb.WriteResult, len(muts))
	for i := range results {
		results[i] = &firestorepb.WriteResult{UpdateTime: ts}
	}
	return &firestorepb.CommitResponse{WriteResults: results, CommitTime: ts}, nil
}

func (s *Server) Rollback(ctx context.Context, req *firestorepb.RollbackRequest) (*emptypb.Empty, error) {
	if err := s.databaseRoot(ctx, req.GetDatabase()); err != nil {
		return nil, err
	}
	if err := s.endTransaction(req.GetDatabase(), req.GetTransaction()); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) toMutation(ctx context.Context, database string, w *firestorepb.Write) (mutation, error) {
	if len(w.GetUpdateTransforms()) > 0 {
		return mutation{}, status.Error(codes.Unimplemented, "field transforms are not supported")
	}

	var m mutation
	switch op := w.GetOperation().(type) {
	case *firestorepb.Write_Update:
		m = mutation{name: op.Update.GetName(), update: op.Update}
		if mask := w.GetUpdateMask(); mask != nil {
			m.mask = mask.GetFieldPaths()
		}
	case *firestorepb.Write_Delete:
		m = mutation{name: op.Delete}
	default:
		return mutation{}, status.Error(codes.InvalidArgument, "write has no supported operation")
	}

	root, err := s.documentRoot(ctx, m.name)
	if err != nil {
		return mutation{}, err
	}
	if root.Database() != database {
		return mutation{}, status.Errorf(codes.InvalidArgument, "document %q is not in database %q", m.name, database)
	}
	if m.exists, err = precondition(w.GetCurrentDocument()); err != nil {
		return mutation{}, err
	}
	return m, nil
}

func (s *Server) checkTransaction(database string, raw []byte) error {
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return status.Error(codes.InvalidArgument, "malformed transaction id")
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.expireTransactionsLocked()
	tx, ok := s.txns[id]
	if !ok || tx.database != database {
		return status.Errorf(codes.InvalidArgument, "transaction %s is not active", id)
	}
	return nil
}

func (s *Server) endTransaction(database string, raw []byte) error {
	if err := s.checkTransaction(database, raw); err != nil {
		return err
	}
	id, _ := uuid.FromBytes(raw)
	s.txMu.Lock()
	delete(s.txns, id)
	s.txMu.Unlock()
	return nil
}

func (s *Server) expireTransactionsLocked() {
	now := time.Now()
	for id, tx := range s.txns {
		if now.After(tx.expires) {
			delete(s.txns, id)
			s.logger.Debug("Transaction expired", "transaction", id.String())
		}
	}
}

// documentRoot validates a document name against the request's resource
// prefix, when one was sent.
func (s *Server) documentRoot(ctx context.Context, name string) (resource.Root, error) {
	root, _, err := resource.Parse(name)
	if err != nil {
		return resource.Root{}, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := checkPrefix(ctx, root.Database(), false); err != nil {
		return resource.Root{}, err
	}
	if err := authorize(ctx, root); err != nil {
		return resource.Root{}, err
	}
	return root, nil
}

func (s *Server) databaseRoot(ctx context.Context, database string) error {
	root, err := resource.ParseDatabase(database)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := checkPrefix(ctx, database, false); err != nil {
		return err
	}
	return authorize(ctx, root)
}

// authorize rejects callers whose token names a different project than
// the database addressed. Calls without claims pass; the server only sets
// claims when auth is enabled.
func authorize(ctx context.Context, root resource.Root) error {
	claims := server.GetClaims(ctx)
	if claims == nil || claims.Project == "" {
		return nil
	}
	if claims.Project != root.Project() {
		return status.Errorf(codes.PermissionDenied, "token for project %q cannot access %s", claims.Project, root.Database())
	}
	return nil
}

func checkPrefix(ctx context.Context, database string, required bool) error {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(resource.PrefixHeader)
	if len(values) == 0 {
		if required {
			return status.Errorf(codes.InvalidArgument, "missing %s metadata", resource.PrefixHeader)
		}
		return nil
	}
	if values[0] != database {
		return status.Errorf(codes.InvalidArgument, "%s %q does not match %q", resource.PrefixHeader, values[0], database)
	}
	return nil
}

func precondition(p *firestorepb.Precondition) (*bool, error) {
	switch c := p.GetConditionType().(type) {
	case nil:
		return nil, nil
	case *firestorepb.Precondition_Exists:
		exists := c.Exists
		return &exists, nil
	default:
		return nil, status.Error(codes.Unimplemented, "only exists preconditions are supported")
	}
}

// applyMask keeps only the top-level fields named by mask.
func applyMask(doc *firestorepb.Document, mask *firestorepb.DocumentMask) *firestorepb.Document {
	if doc == nil || mask == nil {
		return doc
	}
	keep := make(map[string]*firestorepb.Value, len(mask.GetFieldPaths()))
	for _, field := range mask.GetFieldPaths() {
		if v, ok := doc.Fields[field]; ok {
			keep[field] = v
		}
	}
	doc.Fields = keep
	return doc
}
