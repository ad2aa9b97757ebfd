// Package docclient issues the unary document operations against the
// remote Firestore stub.
package docclient

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/syntrixbase/docwatch/internal/resource"
	"github.com/syntrixbase/docwatch/internal/wire"
	"github.com/syntrixbase/docwatch/pkg/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Stub is the subset of firestorepb.FirestoreClient the transport calls.
type Stub interface {
	GetDocument(ctx context.Context, in *firestorepb.GetDocumentRequest, opts ...grpc.CallOption) (*firestorepb.Document, error)
	UpdateDocument(ctx context.Context, in *firestorepb.UpdateDocumentRequest, opts ...grpc.CallOption) (*firestorepb.Document, error)
}

// Transport maps transport failures to boolean results. It performs no
// retries and applies no timeout of its own.
type Transport struct {
	stub   Stub
	root   resource.Root
	logger *slog.Logger
}

// New creates a Transport bound to root.
func New(stub Stub, root resource.Root, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		stub:   stub,
		root:   root,
		logger: logger.With("component", "docclient"),
	}
}

// Root returns the database root names are resolved against.
func (t *Transport) Root() resource.Root { return t.root }

// Fetch reads the document at path into dst. It returns false when dst is
// nil (no call is made) or when the call fails for any reason, including
// the document not existing.
func (t *Transport) Fetch(ctx context.Context, path string, dst *model.Document) bool {
	if dst == nil {
		t.logger.Error("Fetch called without output document", "path", path, "error", model.ErrNoDestination)
		return false
	}

	name := t.root.DocumentName(path)
	resp, err := t.stub.GetDocument(t.root.WithPrefix(ctx), &firestorepb.GetDocumentRequest{Name: name})
	if err != nil {
		t.logFailure("GetDocument", name, err)
		return false
	}

	*dst = *wire.DocumentFromProto(resp)
	return true
}

// Upsert creates or replaces the document at path with a copy of doc.
// The server's resulting representation is written to out when out is
// non-nil and discarded otherwise.
func (t *Transport) Upsert(ctx context.Context, path string, doc *model.Document, out *model.Document) bool {
	req := doc.Clone()
	if req == nil {
		req = &model.Document{}
	}
	req.Name = t.root.DocumentName(path)
	// Create and update times are server-owned.
	req.CreateTime, req.UpdateTime = time.Time{}, time.Time{}

	resp, err := t.stub.UpdateDocument(t.root.WithPrefix(ctx), &firestorepb.UpdateDocumentRequest{
		Document: wire.DocumentToProto(req),
	})
	if err != nil {
		t.logFailure("UpdateDocument", req.Name, err)
		return false
	}

	result := wire.DocumentFromProto(resp)
	if out != nil && result != nil {
		*out = *result
	}
	return true
}

func (t *Transport) logFailure(method, name string, err error) {
	st, _ := status.FromError(err)
	if st.Code() == codes.NotFound {
		t.logger.Info("Received ok=false", "method", method, "name", name, "error", model.ErrNotFound)
		return
	}
	t.logger.Warn("Received ok=false",
		"method", method,
		"name", name,
		"code", st.Code(),
		"message", st.Message(),
		"details", st.Details(),
	)
}
