// Package resource maps relative document paths to the fully-qualified
// resource names the remote service addresses documents by.
package resource

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc/metadata"
)

// DefaultDatabase is the id of a project's default database.
const DefaultDatabase = "(default)"

// PrefixHeader is the metadata key carrying the database root on every call.
const PrefixHeader = "google-cloud-resource-prefix"

// Root is the fixed database root of one connection.
type Root struct {
	project  string
	database string
	base     string
}

// NewRoot builds the root for projects/{project}/databases/{database}.
// An empty database selects DefaultDatabase.
func NewRoot(project, database string) Root {
	if database == "" {
		database = DefaultDatabase
	}
	return Root{
		project:  project,
		database: database,
		base:     fmt.Sprintf("projects/%s/databases/%s", project, database),
	}
}

func (r Root) Project() string    { return r.project }
func (r Root) DatabaseID() string { return r.database }

// Database returns projects/{project}/databases/{database}.
func (r Root) Database() string { return r.base }

// Documents returns the parent of every document name.
func (r Root) Documents() string { return r.base + "/documents" }

// DocumentName returns {database-root}/documents/{rel}.
func (r Root) DocumentName(rel string) string {
	return r.Documents() + "/" + strings.Trim(rel, "/")
}

// Relative strips the documents prefix from a fully-qualified name.
// ok is false when name belongs to another root.
func (r Root) Relative(name string) (rel string, ok bool) {
	prefix := r.Documents() + "/"
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}

// WithPrefix attaches the PrefixHeader metadata to an outgoing context.
// The Listen method refuses streams without it.
func (r Root) WithPrefix(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, PrefixHeader, r.base)
}

// Parse splits a fully-qualified document name into its root and
// relative path.
func Parse(name string) (Root, string, error) {
	parts := strings.SplitN(name, "/", 6)
	if len(parts) < 6 || parts[0] != "projects" || parts[2] != "databases" || parts[4] != "documents" || parts[5] == "" {
		return Root{}, "", fmt.Errorf("invalid document name %q", name)
	}
	return NewRoot(parts[1], parts[3]), parts[5], nil
}

// ParseDatabase parses a database root of the form
// projects/{project}/databases/{database}.
func ParseDatabase(name string) (Root, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[1] == "" || parts[2] != "databases" || parts[3] == "" {
		return Root{}, fmt.Errorf("invalid database name %q", name)
	}
	return NewRoot(parts[1], parts[3]), nil
}
