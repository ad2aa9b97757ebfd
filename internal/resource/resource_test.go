package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func TestRoot_DocumentName(t *testing.T) {
	r := NewRoot("firestore-test", "")

	assert.Equal(t, "projects/firestore-test/databases/(default)", r.Database())
	assert.Equal(t, DefaultDatabase, r.DatabaseID())

	tests := []struct {
		rel  string
		want string
	}{
		{"users/john_doe", "projects/firestore-test/databases/(default)/documents/users/john_doe"},
		{"/users/john_doe/", "projects/firestore-test/databases/(default)/documents/users/john_doe"},
		{"a/b/c/d", "projects/firestore-test/databases/(default)/documents/a/b/c/d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.DocumentName(tt.rel), tt.rel)
	}
}

func TestRoot_Relative(t *testing.T) {
	r := NewRoot("p", "db")

	rel, ok := r.Relative(r.DocumentName("c/doc"))
	require.True(t, ok)
	assert.Equal(t, "c/doc", rel)

	_, ok = r.Relative(NewRoot("other", "db").DocumentName("c/doc"))
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	root, rel, err := Parse("projects/p/databases/db/documents/c/doc")
	require.NoError(t, err)
	assert.Equal(t, "p", root.Project())
	assert.Equal(t, "db", root.DatabaseID())
	assert.Equal(t, "c/doc", rel)

	for _, bad := range []string{"", "projects/p", "projects/p/databases/db/documents/", "x/p/databases/db/documents/c/d"} {
		_, _, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestRoot_WithPrefix(t *testing.T) {
	r := NewRoot("p", "db")
	md, ok := metadata.FromOutgoingContext(r.WithPrefix(context.Background()))
	require.True(t, ok)
	assert.Equal(t, []string{"projects/p/databases/db"}, md.Get(PrefixHeader))
}

func TestParseDatabase(t *testing.T) {
	root, err := ParseDatabase("projects/p/databases/(default)")
	require.NoError(t, err)
	assert.Equal(t, NewRoot("p", ""), root)

	for _, bad := range []string{"", "projects/p/databases", "projects//databases/db", "projects/p/databases/db/documents"} {
		_, err := ParseDatabase(bad)
		assert.Error(t, err, bad)
	}
}
