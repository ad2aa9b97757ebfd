package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_GetSet(t *testing.T) {
	var doc Document
	_, ok := doc.Get("missing")
	assert.False(t, ok)

	doc.Set("Name", String("John Doe"))
	doc.Set("Age", Integer(23))

	v, ok := doc.Get("Age")
	require.True(t, ok)
	age, err := v.AsInteger()
	require.NoError(t, err)
	assert.Equal(t, int64(23), age)
	assert.True(t, doc.HasField("Name"))
	assert.Equal(t, []string{"Age", "Name"}, doc.Keys())
}

func TestDocument_Clone(t *testing.T) {
	var nilDoc *Document
	assert.Nil(t, nilDoc.Clone())

	doc := NewDocument(map[string]Value{"list": Array(Integer(1))})
	doc.Name = "projects/p/databases/d/documents/c/x"

	clone := doc.Clone()
	clone.Set("list", Array(Integer(2)))
	clone.Set("extra", Boolean(true))

	assert.Equal(t, doc.Name, clone.Name)
	assert.False(t, doc.HasField("extra"))
	assert.False(t, doc.FieldsEqual(clone))
}

func TestDocument_FieldsEqual(t *testing.T) {
	a := NewDocument(map[string]Value{"v": Integer(1)})
	b := NewDocument(map[string]Value{"v": Integer(1)})
	b.Name = "other"
	assert.True(t, a.FieldsEqual(b))

	var nilDoc *Document
	assert.True(t, nilDoc.FieldsEqual(nil))
	assert.False(t, a.FieldsEqual(nil))
}

func TestDocument_MapRoundTrip(t *testing.T) {
	doc, err := DocumentFromMap(map[string]any{"name": "alice", "age": float64(3)})
	require.NoError(t, err)

	m := doc.Map()
	assert.Equal(t, "alice", m["name"])
	assert.Equal(t, int64(3), m["age"])

	_, err = DocumentFromMap(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
