package model

import (
	"maps"
	"sort"
	"time"
)

// Document is a local copy of one remote document.
//
//	Name is the fully-qualified resource name, empty until the document
//	has been written to or read from the server.
//	CreateTime and UpdateTime are server-assigned and zero on documents
//	built locally.
type Document struct {
	Name       string
	Fields     map[string]Value
	CreateTime time.Time
	UpdateTime time.Time
}

// NewDocument returns an unnamed document holding a copy of fields.
func NewDocument(fields map[string]Value) *Document {
	doc := &Document{Fields: make(map[string]Value, len(fields))}
	for k, v := range fields {
		doc.Fields[k] = v.Clone()
	}
	return doc
}

// Get returns the value stored under field.
func (doc *Document) Get(field string) (Value, bool) {
	if doc == nil || doc.Fields == nil {
		return Value{}, false
	}
	v, ok := doc.Fields[field]
	return v, ok
}

// Set stores v under field, allocating the field map if needed.
func (doc *Document) Set(field string, v Value) {
	if doc.Fields == nil {
		doc.Fields = make(map[string]Value)
	}
	doc.Fields[field] = v
}

func (doc *Document) HasField(field string) bool {
	_, ok := doc.Get(field)
	return ok
}

// Keys returns the field names in sorted order.
func (doc *Document) Keys() []string {
	if doc == nil {
		return nil
	}
	keys := make([]string, 0, len(doc.Fields))
	for k := range maps.Keys(doc.Fields) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy. A nil document clones to nil.
func (doc *Document) Clone() *Document {
	if doc == nil {
		return nil
	}
	out := &Document{
		Name:       doc.Name,
		CreateTime: doc.CreateTime,
		UpdateTime: doc.UpdateTime,
	}
	if doc.Fields != nil {
		out.Fields = make(map[string]Value, len(doc.Fields))
		for k, v := range doc.Fields {
			out.Fields[k] = v.Clone()
		}
	}
	return out
}

// FieldsEqual compares field maps only, ignoring name and timestamps.
func (doc *Document) FieldsEqual(other *Document) bool {
	if doc == nil || other == nil {
		return doc == other
	}
	return fieldsEqual(doc.Fields, other.Fields)
}

// Map renders the fields as plain Go values.
func (doc *Document) Map() map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		out[k] = v.Interface()
	}
	return out
}

// DocumentFromMap builds a document from JSON-like data.
func DocumentFromMap(data map[string]any) (*Document, error) {
	doc := &Document{Fields: make(map[string]Value, len(data))}
	for k, x := range data {
		v, err := FromInterface(x)
		if err != nil {
			return nil, err
		}
		doc.Fields[k] = v
	}
	return doc, nil
}
