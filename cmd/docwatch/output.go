package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/syntrixbase/docwatch/pkg/docwatch"
	"github.com/syntrixbase/docwatch/pkg/model"
)

// documentJSON is how documents are printed and read on the command line.
type documentJSON struct {
	Path       string         `json:"path,omitempty"`
	Name       string         `json:"name,omitempty"`
	Fields     map[string]any `json:"fields"`
	CreateTime *time.Time     `json:"create_time,omitempty"`
	UpdateTime *time.Time     `json:"update_time,omitempty"`
	Deleted    bool           `json:"deleted,omitempty"`
}

// encodeDocument renders doc for output. A nil doc is a deletion of path.
func encodeDocument(root docwatch.Root, path string, doc *model.Document) ([]byte, error) {
	if doc == nil {
		return json.Marshal(documentJSON{Path: path, Deleted: true})
	}
	out := documentJSON{Path: path, Name: doc.Name, Fields: doc.Map()}
	if rel, ok := root.Relative(doc.Name); ok {
		out.Path = rel
	}
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	if !doc.CreateTime.IsZero() {
		t := doc.CreateTime
		out.CreateTime = &t
	}
	if !doc.UpdateTime.IsZero() {
		t := doc.UpdateTime
		out.UpdateTime = &t
	}
	return json.Marshal(out)
}

// decodeFields parses a JSON object into a document's fields. Numbers
// are kept as literals so integers keep full int64 precision.
func decodeFields(data []byte) (*model.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid document JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid document JSON: trailing data after object")
	}
	if fields == nil {
		return nil, fmt.Errorf("document must be a JSON object")
	}
	return model.DocumentFromMap(fields)
}
