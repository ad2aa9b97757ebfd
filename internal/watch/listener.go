package watch

import "github.com/syntrixbase/docwatch/pkg/model"

// Listener receives document changes for one watch.
//
// OnChange is called once per document-change message with the updated
// document, and once per document-delete or document-remove message with
// nil. Calls for one watch never overlap and arrive in server order. The
// document is owned by the worker for the duration of the call; Clone it
// to retain it.
type Listener interface {
	OnChange(doc *model.Document)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(doc *model.Document)

func (f ListenerFunc) OnChange(doc *model.Document) { f(doc) }

// ReadyListener is implemented by listeners that want to know when the
// watched target has delivered its initial state. OnCurrent runs on the
// worker goroutine, ordered with OnChange calls.
type ReadyListener interface {
	Listener
	OnCurrent()
}

func isNilListener(l Listener) bool {
	if l == nil {
		return true
	}
	if f, ok := l.(ListenerFunc); ok && f == nil {
		return true
	}
	return false
}
