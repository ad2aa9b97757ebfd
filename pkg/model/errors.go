package model

import "errors"

var (
	// ErrWrongKind is returned when a Value is read as a variant it does not hold
	ErrWrongKind = errors.New("value kind mismatch")
	// ErrNotFound is returned when a document is not found
	ErrNotFound = errors.New("document not found")
	// ErrNoDestination is returned when a read is issued without an output document
	ErrNoDestination = errors.New("no output document provided")
	// ErrNoListener is returned when a watch is started without a listener
	ErrNoListener = errors.New("no listener provided")
	// ErrClosed is returned when an operation is issued on a closed connection
	ErrClosed = errors.New("connection closed")
	// ErrCommitted is returned when a transaction is used after commit
	ErrCommitted = errors.New("transaction already committed")
)
