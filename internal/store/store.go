package store

import (
	"context"
	"errors"
)

// Collection names used by the scheduler core.
const (
	Schedules       = "schedules"
	DeliveryLog     = "delivery_log"
	OutreachRecords = "outreach_records"
)

// ErrNotFound is returned by Get and Update when no document exists for the id.
var ErrNotFound = errors.New("store: document not found")

// Store is a document store keyed by collection and id. Documents are JSON
// encoded by the implementation; callers work with their own types.
type Store interface {
	// Get decodes the document with the given id into out.
	// Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, collection, id string, out any) error

	// Put stores doc under id, replacing any existing document.
	Put(ctx context.Context, collection, id string, doc any) error

	// Update applies fn to the current document inside a single write
	// transaction. fn receives the raw stored document and returns the
	// replacement. Returns ErrNotFound if the id does not exist; an error
	// from fn aborts the transaction and is returned unwrapped where
	// possible.
	Update(ctx context.Context, collection, id string, fn func(raw []byte) (any, error)) error

	// Scan calls fn for every document in the collection, in stable
	// (byte-ordered) key order. Returning an error from fn stops the scan.
	Scan(ctx context.Context, collection string, fn func(id string, raw []byte) error) error

	// Close releases the underlying storage.
	Close() error
}

// Mutation is a single write in a batch commit.
type Mutation struct {
	Collection string
	ID         string
	Doc        any
}

// BatchWriter is implemented by stores that can commit several writes
// atomically. Callers that need all-or-nothing semantics type-assert for it
// and fall back to independent Put calls when it is absent.
type BatchWriter interface {
	ApplyBatch(ctx context.Context, muts []Mutation) error
}
