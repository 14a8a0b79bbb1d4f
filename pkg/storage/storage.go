// Package storage defines the contract between the fetch engine and the
// underlying document store, plus matching helpers shared by the adapters in
// the subpackages.
//
// The engine never builds queries itself; it hands the request descriptor and
// a lookup to a Store and consumes documents back. Adapters are expected to
// be individually safe for concurrent use; the engine adds no locking of its
// own.
package storage

import (
	"context"
	"errors"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/request"
)

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("storage: document not found")

// Lookup is a set of exact-match constraints. Reserved keys (identity,
// version) address the typed document slots; every other key addresses a
// domain field.
type Lookup map[string]any

// Cursor is the result of a collection query.
type Cursor interface {
	// All returns the documents of the current page.
	All() []*document.Document

	// Count returns the total number of matching documents, before
	// pagination.
	Count() int
}

// Annotator is optionally implemented by cursors that want to attach extra
// data to the outgoing response body. The engine invokes it with the
// assembled envelope after all documents are enriched.
type Annotator interface {
	Annotate(body any)
}

// Store is the document storage collaborator.
type Store interface {
	// Find returns the documents of a resource matching the request
	// descriptor and lookup.
	Find(ctx context.Context, resource string, req *request.Request, lookup Lookup) (Cursor, error)

	// FindOne returns the single document matching the lookup, or
	// ErrNotFound. The request descriptor may be nil.
	FindOne(ctx context.Context, resource string, req *request.Request, lookup Lookup) (*document.Document, error)

	// IsEmpty reports whether the resource holds no documents at all.
	IsEmpty(ctx context.Context, resource string) (bool, error)
}
