// Package memstore is an in-memory storage adapter. It backs the engine's
// test suites and is suitable for small single-process deployments; all data
// lives in mutex-guarded maps and every document crossing the boundary is
// deep-copied, so callers can never alias stored state.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/request"
	"github.com/hashicorp-forge/tome/pkg/storage"
)

// Store is the in-memory adapter. The zero value is not usable; call New.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]*document.Document
}

// New returns an empty store.
func New() *Store {
	return &Store{collections: map[string][]*document.Document{}}
}

// Insert stores copies of the given documents under a resource. Documents
// without an identity are assigned a generated one.
func (s *Store) Insert(resource string, docs ...*document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		c := doc.Copy()
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		s.collections[resource] = append(s.collections[resource], c)
	}
}

// Find implements storage.Store.
func (s *Store) Find(ctx context.Context, resource string, req *request.Request, lookup storage.Lookup) (storage.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*document.Document
	for _, doc := range s.collections[resource] {
		if storage.Match(doc, lookup) {
			candidates = append(candidates, doc)
		}
	}

	page, total, err := storage.ApplyRequest(candidates, req)
	if err != nil {
		return nil, err
	}

	out := make([]*document.Document, len(page))
	for i, doc := range page {
		out[i] = doc.Copy()
	}
	return &cursor{docs: out, count: total}, nil
}

// FindOne implements storage.Store.
func (s *Store) FindOne(ctx context.Context, resource string, req *request.Request, lookup storage.Lookup) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.collections[resource] {
		if storage.Match(doc, lookup) {
			return doc.Copy(), nil
		}
	}
	return nil, storage.ErrNotFound
}

// IsEmpty implements storage.Store.
func (s *Store) IsEmpty(ctx context.Context, resource string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[resource]) == 0, nil
}

type cursor struct {
	docs  []*document.Document
	count int
}

func (c *cursor) All() []*document.Document { return c.docs }
func (c *cursor) Count() int                { return c.count }
