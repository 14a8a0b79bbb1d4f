// Package hooks is the lifecycle-event notification registry: an explicit
// mapping from (event kind, resource name) to an ordered list of callbacks,
// replacing dispatch by method-name concatenation.
//
// Hooks are fire-and-forget: return values do not exist, and any mutation a
// hook performs on the documents it receives affects the outgoing response
// body only; the reported last-modified and ETag are not recomputed.
package hooks

import (
	"github.com/iancoleman/strcase"

	"github.com/hashicorp-forge/tome/pkg/document"
)

// ResourceFunc receives the full document list of a collection fetch.
type ResourceFunc func(resource string, docs []*document.Document)

// ItemFunc receives the identity and content of a single fetched item.
type ItemFunc func(resource string, id string, doc *document.Document)

// Registry holds registered fetch-event callbacks. Registration is expected
// to happen during setup, before the registry is shared with the engine; the
// registry is read-only at fetch time.
type Registry struct {
	fetchResource map[string][]ResourceFunc
	fetchItem     map[string][]ItemFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		fetchResource: map[string][]ResourceFunc{},
		fetchItem:     map[string][]ItemFunc{},
	}
}

// key normalizes resource names so registrations match regardless of the
// caller's casing convention.
func key(resource string) string {
	if resource == "" {
		return ""
	}
	return strcase.ToSnake(resource)
}

// OnFetchResource registers a callback for collection fetches of the named
// resource. An empty resource name registers for every resource.
func (r *Registry) OnFetchResource(resource string, fn ResourceFunc) {
	k := key(resource)
	r.fetchResource[k] = append(r.fetchResource[k], fn)
}

// OnFetchItem registers a callback for item fetches of the named resource.
// An empty resource name registers for every resource.
func (r *Registry) OnFetchItem(resource string, fn ItemFunc) {
	k := key(resource)
	r.fetchItem[k] = append(r.fetchItem[k], fn)
}

// FireFetchResource invokes the generic callbacks followed by the
// resource-specific ones, in registration order.
func (r *Registry) FireFetchResource(resource string, docs []*document.Document) {
	if r == nil {
		return
	}
	for _, fn := range r.fetchResource[""] {
		fn(resource, docs)
	}
	for _, fn := range r.fetchResource[key(resource)] {
		fn(resource, docs)
	}
}

// FireFetchItem invokes the generic callbacks followed by the
// resource-specific ones, in registration order.
func (r *Registry) FireFetchItem(resource, id string, doc *document.Document) {
	if r == nil {
		return
	}
	for _, fn := range r.fetchItem[""] {
		fn(resource, id, doc)
	}
	for _, fn := range r.fetchItem[key(resource)] {
		fn(resource, id, doc)
	}
}
