package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/hypermedia"
	"github.com/hashicorp-forge/tome/pkg/media"
	"github.com/hashicorp-forge/tome/pkg/request"
	"github.com/hashicorp-forge/tome/pkg/resource"
	"github.com/hashicorp-forge/tome/pkg/storage"
	"github.com/hashicorp-forge/tome/pkg/versioning"
)

// enrichDocument prepares a document for response, in place. Step order is a
// contract: timestamps must be resolved before the ETag is computed, and the
// ETag must cover exactly the stored field state: links, version numbers,
// media payloads and embedded expansions are applied after it.
func (e *Engine) enrichDocument(ctx context.Context, doc *document.Document, def *resource.Definition, embedded []string, latest *document.Document) error {
	doc.ResolveTimestamps()

	if e.Config.ConditionalMatch {
		etag, err := document.ETagFor(doc)
		if err != nil {
			return fmt.Errorf("computing etag: %w", err)
		}
		doc.ETag = etag
	}

	if def.Hateoas {
		doc.Links = hypermedia.Links{
			"self": {
				Title: def.ItemTitle,
				Href:  hypermedia.ItemURI(e.Config.BaseURL, def.URL, e.lookupValue(doc, def)),
			},
		}
	}

	versioning.ResolveDocumentVersion(doc, def, latest)

	if err := e.resolveMediaFields(ctx, doc, def); err != nil {
		return err
	}
	return e.resolveEmbeddedDocuments(ctx, doc, def, embedded)
}

// lookupValue returns the document's value of the resource's public lookup
// field, the value that addresses the document in self links. A document
// missing the lookup field falls back to its identity so the href stays
// addressable.
func (e *Engine) lookupValue(doc *document.Document, def *resource.Definition) string {
	if def.ItemLookupField == document.IDField {
		return doc.ID
	}
	v, ok := doc.Fields[def.ItemLookupField]
	if !ok || v == nil {
		return doc.ID
	}
	return fmt.Sprint(v)
}

// resolveMediaFields replaces stored media references with base64-encoded
// blob payloads. A missing blob yields a null field value, not an error.
func (e *Engine) resolveMediaFields(ctx context.Context, doc *document.Document, def *resource.Definition) error {
	for _, field := range def.MediaFields() {
		ref, ok := doc.Fields[field]
		if !ok || ref == nil {
			continue
		}
		if e.Media == nil {
			doc.Fields[field] = nil
			continue
		}
		rc, err := e.Media.Get(ctx, fmt.Sprint(ref))
		if err != nil {
			if errors.Is(err, media.ErrNotFound) {
				doc.Fields[field] = nil
				continue
			}
			return fmt.Errorf("reading media field %q: %w", field, err)
		}
		payload, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("reading media field %q: %w", field, err)
		}
		doc.Fields[field] = base64.StdEncoding.EncodeToString(payload)
	}
	return nil
}

// resolveEmbeddedFields produces the validated, deterministic set of field
// names to expand: the client's embedding clause unioned with the resource's
// default embedded fields, filtered to fields whose schema relation is
// flagged embeddable. Unknown or non-embeddable names are silently dropped;
// a malformed clause is a client error.
func (e *Engine) resolveEmbeddedFields(def *resource.Definition, req *request.Request) ([]string, *Response) {
	requested := map[string]bool{}

	if req.Embedded != "" {
		var clause map[string]any
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(req.Embedded, &clause); err != nil {
			return nil, badRequest("unable to parse `embedded` clause")
		}
		for field, v := range clause {
			if n, ok := v.(float64); ok && n == 1 {
				requested[field] = true
			}
		}
	}

	for _, field := range def.EmbeddedFields {
		requested[field] = true
	}

	var enabled []string
	for field := range requested {
		if _, ok := def.EmbeddableRelation(field); ok {
			enabled = append(enabled, field)
		}
	}
	sort.Strings(enabled)
	return enabled, nil
}

// resolveEmbeddedDocuments expands each resolved field by fetching the
// referenced document from the related resource. Only a single level of
// nesting is supported; an unresolvable reference keeps its original value.
func (e *Engine) resolveEmbeddedDocuments(ctx context.Context, doc *document.Document, def *resource.Definition, embedded []string) error {
	for _, field := range embedded {
		rel, ok := def.EmbeddableRelation(field)
		if !ok {
			continue
		}
		ref, ok := doc.Fields[field]
		if !ok || ref == nil {
			continue
		}
		related, err := e.Store.FindOne(ctx, rel.Resource, nil, storage.Lookup{document.IDField: ref})
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("embedding field %q: %w", field, err)
		}
		doc.Fields[field] = related
	}
	return nil
}
