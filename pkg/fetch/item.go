package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/hypermedia"
	"github.com/hashicorp-forge/tome/pkg/request"
	"github.com/hashicorp-forge/tome/pkg/resource"
	"github.com/hashicorp-forge/tome/pkg/storage"
	"github.com/hashicorp-forge/tome/pkg/versioning"
)

// Item retrieves the single document matching the lookup.
//
// On a versioned resource the request's version selector chooses what comes
// back: a specific historical version synthesized from the latest document
// and its stored delta, every version ("all"), or every version as a
// sequence of field-level diffs ("diffs"). Conditional checks run against
// the document actually being returned, after enrichment, with the ETag
// check ahead of if-modified-since since modification dates carry only
// one-second resolution.
func (e *Engine) Item(ctx context.Context, resourceName string, req *request.Request, lookup storage.Lookup) (*Response, error) {
	def, ok := e.Config.resource(resourceName)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", resourceName)
	}
	req = req.Copy()

	embedded, errResp := e.resolveEmbeddedFields(def, req)
	if errResp != nil {
		return errResp, nil
	}

	doc, err := e.Store.FindOne(ctx, resourceName, req, lookup)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound(), nil
		}
		return nil, fmt.Errorf("fetching %q item: %w", resourceName, err)
	}

	// Snapshot the fetched document before any transformation; it is the
	// common base for every version synthesis in this request.
	latest := doc.Copy()

	returnAllVersions := false
	var latestRef *document.Document

	if def.Versioning && req.Version != "" {
		switch req.Version {
		case "all", "diffs":
			returnAllVersions = true
		default:
			n, convErr := strconv.Atoi(req.Version)
			if convErr != nil || n <= 0 {
				return badRequest("document version number should be an int greater than 0"), nil
			}

			delta, err := e.Store.FindOne(ctx, def.VersionsResource(), nil, storage.Lookup{
				versioning.DocumentRefField: doc.ID,
				document.VersionField:       n,
			})
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return notFound(), nil
				}
				return nil, fmt.Errorf("fetching %q version %d: %w", resourceName, n, err)
			}
			doc = versioning.Synthesize(latest, delta, def)
			latestRef = latest
		}
	}

	if err := e.enrichDocument(ctx, doc, def, embedded, latestRef); err != nil {
		return nil, err
	}

	lastModified := doc.Updated

	// Facilitate client caching by returning a 304 when appropriate.
	if e.Config.ConditionalMatch && req.IfNoneMatch != "" && doc.ETag == req.IfNoneMatch {
		return &Response{
			LastModified: &lastModified,
			ETag:         doc.ETag,
			Status:       http.StatusNotModified,
		}, nil
	}
	if req.IfModifiedSince != nil && !lastModified.After(*req.IfModifiedSince) {
		return &Response{
			LastModified: &lastModified,
			ETag:         doc.ETag,
			Status:       http.StatusNotModified,
		}, nil
	}

	var body any
	if returnAllVersions {
		items, err := e.allVersions(ctx, def, req, latest, embedded)
		if err != nil {
			return nil, err
		}
		// Notification hooks are skipped entirely in this mode.
		if def.Hateoas {
			body = &Envelope{Items: items}
		} else {
			body = items
		}
	} else {
		e.Hooks.FireFetchItem(resourceName, doc.ID, doc)
		body = doc
	}

	if def.Hateoas {
		collectionLink := hypermedia.Link{
			Title: def.ResourceTitle,
			Href:  hypermedia.ResourceURI(e.Config.BaseURL, def.URL),
		}
		parentLink := hypermedia.Home(e.Config.BaseURL)

		switch b := body.(type) {
		case *Envelope:
			if b.Links == nil {
				b.Links = hypermedia.Links{}
			}
			b.Links["collection"] = collectionLink
			b.Links["parent"] = parentLink
		case *document.Document:
			if b.Links == nil {
				b.Links = hypermedia.Links{}
			}
			b.Links["collection"] = collectionLink
			b.Links["parent"] = parentLink
		}
	}

	return &Response{
		Body:         body,
		LastModified: &lastModified,
		ETag:         doc.ETag,
		Status:       http.StatusOK,
	}, nil
}

// allVersions synthesizes every stored version of the document from the
// shared latest base. In diffs mode deltas are forced into ascending version
// order and each element after the first is the field-level diff against the
// previous synthesized version; that sequence is order-dependent and runs
// strictly sequentially.
func (e *Engine) allVersions(ctx context.Context, def *resource.Definition, req *request.Request, latest *document.Document, embedded []string) ([]any, error) {
	vreq := req.Copy()
	if req.Version == "diffs" {
		vreq.Sort = []request.SortField{{Field: document.VersionField}}
	}

	cursor, err := e.Store.Find(ctx, def.VersionsResource(), vreq, storage.Lookup{
		versioning.DocumentRefField: latest.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("querying versions of %q: %w", def.Name, err)
	}

	items := []any{}
	var prior *document.Document
	for i, delta := range cursor.All() {
		synthesized := versioning.Synthesize(latest, delta, def)
		if err := e.enrichDocument(ctx, synthesized, def, embedded, latest); err != nil {
			return nil, err
		}
		if req.Version == "diffs" {
			if i == 0 {
				items = append(items, synthesized)
			} else {
				items = append(items, versioning.Diff(def, prior, synthesized))
			}
			prior = synthesized
		} else {
			items = append(items, synthesized)
		}
	}
	return items, nil
}
