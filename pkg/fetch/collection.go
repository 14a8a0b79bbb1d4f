package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/hypermedia"
	"github.com/hashicorp-forge/tome/pkg/request"
	"github.com/hashicorp-forge/tome/pkg/storage"
)

// Collection retrieves the documents of a resource that match the request.
//
// When the request carries an if-modified-since condition, a one-result probe
// query decides whether anything changed: zero matches on a non-empty
// collection short-circuits to 304 Not Modified. The probe cannot detect
// documents deleted since the client's last fetch; that limitation is
// deliberate and documented behavior. Collections never carry an ETag.
func (e *Engine) Collection(ctx context.Context, resourceName string, req *request.Request, lookup storage.Lookup) (*Response, error) {
	def, ok := e.Config.resource(resourceName)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", resourceName)
	}
	req = req.Copy()

	embedded, errResp := e.resolveEmbeddedFields(def, req)
	if errResp != nil {
		return errResp, nil
	}

	// Facilitate cached responses: has anything changed since the client
	// last asked?
	if req.IfModifiedSince != nil {
		probe := req.Copy()
		probe.MaxResults = 1
		probe.Page = 1

		cursor, err := e.Store.Find(ctx, resourceName, probe, lookup)
		if err != nil {
			return nil, fmt.Errorf("probing %q: %w", resourceName, err)
		}
		if cursor.Count() == 0 {
			empty, err := e.Store.IsEmpty(ctx, resourceName)
			if err != nil {
				return nil, fmt.Errorf("checking emptiness of %q: %w", resourceName, err)
			}
			if !empty {
				// The conditional request matched no documents: the
				// client already holds the up-to-date resultset.
				return &Response{Status: http.StatusNotModified}, nil
			}
		}
	}

	// Continue processing the full request.
	req.IfModifiedSince = nil
	cursor, err := e.Store.Find(ctx, resourceName, req, lookup)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", resourceName, err)
	}

	lastUpdate := document.Epoch()
	docs := cursor.All()
	for _, doc := range docs {
		if err := e.enrichDocument(ctx, doc, def, embedded, nil); err != nil {
			return nil, err
		}
		if doc.Updated.After(lastUpdate) {
			lastUpdate = doc.Updated
		}
	}

	var lastModified *time.Time
	if lastUpdate.After(document.Epoch()) {
		t := lastUpdate
		lastModified = &t
	}

	// Notify registered callbacks. Should they modify the documents, the
	// reported last-modified always reflects the stored state.
	e.Hooks.FireFetchResource(resourceName, docs)

	var body any
	if def.Hateoas {
		items := make([]any, len(docs))
		for i, doc := range docs {
			items[i] = doc
		}
		body = &Envelope{
			Items: items,
			Links: hypermedia.Pagination(
				e.Config.BaseURL, def.URL, def.ResourceTitle,
				def.Pagination, req, cursor.Count(),
			),
		}
	} else {
		body = docs
	}

	if a, ok := cursor.(storage.Annotator); ok {
		a.Annotate(body)
	}

	e.Logger.Debug("collection fetched",
		"resource", resourceName,
		"documents", len(docs),
		"total", cursor.Count(),
	)

	return &Response{
		Body:         body,
		LastModified: lastModified,
		Status:       http.StatusOK,
	}, nil
}
