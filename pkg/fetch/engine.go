// Package fetch is the document-retrieval and response-assembly engine. It
// answers the two read shapes of a schema-driven REST layer, listing
// documents matching a query and fetching one document by identity, and owns the
// per-document transformation pipeline that turns stored documents into
// conformant, cacheable, link-annotated representations: conditional-GET
// evaluation, pagination link synthesis, field embedding, historical version
// reconstruction and fetch-event notification.
//
// The engine is request-scoped and stateless between calls. Configuration is
// an immutable snapshot taken at construction; the storage and media
// collaborators are assumed individually safe for concurrent use.
package fetch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/hooks"
	"github.com/hashicorp-forge/tome/pkg/hypermedia"
	"github.com/hashicorp-forge/tome/pkg/media"
	"github.com/hashicorp-forge/tome/pkg/resource"
	"github.com/hashicorp-forge/tome/pkg/storage"
)

// Config is the immutable engine configuration snapshot.
type Config struct {
	// BaseURL is the canonical API root used when building link hrefs.
	BaseURL string

	// ConditionalMatch enables content-derived ETags and if-none-match
	// evaluation for the whole deployment.
	ConditionalMatch bool

	// Resources maps resource names to their definitions.
	Resources map[string]*resource.Definition
}

// Validate normalizes every resource definition and aggregates their
// configuration errors.
func (c *Config) Validate() error {
	var result *multierror.Error
	if len(c.Resources) == 0 {
		result = multierror.Append(result, fmt.Errorf("no resources configured"))
	}
	for name, def := range c.Resources {
		if def == nil {
			result = multierror.Append(result, fmt.Errorf("resource %q: nil definition", name))
			continue
		}
		if def.Name == "" {
			def.Name = name
		}
		def.Normalize()
		if err := def.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("resource %q: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) resource(name string) (*resource.Definition, bool) {
	def, ok := c.Resources[name]
	return def, ok
}

// Engine coordinates the fetch pipeline. Construct with New.
type Engine struct {
	// Store is the document storage collaborator.
	Store storage.Store

	// Media is the blob-store collaborator for media fields. May be nil
	// when no resource declares media fields.
	Media media.Store

	// Hooks is the fetch-event notification registry. May be nil.
	Hooks *hooks.Registry

	// Config is the immutable configuration snapshot.
	Config *Config

	// Logger is the logger for the engine.
	Logger hclog.Logger
}

// New validates the configuration and returns a ready engine.
func New(cfg *Config, store storage.Store, mediaStore media.Store, reg *hooks.Registry, log hclog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if store == nil {
		return nil, fmt.Errorf("nil storage collaborator")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Engine{
		Store:  store,
		Media:  mediaStore,
		Hooks:  reg,
		Config: cfg,
		Logger: log,
	}, nil
}

// Response is what the engine hands back to the transport layer for a single
// call: body, cache validators and status code. Transport framing itself is
// out of scope.
type Response struct {
	// Body is the response payload: a *document.Document, a bare document
	// list, an *Envelope, or an error document. Nil on 304 and 404.
	Body any

	// LastModified is the response modification timestamp, nil when no
	// document exceeded the epoch sentinel.
	LastModified *time.Time

	// ETag is the conditional-matching token; empty for collections and
	// when conditional matching is disabled.
	ETag string

	// Status is the HTTP status code: 200, 304, 400 or 404.
	Status int
}

// Envelope is the hypermedia-wrapped collection body.
type Envelope struct {
	Items []any
	Links hypermedia.Links

	// Extra holds collaborator-injected response data, merged into the
	// serialized object at the top level.
	Extra map[string]any
}

// MarshalJSON renders the envelope with the reserved items and links keys
// plus any extra data, in deterministic key order.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2+len(e.Extra))
	for k, v := range e.Extra {
		out[k] = v
	}
	items := e.Items
	if items == nil {
		items = []any{}
	}
	out[document.ItemsField] = items
	if len(e.Links) > 0 {
		out[document.LinksField] = e.Links
	}
	return document.MarshalCanonical(out)
}

// errorDocument is the body shape of client-error responses.
func errorDocument(code int, message string) map[string]any {
	return map[string]any{
		"_status": "ERR",
		"_error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

func badRequest(message string) *Response {
	return &Response{
		Body:   errorDocument(http.StatusBadRequest, message),
		Status: http.StatusBadRequest,
	}
}

func notFound() *Response {
	return &Response{Status: http.StatusNotFound}
}
