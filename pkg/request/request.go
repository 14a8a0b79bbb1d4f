// Package request holds the parsed, immutable-per-call description of an
// incoming fetch request, along with the deterministic query-string
// reconstruction used when synthesizing pagination links.
//
// Parsing a raw query string into a Request is the job of the surrounding
// request-parsing layer; this package only defines the structure the engine
// consumes.
package request

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SortField is one element of a sort clause.
type SortField struct {
	Field      string
	Descending bool
}

// Request describes a single fetch call: conditional headers, pagination,
// filter and sort clauses, the raw client-supplied embedding clause, and the
// item version selector.
type Request struct {
	// MaxResults and Page describe pagination. Page is 1-based.
	MaxResults int
	Page       int

	// Where is the raw filter clause, passed through to the storage layer
	// and reproduced verbatim in pagination links.
	Where string

	// Sort is the parsed sort clause.
	Sort []SortField

	// Conditional request headers.
	IfModifiedSince *time.Time
	IfNoneMatch     string

	// Embedded is the raw, possibly malformed, client-supplied embedding
	// clause, e.g. `{"author":1}`.
	Embedded string

	// Version is the item version selector: "all", "diffs", or a positive
	// integer string. Empty means "latest".
	Version string
}

// Copy returns an independent copy of the request. The engine copies before
// clearing conditional headers or capping results so the caller's descriptor
// is never mutated.
func (r *Request) Copy() *Request {
	if r == nil {
		return &Request{}
	}
	out := *r
	if r.IfModifiedSince != nil {
		t := *r.IfModifiedSince
		out.IfModifiedSince = &t
	}
	if r.Sort != nil {
		out.Sort = make([]SortField, len(r.Sort))
		copy(out.Sort, r.Sort)
	}
	return &out
}

// EncodeSort renders a sort clause in the compact form consumed by the
// request parser: comma-joined field names, descending fields prefixed with
// a minus sign.
func EncodeSort(sort []SortField) string {
	parts := make([]string, 0, len(sort))
	for _, s := range sort {
		if s.Descending {
			parts = append(parts, "-"+s.Field)
			continue
		}
		parts = append(parts, s.Field)
	}
	return strings.Join(parts, ",")
}

// QueryDef reconstructs the query string for a pagination link from the
// request parameters and the target page. Encoding goes through url.Values,
// so key order is alphabetical and the output is deterministic and
// round-trippable by the request parser. The page parameter is omitted for
// page one, matching the canonical URI of the first page.
func QueryDef(maxResults int, where string, sort []SortField, page int) string {
	v := url.Values{}
	if maxResults > 0 {
		v.Set("max_results", strconv.Itoa(maxResults))
	}
	if where != "" {
		v.Set("where", where)
	}
	if len(sort) > 0 {
		v.Set("sort", EncodeSort(sort))
	}
	if page > 1 {
		v.Set("page", strconv.Itoa(page))
	}
	q := v.Encode()
	if q == "" {
		return ""
	}
	return "?" + q
}
