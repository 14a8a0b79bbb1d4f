// Package hypermedia models the navigational links embedded in response
// bodies (self, parent, collection, next/prev/last) and builds the
// pagination link set for collection responses.
package hypermedia

import (
	"math"
	"strings"

	"github.com/hashicorp-forge/tome/pkg/request"
)

// Link is a single hypermedia reference.
type Link struct {
	Title string `json:"title"`
	Href  string `json:"href"`
}

// Links maps a relation name ("self", "parent", "next", ...) to its link.
type Links map[string]Link

// Copy returns an independent copy of the link set.
func (l Links) Copy() Links {
	if l == nil {
		return nil
	}
	out := make(Links, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Home returns the link to the API root.
func Home(baseURL string) Link {
	return Link{Title: "home", Href: baseURL}
}

// ResourceURI returns the canonical URI of a resource collection.
func ResourceURI(baseURL, resourceURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.Trim(resourceURL, "/")
}

// ItemURI returns the canonical URI of a single document, addressed by the
// value of the resource's public lookup field.
func ItemURI(baseURL, resourceURL, lookup string) string {
	return ResourceURI(baseURL, resourceURL) + "/" + lookup
}

// Pagination builds the link set for a collection response: parent and self
// always, and next/last/prev depending on the current page and the total
// number of matching documents. The last page is computed with real-number
// division before rounding up.
func Pagination(baseURL, resourceURL, resourceTitle string, paginate bool, req *request.Request, count int) Links {
	uri := ResourceURI(baseURL, resourceURL)
	links := Links{
		"parent": Home(baseURL),
		"self":   {Title: resourceTitle, Href: uri},
	}

	if count > 0 && paginate && req.MaxResults > 0 {
		if req.Page*req.MaxResults < count {
			q := request.QueryDef(req.MaxResults, req.Where, req.Sort, req.Page+1)
			links["next"] = Link{Title: "next page", Href: uri + q}

			lastPage := int(math.Ceil(float64(count) / float64(req.MaxResults)))
			q = request.QueryDef(req.MaxResults, req.Where, req.Sort, lastPage)
			links["last"] = Link{Title: "last page", Href: uri + q}
		}

		if req.Page > 1 {
			q := request.QueryDef(req.MaxResults, req.Where, req.Sort, req.Page-1)
			links["prev"] = Link{Title: "previous page", Href: uri + q}
		}
	}

	return links
}
