package storage

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/request"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseWhere interprets a raw filter clause as a JSON object of field
// equality constraints. An empty clause matches everything.
func ParseWhere(where string) (Lookup, error) {
	if where == "" {
		return nil, nil
	}
	var clause map[string]any
	if err := json.UnmarshalFromString(where, &clause); err != nil {
		return nil, fmt.Errorf("parsing where clause: %w", err)
	}
	return Lookup(clause), nil
}

// Match reports whether a document satisfies every constraint of a lookup.
// The reserved identity and version keys match against the typed slots.
func Match(doc *document.Document, lookup Lookup) bool {
	for k, want := range lookup {
		switch k {
		case document.IDField:
			if fmt.Sprint(want) != doc.ID {
				return false
			}
		case document.VersionField:
			n, err := asInt(want)
			if err != nil || n != doc.Version {
				return false
			}
		default:
			got, ok := doc.Fields[k]
			if !ok || !looseEqual(got, want) {
				return false
			}
		}
	}
	return true
}

// ApplyRequest filters, sorts and paginates an adapter's candidate documents
// according to the request descriptor. It returns the page of documents and
// the total match count before pagination. A nil request applies no
// constraints.
func ApplyRequest(docs []*document.Document, req *request.Request) ([]*document.Document, int, error) {
	if req == nil {
		return docs, len(docs), nil
	}

	where, err := ParseWhere(req.Where)
	if err != nil {
		return nil, 0, err
	}

	matched := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		if where != nil && !Match(doc, where) {
			continue
		}
		if req.IfModifiedSince != nil && !doc.Updated.After(*req.IfModifiedSince) {
			continue
		}
		matched = append(matched, doc)
	}

	SortDocuments(matched, req.Sort)

	total := len(matched)
	if req.MaxResults > 0 {
		page := req.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * req.MaxResults
		if start > total {
			start = total
		}
		end := start + req.MaxResults
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}

	return matched, total, nil
}

// SortDocuments orders documents in place by the given sort clause. The sort
// is stable so adapters return deterministic pages.
func SortDocuments(docs []*document.Document, clause []request.SortField) {
	if len(clause) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range clause {
			c := compareField(docs[i], docs[j], s.Field)
			if c == 0 {
				continue
			}
			if s.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareField(a, b *document.Document, field string) int {
	av := fieldValue(a, field)
	bv := fieldValue(b, field)
	if an, aok := toFloat(av); aok {
		if bn, bok := toFloat(bv); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := fmt.Sprint(av), fmt.Sprint(bv)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func fieldValue(doc *document.Document, field string) any {
	switch field {
	case document.IDField:
		return doc.ID
	case document.VersionField:
		return doc.Version
	case document.UpdatedField:
		return doc.Updated.Unix()
	case document.CreatedField:
		return doc.Created.Unix()
	default:
		return doc.Fields[field]
	}
}

// looseEqual compares values the way JSON round-tripping leaves them:
// numbers compare across int/float representations, everything else by deep
// equality.
func looseEqual(a, b any) bool {
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			return an == bn
		}
		return false
	}
	ab, err := document.MarshalCanonical(a)
	if err != nil {
		return false
	}
	bb, err := document.MarshalCanonical(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asInt(v any) (int, error) {
	if n, ok := toFloat(v); ok {
		return int(n), nil
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}
