// Package document defines the document entity exchanged between the storage
// layer and the fetch engine.
//
// A document is a loosely-shaped bag of domain fields plus a set of reserved
// metadata slots (identity, timestamps, ETag, version numbers, hypermedia
// links). The reserved slots are modeled as typed struct fields so the engine
// never has to fish them out of the field map, while Fields stays an open
// map[string]any to preserve schema flexibility.
package document

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/hashicorp-forge/tome/pkg/hypermedia"
)

// Reserved wire keys. These names are part of the response contract and of
// the stored representation of version deltas.
const (
	IDField            = "_id"
	CreatedField       = "_created"
	UpdatedField       = "_updated"
	ETagField          = "_etag"
	VersionField       = "_version"
	LatestVersionField = "_latest_version"
	LinksField         = "_links"
	ItemsField         = "_items"
)

// wireTimeFormat is RFC 1123 with an explicit GMT zone, the format used for
// timestamps in response bodies and in ETag payloads.
const wireTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Document is a single stored document plus its derived response metadata.
//
// Storage adapters populate ID, Created, Updated, Version and Fields. The
// remaining slots (ETag, LatestVersion, Links) are derived during response
// enrichment and are never read back from storage.
type Document struct {
	ID      string
	Created time.Time
	Updated time.Time

	// ETag is the content-derived conditional-matching token. Populated
	// during enrichment iff conditional matching is enabled.
	ETag string

	// Version and LatestVersion are resolved during enrichment when the
	// resource has versioning enabled. Zero means "not resolved"; a stored
	// document that predates versioning resolves to version 1.
	Version       int
	LatestVersion int

	// Links holds the document-level hypermedia links. Populated iff the
	// resource enables hypermedia.
	Links hypermedia.Links

	// Fields holds the domain fields of the document, of any shape.
	Fields map[string]any
}

// New returns a document with the given identity and fields. A nil fields map
// is replaced with an empty one.
func New(id string, fields map[string]any) *Document {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Document{ID: id, Fields: fields}
}

// FromMap builds a document from a stored field map, extracting the reserved
// keys into their typed slots. Timestamp values may be time.Time, RFC-style
// strings of any common layout, or Unix-second numbers.
func FromMap(m map[string]any) (*Document, error) {
	doc := New("", nil)
	for k, v := range m {
		switch k {
		case IDField:
			doc.ID = fmt.Sprint(v)
		case CreatedField:
			t, err := ParseTime(v)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", CreatedField, err)
			}
			doc.Created = t
		case UpdatedField:
			t, err := ParseTime(v)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", UpdatedField, err)
			}
			doc.Updated = t
		case VersionField:
			n, err := toInt(v)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", VersionField, err)
			}
			doc.Version = n
		case ETagField, LatestVersionField, LinksField:
			// Derived slots are never read back from stored data.
		default:
			doc.Fields[k] = v
		}
	}
	return doc, nil
}

// Epoch is the sentinel "never modified" timestamp.
func Epoch() time.Time {
	return time.Unix(0, 0).UTC()
}

// ResolveTimestamps stamps missing creation and update timestamps with the
// epoch sentinel so every document returned to a caller carries both.
func (d *Document) ResolveTimestamps() {
	if d.Created.IsZero() {
		d.Created = Epoch()
	}
	if d.Updated.IsZero() {
		d.Updated = Epoch()
	}
}

// Copy returns a deep copy of the document. Nested maps, slices and embedded
// documents inside Fields are copied as well; the copy shares no mutable
// state with the original.
func (d *Document) Copy() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Links = d.Links.Copy()
	out.Fields = make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		out.Fields[k] = CopyValue(v)
	}
	return &out
}

// CopyValue deep-copies a document field value. Values are the usual
// JSON-shaped kinds (maps, slices, scalars) plus embedded documents.
func CopyValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			out[k] = CopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = CopyValue(e)
		}
		return out
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	case *Document:
		return vv.Copy()
	default:
		return v
	}
}

// WireTime formats a timestamp the way it appears in response bodies.
func WireTime(t time.Time) string {
	return t.UTC().Format(wireTimeFormat)
}

// ParseTime converts a stored timestamp value into a time.Time. Strings are
// parsed with dateparse so adapters do not have to agree on a single layout;
// numbers are treated as Unix seconds.
func ParseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, nil
		}
		return *t, nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		return dateparse.ParseAny(t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported integer type %T", v)
	}
}

// MarshalJSON renders the document in its wire shape: reserved keys merged
// with the domain fields, timestamps in RFC 1123 GMT. Key order is
// deterministic (sorted).
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+7)
	for k, v := range d.Fields {
		out[k] = v
	}
	if d.ID != "" {
		out[IDField] = d.ID
	}
	if !d.Created.IsZero() {
		out[CreatedField] = WireTime(d.Created)
	}
	if !d.Updated.IsZero() {
		out[UpdatedField] = WireTime(d.Updated)
	}
	if d.ETag != "" {
		out[ETagField] = d.ETag
	}
	if d.Version > 0 {
		out[VersionField] = d.Version
	}
	if d.LatestVersion > 0 {
		out[LatestVersionField] = d.LatestVersion
	}
	if len(d.Links) > 0 {
		out[LinksField] = d.Links
	}
	return MarshalCanonical(out)
}
