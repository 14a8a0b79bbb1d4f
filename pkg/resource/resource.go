// Package resource holds the per-resource configuration the engine consumes:
// schema metadata (field definitions, relations, media and versioned-field
// markers), feature toggles (hypermedia, versioning, pagination), display
// titles and the public lookup field.
//
// Definitions are built programmatically, normalized once, validated up
// front, and treated as read-only afterwards; they are safe for concurrent
// reads.
package resource

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/hashicorp-forge/tome/pkg/document"
)

// VersionsSuffix names the shadow resource that stores version deltas for a
// versioned resource ("things" -> "things_versions").
const VersionsSuffix = "_versions"

// MediaFieldType marks a schema field whose value is an opaque media
// reference resolved against the blob store during enrichment.
const MediaFieldType = "media"

// Relation declares that a field holds a foreign-key-style reference to a
// document of another resource.
type Relation struct {
	// Resource is the name of the related resource.
	Resource string

	// Embeddable allows callers to request expansion of this reference
	// into the referenced document.
	Embeddable bool
}

// FieldDefinition is the schema metadata for a single field. Validation of
// field values is out of scope here; only the metadata the fetch pipeline
// needs is modeled.
type FieldDefinition struct {
	// Type is the declared field type. Only MediaFieldType is significant
	// to the fetch pipeline.
	Type string

	// Versioned marks whether the field's historical values are tracked
	// across document versions. Nil means versioned.
	Versioned *bool

	// Relation, when set, declares a reference to another resource.
	Relation *Relation
}

// Definition is the full per-resource configuration.
type Definition struct {
	// Name is the resource name, unique within a Config.
	Name string

	// ResourceTitle and ItemTitle are the human-readable titles used in
	// hypermedia links. Defaulted from Name by Normalize.
	ResourceTitle string
	ItemTitle     string

	// URL is the resource path segment under the API root. Defaults to
	// Name.
	URL string

	// ItemLookupField is the public lookup key used to build self links.
	// Defaults to the identity field.
	ItemLookupField string

	// Feature toggles.
	Hateoas    bool
	Versioning bool
	Pagination bool

	// EmbeddedFields are expanded by default, without the client asking.
	EmbeddedFields []string

	// Schema maps field names to their definitions.
	Schema map[string]FieldDefinition
}

// Normalize fills in defaulted configuration. It is idempotent and must be
// called before the definition is used.
func (d *Definition) Normalize() {
	if d.URL == "" {
		d.URL = d.Name
	}
	if d.ResourceTitle == "" {
		d.ResourceTitle = d.Name
	}
	if d.ItemTitle == "" {
		d.ItemTitle = strings.TrimSuffix(d.Name, "s")
	}
	if d.ItemLookupField == "" {
		d.ItemLookupField = document.IDField
	}
	if d.Schema == nil {
		d.Schema = map[string]FieldDefinition{}
	}
}

// Validate checks the definition for configuration mistakes that would
// otherwise surface as confusing behavior at fetch time.
func (d *Definition) Validate() error {
	if err := validation.ValidateStruct(d,
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.URL, validation.Required),
		validation.Field(&d.ItemLookupField, validation.Required),
	); err != nil {
		return err
	}
	for name, fd := range d.Schema {
		if fd.Relation != nil && fd.Relation.Resource == "" {
			return fmt.Errorf("field %q: relation is missing a target resource", name)
		}
	}
	for _, name := range d.EmbeddedFields {
		if _, ok := d.Schema[name]; !ok {
			return fmt.Errorf("default embedded field %q is not in the schema", name)
		}
	}
	return nil
}

// VersionsResource returns the name of the shadow resource holding this
// resource's version deltas.
func (d *Definition) VersionsResource() string {
	return d.Name + VersionsSuffix
}

// VersionedFields returns the schema fields subject to historical tracking.
func (d *Definition) VersionedFields() []string {
	fields := make([]string, 0, len(d.Schema))
	for name, fd := range d.Schema {
		if fd.Versioned == nil || *fd.Versioned {
			fields = append(fields, name)
		}
	}
	return fields
}

// MediaFields returns the schema fields declared as media references.
func (d *Definition) MediaFields() []string {
	var fields []string
	for name, fd := range d.Schema {
		if fd.Type == MediaFieldType {
			fields = append(fields, name)
		}
	}
	return fields
}

// EmbeddableRelation returns the relation for a field iff the field exists in
// the schema and its relation is flagged embeddable.
func (d *Definition) EmbeddableRelation(field string) (*Relation, bool) {
	fd, ok := d.Schema[field]
	if !ok || fd.Relation == nil || !fd.Relation.Embeddable {
		return nil, false
	}
	return fd.Relation, true
}
