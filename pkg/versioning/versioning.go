// Package versioning reconstructs historical document versions from the
// latest document plus stored deltas, resolves version numbers during
// enrichment, and computes field-level diffs between synthesized versions.
//
// A delta is a full-value snapshot of the versioned fields as of one version,
// not a patch: synthesis replaces the versioned fields wholesale, so a field
// that was absent in the recorded version stays absent even if the latest
// document carries it.
package versioning

import (
	"reflect"

	"github.com/hashicorp-forge/tome/pkg/document"
	"github.com/hashicorp-forge/tome/pkg/resource"
)

// DocumentRefField is the delta field referencing the base document's
// identity.
const DocumentRefField = "_id_document"

// Synthesize produces the document state as of the delta's version: a deep
// copy of the latest document with every versioned field stripped and the
// delta's fields merged in. The latest argument is never mutated; the same
// object is the common base for repeated synthesis across a diff sequence.
func Synthesize(latest, delta *document.Document, def *resource.Definition) *document.Document {
	old := latest.Copy()
	for _, field := range def.VersionedFields() {
		delete(old.Fields, field)
	}
	for k, v := range delta.Fields {
		if k == DocumentRefField {
			continue
		}
		old.Fields[k] = document.CopyValue(v)
	}
	old.Version = delta.Version
	if !delta.Updated.IsZero() {
		old.Updated = delta.Updated
	}
	old.ETag = ""
	old.LatestVersion = 0
	old.Links = nil
	return old
}

// ResolveDocumentVersion attaches version numbers to a document being
// prepared for response. With a nil latest reference the document itself is
// the latest representation; otherwise the document is a synthesized older
// version and the latest version number comes from the reference. Documents
// that predate versioning resolve to version 1.
func ResolveDocumentVersion(doc *document.Document, def *resource.Definition, latest *document.Document) {
	if !def.Versioning {
		return
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if latest == nil {
		doc.LatestVersion = doc.Version
		return
	}
	lv := latest.Version
	if lv == 0 {
		lv = 1
	}
	doc.LatestVersion = lv
}

// Diff returns the field-level difference between two synthesized versions of
// the same document: every versioned field of current that is absent from or
// different in prior, plus any reserved metadata that changed. Non-versioned
// fields are inherited from the shared latest base and can never differ.
func Diff(def *resource.Definition, prior, current *document.Document) map[string]any {
	diff := map[string]any{}
	for _, field := range def.VersionedFields() {
		cv, ok := current.Fields[field]
		if !ok {
			continue
		}
		pv, had := prior.Fields[field]
		if !had || !reflect.DeepEqual(pv, cv) {
			diff[field] = cv
		}
	}
	if current.ID != prior.ID {
		diff[document.IDField] = current.ID
	}
	if current.Version != prior.Version {
		diff[document.VersionField] = current.Version
	}
	if current.LatestVersion != prior.LatestVersion {
		diff[document.LatestVersionField] = current.LatestVersion
	}
	if !current.Created.Equal(prior.Created) {
		diff[document.CreatedField] = document.WireTime(current.Created)
	}
	if !current.Updated.Equal(prior.Updated) {
		diff[document.UpdatedField] = document.WireTime(current.Updated)
	}
	if current.ETag != prior.ETag && current.ETag != "" {
		diff[document.ETagField] = current.ETag
	}
	return diff
}
