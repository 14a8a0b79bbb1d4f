package document

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// canonical marshals with sorted map keys so byte output is deterministic for
// a given value, which is what makes content-derived ETags stable.
var canonical = jsoniter.Config{
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// MarshalCanonical serializes v to JSON with deterministic key order.
func MarshalCanonical(v any) ([]byte, error) {
	return canonical.Marshal(v)
}

// ETagPayload returns the document state an ETag is computed over: identity,
// resolved timestamps and the domain fields. Derived slots (etag, links,
// version numbers) and embedded expansions applied later are deliberately
// excluded so the token reflects stored content only.
func (d *Document) ETagPayload() map[string]any {
	out := make(map[string]any, len(d.Fields)+3)
	for k, v := range d.Fields {
		out[k] = v
	}
	if d.ID != "" {
		out[IDField] = d.ID
	}
	out[CreatedField] = WireTime(d.Created)
	out[UpdatedField] = WireTime(d.Updated)
	return out
}

// ETagFor computes the content-derived conditional-matching token for the
// document's current field state.
func ETagFor(d *Document) (string, error) {
	raw, err := MarshalCanonical(d.ETagPayload())
	if err != nil {
		return "", fmt.Errorf("serializing etag payload: %w", err)
	}
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:]), nil
}
