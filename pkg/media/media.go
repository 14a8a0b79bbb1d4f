// Package media defines the blob-store collaborator the engine reads media
// fields from, plus a filesystem-backed implementation.
package media

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no blob exists for the reference.
// A missing blob is not a fetch error; the engine renders the media field as
// null.
var ErrNotFound = errors.New("media: blob not found")

// Store returns readable byte streams by opaque media reference.
type Store interface {
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
}
