package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// FileStore serves blobs from a filesystem rooted at a directory. Backed by
// afero, so tests run on an in-memory filesystem and production can use the
// OS filesystem or any other afero backend.
type FileStore struct {
	fs     afero.Fs
	root   string
	logger hclog.Logger
}

// NewFileStore returns a store reading blobs under root on the given
// filesystem. A nil filesystem defaults to the OS filesystem.
func NewFileStore(fs afero.Fs, root string, log hclog.Logger) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &FileStore{fs: fs, root: root, logger: log}
}

// Get implements Store. References are confined to the root directory; a
// reference carrying path separators resolves to its base name only.
func (s *FileStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	name := path.Join(s.root, path.Base(ref))
	f, err := s.fs.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening blob %q: %w", ref, err)
	}
	return f, nil
}

// Put writes a blob under the reference, creating the root directory if
// needed. Used for seeding stores in tests and tooling.
func (s *FileStore) Put(ctx context.Context, ref string, r io.Reader) error {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("creating media root: %w", err)
	}
	name := path.Join(s.root, path.Base(ref))
	f, err := s.fs.Create(name)
	if err != nil {
		return fmt.Errorf("creating blob %q: %w", ref, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing blob %q: %w", ref, err)
	}
	return nil
}
