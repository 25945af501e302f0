// Package fs provides a Storage backed by a directory on the local
// filesystem. Object ids map to file paths under the root; ids may
// contain slashes and the corresponding directories are created and
// removed as objects come and go.
package fs

import (
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/affixlabs/affix/attach"
)

// Storage stores objects as plain files. Writes go through a temp file
// in the target directory and a rename, so readers never observe a
// partial object.
type Storage struct {
	root    string
	baseURL string
}

// Option configures a Storage.
type Option func(*Storage)

// WithBaseURL sets the public address objects are served under, used
// by URL instead of the local path.
func WithBaseURL(u string) Option {
	return func(s *Storage) { s.baseURL = strings.TrimSuffix(u, "/") }
}

// New returns a Storage rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Storage, error) {
	root := filepath.Clean(dir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	s := &Storage{root: root}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// path resolves id below the root, rejecting ids that would escape it.
func (s *Storage) path(id string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(id))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: id escapes storage root: %s", attach.ErrMalformedReference, id)
	}
	return p, nil
}

func (s *Storage) Upload(ctx context.Context, r io.Reader, id string, meta attach.Metadata) (string, attach.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	dst, err := s.path(id)
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", nil, fmt.Errorf("create object directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp object: %w", err)
	}
	tmpPath := tmp.Name()
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpPath, 0o644)
	}
	if err == nil {
		err = os.Rename(tmpPath, dst)
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", nil, fmt.Errorf("write object: %w", err)
	}
	return id, attach.Metadata{"size": n}, nil
}

func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	// a missing file surfaces as a *PathError wrapping fs.ErrNotExist
	return os.Open(p)
}

func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	p, err := s.path(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s.prune(filepath.Dir(p))
	return nil
}

// prune removes directories a delete left empty, stopping at the root
// or the first non-empty directory.
func (s *Storage) prune(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *Storage) URL(ctx context.Context, id string, opts attach.URLOptions) (string, error) {
	if s.baseURL != "" {
		return s.baseURL + "/" + id, nil
	}
	return s.path(id)
}

// List walks every stored object. In-flight temp files are skipped.
func (s *Storage) List(ctx context.Context, fn func(id string, modified time.Time, size int64) error) error {
	return filepath.WalkDir(s.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.ModTime(), info.Size())
	})
}
