// Package remote attaches files fetched from URLs: the fetched bytes
// land in cache storage exactly as a direct upload would, ready to
// assign to a record.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"

	"github.com/carlmjohnson/requests"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/media"
)

// DefaultMaxSize bounds a fetched file unless overridden.
const DefaultMaxSize = 10 << 20

// ErrTooLarge reports a remote file over the fetcher's size cap.
var ErrTooLarge = errors.New("remote file too large")

// A Fetcher downloads remote URLs into a cache storage.
type Fetcher struct {
	registry *attach.Registry
	cache    string
	namer    attach.Namer
	maxSize  int64
	client   *http.Client
}

type Option func(*Fetcher)

// WithMaxSize caps the size of a fetched file.
func WithMaxSize(n int64) Option {
	return func(f *Fetcher) { f.maxSize = n }
}

// WithClient sets the HTTP client used for fetching.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithNamer sets the upload location strategy.
func WithNamer(n attach.Namer) Option {
	return func(f *Fetcher) { f.namer = n }
}

// NewFetcher returns a Fetcher uploading into the storage registered
// under cache.
func NewFetcher(registry *attach.Registry, cache string, opts ...Option) *Fetcher {
	f := &Fetcher{
		registry: registry,
		cache:    cache,
		namer:    attach.RandomNamer(),
		maxSize:  DefaultMaxSize,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawurl into the cache storage and returns the file,
// with the remote filename and sniffed content metadata attached. A
// remote 404 or 410 comes back wrapping fs.ErrNotExist.
func (f *Fetcher) Fetch(ctx context.Context, rawurl string) (*attach.UploadedFile, error) {
	var buf bytes.Buffer
	err := requests.
		URL(rawurl).
		Client(f.client).
		CheckStatus(http.StatusOK).
		ToWriter(&capWriter{max: f.maxSize, w: &buf}).
		Fetch(ctx)
	switch {
	case err == nil:
	case requests.HasStatusErr(err, http.StatusNotFound, http.StatusGone):
		return nil, fmt.Errorf("fetch %s: %w: %w", rawurl, fs.ErrNotExist, err)
	default:
		return nil, fmt.Errorf("fetch %s: %w", rawurl, err)
	}

	meta, content, err := media.Extract(&buf)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawurl, err)
	}
	if name := remoteFilename(rawurl); name != "" {
		meta["filename"] = name
	}

	id := f.namer.Name(meta, nil)
	return attach.Upload(ctx, f.registry, f.cache, content, id, meta)
}

// remoteFilename extracts a usable filename from the URL path, if any.
func remoteFilename(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// capWriter fails a copy that exceeds max bytes.
type capWriter struct {
	n   int64
	max int64
	w   io.Writer
}

func (c *capWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	if c.n > c.max {
		return 0, fmt.Errorf("%w: over %d bytes", ErrTooLarge, c.max)
	}
	return c.w.Write(p)
}
