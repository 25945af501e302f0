package attach

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"
)

// Storage stores blobs under caller-influenced ids. Implementations are
// keyed by name in a Registry; conventionally "cache" holds fresh
// uploads awaiting promotion and "store" holds finalized ones, though
// any number of tiers can be registered.
type Storage interface {
	// Upload stores r under id, returning the id actually used and any
	// metadata the storage learned while writing (for example the byte
	// count).
	Upload(ctx context.Context, r io.Reader, id string, meta Metadata) (string, Metadata, error)

	// Open returns the content of a stored object. Opening an id that
	// does not exist returns an error wrapping io/fs.ErrNotExist.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// Exists reports whether id is present.
	Exists(ctx context.Context, id string) (bool, error)

	// Delete removes id. Deleting an id that does not exist is not an
	// error.
	Delete(ctx context.Context, id string) error

	// URL resolves id to an address a client can fetch.
	URL(ctx context.Context, id string, opts URLOptions) (string, error)
}

// URLOptions influence how a storage resolves URLs.
type URLOptions struct {
	// Expiry bounds the life of a signed URL, where the storage signs.
	Expiry time.Duration
	// Filename suggests a download filename, where the storage can
	// attach a content disposition.
	Filename string
}

// A PresignedUpload describes a direct-to-storage upload a client can
// perform without routing bytes through this process.
type PresignedUpload struct {
	ID      string            `json:"id"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Presigner is implemented by storages that can authorize direct
// uploads.
type Presigner interface {
	PresignUpload(ctx context.Context, id string, expiry time.Duration) (*PresignedUpload, error)
}

// Lister is implemented by storages that can enumerate their objects.
// The cache sweeper needs it to find expired uploads.
type Lister interface {
	// List calls fn for every stored object. An error from fn stops the
	// walk and is returned.
	List(ctx context.Context, fn func(id string, modified time.Time, size int64) error) error
}

// A Registry maps storage keys to Storage implementations. Build one at
// startup and pass it to every consumer; there is no process-global
// registry.
type Registry struct {
	storages map[string]Storage
}

func NewRegistry() *Registry {
	return &Registry{storages: make(map[string]Storage)}
}

// Register adds s under key, replacing any previous registration.
func (r *Registry) Register(key string, s Storage) {
	r.storages[key] = s
}

// Lookup returns the storage registered under key.
func (r *Registry) Lookup(key string) (Storage, error) {
	s, ok := r.storages[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, key)
	}
	return s, nil
}

// Keys returns the registered storage keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.storages))
	for k := range r.storages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
