// Package memory provides a Storage held entirely in process memory,
// for tests and ephemeral setups.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/affixlabs/affix/attach"
)

// Storage keeps objects in a map. It is safe for concurrent use.
type Storage struct {
	mu      sync.Mutex
	objects map[string]object
}

type object struct {
	data     []byte
	modified time.Time
}

func New() *Storage {
	return &Storage{objects: make(map[string]object)}
}

func (s *Storage) Upload(ctx context.Context, r io.Reader, id string, meta attach.Metadata) (string, attach.Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = object{data: data, modified: time.Now()}
	return id, attach.Metadata{"size": int64(len(data))}, nil
}

func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	s.mu.Lock()
	obj, ok := s.objects[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	return ok, nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
	return nil
}

func (s *Storage) URL(ctx context.Context, id string, opts attach.URLOptions) (string, error) {
	return "memory:" + id, nil
}

// List walks the stored objects in id order.
func (s *Storage) List(ctx context.Context, fn func(id string, modified time.Time, size int64) error) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snapshot := make(map[string]object, len(ids))
	for _, id := range ids {
		snapshot[id] = s.objects[id]
	}
	s.mu.Unlock()
	for _, id := range ids {
		obj := snapshot[id]
		if err := fn(id, obj.modified, int64(len(obj.data))); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored objects.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
