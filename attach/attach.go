// Package attach manages the lifecycle of files attached to persistent
// records: upload into temporary cache storage, promotion to permanent
// storage, derivative tracking, and an optimistic persistence protocol
// that lets racing requests and background workers update the same
// record without corrupting each other's work.
package attach

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Metadata carries descriptive properties of an uploaded file, such as
// its filename, size and mime type. Values survive a JSON round trip,
// so numeric entries may come back as float64.
type Metadata map[string]any

// Filename returns the "filename" entry, if any.
func (m Metadata) Filename() string {
	s, _ := m["filename"].(string)
	return s
}

// MIMEType returns the "mime_type" entry, if any.
func (m Metadata) MIMEType() string {
	s, _ := m["mime_type"].(string)
	return s
}

// Size returns the "size" entry, tolerating the numeric types JSON
// decoding produces.
func (m Metadata) Size() int64 {
	switch v := m["size"].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func (m Metadata) clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// merge returns a copy of m with extra's entries layered on top.
func (m Metadata) merge(extra Metadata) Metadata {
	out := make(Metadata, len(m)+len(extra))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// An UploadedFile identifies one blob held by a named storage. It is a
// value: once constructed it is never mutated, and two files are the
// same file iff their storage and id match.
type UploadedFile struct {
	ID       string   `json:"id"`
	Storage  string   `json:"storage"`
	Metadata Metadata `json:"metadata"`
}

// Equal reports whether f and other identify the same stored object.
// Metadata is not part of a file's identity.
func (f *UploadedFile) Equal(other *UploadedFile) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.Storage == other.Storage && f.ID == other.ID
}

func (f *UploadedFile) String() string {
	if f == nil {
		return "<none>"
	}
	return f.Storage + "/" + f.ID
}

func (f *UploadedFile) clone() *UploadedFile {
	if f == nil {
		return nil
	}
	return &UploadedFile{ID: f.ID, Storage: f.Storage, Metadata: f.Metadata.clone()}
}

// UnmarshalJSON rejects references missing their storage or id; bad
// attachment data must surface, not decay into an empty attachment.
func (f *UploadedFile) UnmarshalJSON(data []byte) error {
	type plain UploadedFile
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedReference)
	}
	if p.Storage == "" {
		return fmt.Errorf("%w: missing storage", ErrMalformedReference)
	}
	*f = UploadedFile(p)
	return nil
}

// Open returns the file's content stream, read from its own storage.
func (f *UploadedFile) Open(ctx context.Context, reg *Registry) (io.ReadCloser, error) {
	s, err := reg.Lookup(f.Storage)
	if err != nil {
		return nil, err
	}
	rc, err := s.Open(ctx, f.ID)
	if err != nil {
		return nil, &StorageError{Storage: f.Storage, Op: "open", ID: f.ID, Err: err}
	}
	return rc, nil
}

// Exists reports whether the file's object is still present in its storage.
func (f *UploadedFile) Exists(ctx context.Context, reg *Registry) (bool, error) {
	s, err := reg.Lookup(f.Storage)
	if err != nil {
		return false, err
	}
	ok, err := s.Exists(ctx, f.ID)
	if err != nil {
		return false, &StorageError{Storage: f.Storage, Op: "exists", ID: f.ID, Err: err}
	}
	return ok, nil
}

// URL resolves the file's address through its storage.
func (f *UploadedFile) URL(ctx context.Context, reg *Registry, opts URLOptions) (string, error) {
	s, err := reg.Lookup(f.Storage)
	if err != nil {
		return "", err
	}
	u, err := s.URL(ctx, f.ID, opts)
	if err != nil {
		return "", &StorageError{Storage: f.Storage, Op: "url", ID: f.ID, Err: err}
	}
	return u, nil
}

// UploadTo copies f's content into the storage named dst under id,
// returning the file that results. The source object is left in place;
// metadata carries over, extended by whatever dst reports.
func (f *UploadedFile) UploadTo(ctx context.Context, reg *Registry, dst, id string) (*UploadedFile, error) {
	to, err := reg.Lookup(dst)
	if err != nil {
		return nil, err
	}
	rc, err := f.Open(ctx, reg)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	finalID, extra, err := to.Upload(ctx, rc, id, f.Metadata.clone())
	if err != nil {
		return nil, &StorageError{Storage: dst, Op: "upload", ID: id, Err: err}
	}
	return &UploadedFile{ID: finalID, Storage: dst, Metadata: f.Metadata.merge(extra)}, nil
}

// Upload stores fresh content in the storage registered under key,
// returning the file that results. Moving an existing file between
// tiers goes through UploadedFile.UploadTo instead.
func Upload(ctx context.Context, reg *Registry, key string, content io.Reader, id string, meta Metadata) (*UploadedFile, error) {
	s, err := reg.Lookup(key)
	if err != nil {
		return nil, err
	}
	finalID, extra, err := s.Upload(ctx, content, id, meta.clone())
	if err != nil {
		return nil, &StorageError{Storage: key, Op: "upload", ID: id, Err: err}
	}
	return &UploadedFile{ID: finalID, Storage: key, Metadata: meta.merge(extra)}, nil
}

// DeleteFrom removes f's object from its storage. Deleting a file whose
// object is already gone is not an error.
func (f *UploadedFile) DeleteFrom(ctx context.Context, reg *Registry) error {
	if f == nil {
		return nil
	}
	s, err := reg.Lookup(f.Storage)
	if err != nil {
		return err
	}
	if err := s.Delete(ctx, f.ID); err != nil {
		return &StorageError{Storage: f.Storage, Op: "delete", ID: f.ID, Err: err}
	}
	return nil
}
