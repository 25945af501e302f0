package attach

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// A Snapshot is the serializable state of one attachment: the original
// file, or nil when nothing is attached, plus its derivatives. It is
// the exact value persisted into the host record's attachment column
// and carried in background job payloads.
type Snapshot struct {
	File        *UploadedFile
	Derivatives *Derivatives
}

// Empty reports whether no file is attached.
func (s Snapshot) Empty() bool { return s.File == nil }

// Contains reports whether f matches the snapshot's file or one of its
// derivatives, by identity.
func (s Snapshot) Contains(f *UploadedFile) bool {
	if s.File.Equal(f) {
		return true
	}
	found := false
	s.Derivatives.Each(func(_ string, d *UploadedFile) error {
		if d.Equal(f) {
			found = true
		}
		return nil
	})
	return found
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{File: s.File.clone(), Derivatives: s.Derivatives.Clone()}
}

// files returns the snapshot's file and derivatives as a flat list.
func (s Snapshot) files() []*UploadedFile {
	var out []*UploadedFile
	if s.File != nil {
		out = append(out, s.File)
	}
	s.Derivatives.Each(func(_ string, f *UploadedFile) error {
		out = append(out, f)
		return nil
	})
	return out
}

// snapshotJSON is the column wire format: the file's fields flattened
// to the top level, derivatives nested beneath them.
type snapshotJSON struct {
	ID          string       `json:"id"`
	Storage     string       `json:"storage"`
	Metadata    Metadata     `json:"metadata"`
	Derivatives *Derivatives `json:"derivatives,omitempty"`
}

// MarshalJSON writes the column format. An empty snapshot marshals as
// null, meaning "no file attached".
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s.File == nil {
		return []byte("null"), nil
	}
	out := snapshotJSON{
		ID:       s.File.ID,
		Storage:  s.File.Storage,
		Metadata: s.File.Metadata,
	}
	if out.Metadata == nil {
		out.Metadata = Metadata{}
	}
	if s.Derivatives.Len() > 0 {
		out.Derivatives = s.Derivatives
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the column format. null loads as an empty
// snapshot; anything else missing its id or storage is malformed.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Snapshot{}
		return nil
	}
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedReference)
	}
	if raw.Storage == "" {
		return fmt.Errorf("%w: missing storage", ErrMalformedReference)
	}
	if raw.Metadata == nil {
		raw.Metadata = Metadata{}
	}
	s.File = &UploadedFile{ID: raw.ID, Storage: raw.Storage, Metadata: raw.Metadata}
	if raw.Derivatives != nil {
		s.Derivatives = raw.Derivatives
	} else {
		s.Derivatives = NewDerivatives()
	}
	return nil
}

// Value implements driver.Valuer so a Snapshot can live in a single
// text column. Empty snapshots store as NULL.
func (s Snapshot) Value() (driver.Value, error) {
	if s.File == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Snapshot) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = Snapshot{}
		return nil
	case []byte:
		if len(v) == 0 {
			*s = Snapshot{}
			return nil
		}
		return s.UnmarshalJSON(v)
	case string:
		if v == "" {
			*s = Snapshot{}
			return nil
		}
		return s.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Snapshot", src)
	}
}
