package attach

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/affixlabs/affix/internal/algorithms"
)

// Derivatives is an ordered set of named files derived from an
// original, such as thumbnails. Iteration and serialization follow
// insertion order. A nil *Derivatives reads as empty.
type Derivatives struct {
	names []string
	files map[string]*UploadedFile
}

func NewDerivatives() *Derivatives {
	return &Derivatives{files: make(map[string]*UploadedFile)}
}

// Len returns the number of derivatives.
func (d *Derivatives) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}

// Get returns the derivative called name.
func (d *Derivatives) Get(name string) (*UploadedFile, bool) {
	if d == nil {
		return nil, false
	}
	f, ok := d.files[name]
	return f, ok
}

// Has reports whether a derivative called name exists.
func (d *Derivatives) Has(name string) bool {
	_, ok := d.Get(name)
	return ok
}

// Names returns the derivative names in insertion order.
func (d *Derivatives) Names() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Add inserts or overwrites the derivative called name. Overwriting
// keeps the name's original position.
func (d *Derivatives) Add(name string, f *UploadedFile) {
	if d.files == nil {
		d.files = make(map[string]*UploadedFile)
	}
	if _, ok := d.files[name]; !ok {
		d.names = append(d.names, name)
	}
	d.files[name] = f
}

// Remove drops the derivative called name and returns the removed file
// so the caller can delete its object. Unknown names return nil.
func (d *Derivatives) Remove(name string) *UploadedFile {
	if d == nil {
		return nil
	}
	f, ok := d.files[name]
	if !ok {
		return nil
	}
	delete(d.files, name)
	d.names = algorithms.Filter(d.names, func(n string) bool { return n != name })
	return f
}

// Merge inserts every entry of m, overwriting same-named derivatives
// and leaving the rest untouched. New names are inserted in sorted
// order so the result does not depend on map iteration.
func (d *Derivatives) Merge(m map[string]*UploadedFile) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d.Add(name, m[name])
	}
}

// ReplaceAll discards the current entries in favour of m.
func (d *Derivatives) ReplaceAll(m map[string]*UploadedFile) {
	d.names = nil
	d.files = make(map[string]*UploadedFile)
	d.Merge(m)
}

// Each calls fn for every derivative in insertion order. An error from
// fn stops the walk and is returned.
func (d *Derivatives) Each(fn func(name string, f *UploadedFile) error) error {
	if d == nil {
		return nil
	}
	for _, name := range d.names {
		if err := fn(name, d.files[name]); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d *Derivatives) Clone() *Derivatives {
	out := NewDerivatives()
	if d == nil {
		return out
	}
	for _, name := range d.names {
		out.Add(name, d.files[name].clone())
	}
	return out
}

// MarshalJSON writes the derivatives as a JSON object in insertion
// order.
func (d *Derivatives) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if d != nil {
		for i, name := range d.names {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(name)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(d.files[name])
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving its key order.
func (d *Derivatives) UnmarshalJSON(data []byte) error {
	d.names = nil
	d.files = make(map[string]*UploadedFile)
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: derivatives is not an object", ErrMalformedReference)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: derivative name is not a string", ErrMalformedReference)
		}
		var f UploadedFile
		if err := dec.Decode(&f); err != nil {
			return fmt.Errorf("derivative %q: %w", name, err)
		}
		d.Add(name, &f)
	}
	_, err = dec.Token()
	return err
}
