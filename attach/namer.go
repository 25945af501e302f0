package attach

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// A Namer chooses the storage id for an upload. The context map is the
// attacher's pass-through context; derivative uploads add a
// "derivative" entry holding the derivative name.
type Namer interface {
	Name(meta Metadata, context map[string]any) string
}

// NamerFunc adapts a function to the Namer interface.
type NamerFunc func(meta Metadata, context map[string]any) string

func (fn NamerFunc) Name(meta Metadata, context map[string]any) string {
	return fn(meta, context)
}

// RandomNamer names every upload with a fresh uuid, keeping the
// original file extension so types stay guessable from ids.
func RandomNamer() Namer {
	return NamerFunc(func(meta Metadata, _ map[string]any) string {
		return uuid.NewString() + fileExt(meta.Filename())
	})
}

// RecordNamer nests ids under the owning record's identity and, for
// derivatives, the derivative name, giving per-record folders in
// storages with path-like ids. Uploads without record context fall
// back to a bare uuid.
func RecordNamer() Namer {
	return NamerFunc(func(meta Metadata, context map[string]any) string {
		base := uuid.NewString() + fileExt(meta.Filename())
		kind, _ := context["record_kind"].(string)
		id, _ := context["record_id"].(string)
		if kind == "" || id == "" {
			return base
		}
		if derivative, _ := context["derivative"].(string); derivative != "" {
			return path.Join(kind, id, derivative, base)
		}
		return path.Join(kind, id, base)
	})
}

func fileExt(filename string) string {
	ext := path.Ext(filename)
	if len(ext) > 10 {
		// not a real extension, just a dotted filename
		return ""
	}
	return strings.ToLower(ext)
}
