package attach

import (
	"fmt"
	"slices"
	"strings"

	"github.com/affixlabs/affix/internal/algorithms"
)

// A Validator examines a freshly assigned file. Returned errors collect
// on the attacher rather than aborting the assignment, leaving the
// cached file attached for redisplay.
type Validator interface {
	Validate(f *UploadedFile) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(f *UploadedFile) error

func (fn ValidatorFunc) Validate(f *UploadedFile) error { return fn(f) }

// MaxSize rejects files larger than n bytes.
func MaxSize(n int64) Validator {
	return ValidatorFunc(func(f *UploadedFile) error {
		if size := f.Metadata.Size(); size > n {
			return fmt.Errorf("file is too large: %d bytes, limit is %d", size, n)
		}
		return nil
	})
}

// MinSize rejects files smaller than n bytes.
func MinSize(n int64) Validator {
	return ValidatorFunc(func(f *UploadedFile) error {
		if size := f.Metadata.Size(); size < n {
			return fmt.Errorf("file is too small: %d bytes, minimum is %d", size, n)
		}
		return nil
	})
}

// AllowedTypes rejects files whose mime type is not in types.
func AllowedTypes(types ...string) Validator {
	return ValidatorFunc(func(f *UploadedFile) error {
		if mt := f.Metadata.MIMEType(); !slices.Contains(types, mt) {
			return fmt.Errorf("type %q is not allowed, expected one of %s", mt, strings.Join(types, ", "))
		}
		return nil
	})
}

// AllowedExtensions rejects files whose filename extension is not in
// exts. Extensions are compared case-insensitively, with or without
// the leading dot.
func AllowedExtensions(exts ...string) Validator {
	normalized := algorithms.Map(exts, func(ext string) string {
		return strings.ToLower(strings.TrimPrefix(ext, "."))
	})
	return ValidatorFunc(func(f *UploadedFile) error {
		ext := strings.TrimPrefix(fileExt(f.Metadata.Filename()), ".")
		if !slices.Contains(normalized, ext) {
			return fmt.Errorf("extension %q is not allowed, expected one of %s", ext, strings.Join(normalized, ", "))
		}
		return nil
	})
}
