package attach

import (
	"context"
	"io"
)

// A Processor derives new files from an original: thumbnails from an
// image, a waveform from audio. It reads the original's content from r
// and returns derived content in the order the derivatives should be
// recorded. The attacher uploads the results; processors never touch
// storage themselves.
type Processor interface {
	Process(ctx context.Context, f *UploadedFile, r io.Reader) ([]Derived, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, f *UploadedFile, r io.Reader) ([]Derived, error)

func (fn ProcessorFunc) Process(ctx context.Context, f *UploadedFile, r io.Reader) ([]Derived, error) {
	return fn(ctx, f, r)
}

// Derived is one processor result awaiting upload.
type Derived struct {
	Name     string
	Content  io.Reader
	Metadata Metadata
}
