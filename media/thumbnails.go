package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/nfnt/resize"

	"github.com/affixlabs/affix/attach"
)

// A Size names one thumbnail variant by its bounding box.
type Size struct {
	Name          string
	Width, Height uint
}

// DefaultSizes are the variants produced when none are specified.
var DefaultSizes = []Size{
	{Name: "large", Width: 1600, Height: 1600},
	{Name: "medium", Width: 800, Height: 800},
	{Name: "small", Width: 300, Height: 300},
}

// Thumbnails derives downscaled JPEG variants of an image, one per
// size, in the order the sizes are given. Images already inside a
// bounding box are re-encoded but not scaled up.
type Thumbnails struct {
	sizes []Size
}

func NewThumbnails(sizes ...Size) *Thumbnails {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	return &Thumbnails{sizes: sizes}
}

// Process implements attach.Processor.
func (t *Thumbnails) Process(ctx context.Context, f *attach.UploadedFile, r io.Reader) ([]attach.Derived, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f, err)
	}
	derived := make([]attach.Derived, 0, len(t.sizes))
	for _, size := range t.sizes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scaled := resize.Thumbnail(size.Width, size.Height, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", f, size.Name, err)
		}
		b := scaled.Bounds()
		derived = append(derived, attach.Derived{
			Name:    size.Name,
			Content: &buf,
			Metadata: attach.Metadata{
				"mime_type": "image/jpeg",
				"width":     b.Dx(),
				"height":    b.Dy(),
			},
		})
	}
	return derived, nil
}
