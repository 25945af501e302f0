package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/affixlabs/affix/attach"
)

// pngImage encodes a w×h PNG for tests.
func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	t.Run("an image yields its type and dimensions", func(t *testing.T) {
		require := require.New(t)

		meta, _, err := Extract(bytes.NewReader(pngImage(t, 100, 60)))
		require.NoError(err)
		require.Equal("image/png", meta.MIMEType())
		require.Equal(100, meta["width"])
		require.Equal(60, meta["height"])
	})

	t.Run("other content yields its type only", func(t *testing.T) {
		require := require.New(t)

		meta, _, err := Extract(strings.NewReader("hello, world"))
		require.NoError(err)
		require.Contains(meta.MIMEType(), "text/plain")
		require.NotContains(meta, "width")
	})

	t.Run("the returned reader replays the content from the start", func(t *testing.T) {
		require := require.New(t)

		data := pngImage(t, 100, 60)
		_, r, err := Extract(bytes.NewReader(data))
		require.NoError(err)

		replayed, err := io.ReadAll(r)
		require.NoError(err)
		require.Equal(data, replayed)
	})
}

func TestThumbnails(t *testing.T) {
	ctx := context.Background()
	original := &attach.UploadedFile{ID: "cache/orig.png", Storage: "cache"}

	t.Run("variants come out in the configured order and fit their boxes", func(t *testing.T) {
		require := require.New(t)

		p := NewThumbnails(
			Size{Name: "medium", Width: 50, Height: 50},
			Size{Name: "small", Width: 25, Height: 25},
		)
		derived, err := p.Process(ctx, original, bytes.NewReader(pngImage(t, 100, 60)))
		require.NoError(err)
		require.Len(derived, 2)

		require.Equal("medium", derived[0].Name)
		require.Equal("small", derived[1].Name)

		cfg, format, err := image.DecodeConfig(derived[0].Content)
		require.NoError(err)
		require.Equal("jpeg", format)
		require.Equal(50, cfg.Width)
		require.Equal(30, cfg.Height, "aspect ratio is preserved")
		require.Equal(50, derived[0].Metadata["width"])
		require.Equal(30, derived[0].Metadata["height"])
		require.Equal("image/jpeg", derived[0].Metadata.MIMEType())

		cfg, _, err = image.DecodeConfig(derived[1].Content)
		require.NoError(err)
		require.Equal(25, cfg.Width)
		require.Equal(15, cfg.Height)
	})

	t.Run("small images are not scaled up", func(t *testing.T) {
		require := require.New(t)

		p := NewThumbnails(Size{Name: "small", Width: 50, Height: 50})
		derived, err := p.Process(ctx, original, bytes.NewReader(pngImage(t, 20, 10)))
		require.NoError(err)
		require.Len(derived, 1)
		require.Equal(20, derived[0].Metadata["width"])
		require.Equal(10, derived[0].Metadata["height"])
	})

	t.Run("content that is not an image is rejected", func(t *testing.T) {
		require := require.New(t)

		p := NewThumbnails()
		_, err := p.Process(ctx, original, strings.NewReader("not an image"))
		require.Error(err)
	})
}
