package attach

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidators(t *testing.T) {
	file := func(size int64, filename, mime string) *UploadedFile {
		return &UploadedFile{
			ID:      "x",
			Storage: "cache",
			Metadata: Metadata{
				"size":      size,
				"filename":  filename,
				"mime_type": mime,
			},
		}
	}

	t.Run("MaxSize", func(t *testing.T) {
		require := require.New(t)
		require.NoError(MaxSize(10).Validate(file(10, "a.txt", "text/plain")))
		require.Error(MaxSize(10).Validate(file(11, "a.txt", "text/plain")))
	})

	t.Run("MinSize", func(t *testing.T) {
		require := require.New(t)
		require.NoError(MinSize(1).Validate(file(1, "a.txt", "text/plain")))
		require.Error(MinSize(1).Validate(file(0, "a.txt", "text/plain")))
	})

	t.Run("AllowedTypes", func(t *testing.T) {
		require := require.New(t)
		v := AllowedTypes("image/png", "image/jpeg")
		require.NoError(v.Validate(file(1, "a.png", "image/png")))
		require.Error(v.Validate(file(1, "a.gif", "image/gif")))
		require.Error(v.Validate(file(1, "a", "")))
	})

	t.Run("AllowedExtensions", func(t *testing.T) {
		require := require.New(t)
		v := AllowedExtensions(".png", "jpg")
		require.NoError(v.Validate(file(1, "photo.PNG", "image/png")))
		require.NoError(v.Validate(file(1, "photo.jpg", "image/jpeg")))
		require.Error(v.Validate(file(1, "notes.txt", "text/plain")))
		require.Error(v.Validate(file(1, "noext", "")))
	})
}

func TestNamers(t *testing.T) {
	t.Run("RandomNamer keeps the extension and never repeats", func(t *testing.T) {
		require := require.New(t)

		n := RandomNamer()
		meta := Metadata{"filename": "photo.JPG"}
		a := n.Name(meta, nil)
		b := n.Name(meta, nil)
		require.NotEqual(a, b)
		require.True(len(a) > 4)
		require.Equal(".jpg", a[len(a)-4:])
	})

	t.Run("RecordNamer nests under the record identity", func(t *testing.T) {
		require := require.New(t)

		n := RecordNamer()
		context := map[string]any{"record_kind": "uploads", "record_id": "42"}
		id := n.Name(Metadata{"filename": "photo.jpg"}, context)
		require.Regexp(`^uploads/42/[0-9a-f-]+\.jpg$`, id)

		context["derivative"] = "small"
		id = n.Name(Metadata{"filename": "photo.jpg"}, context)
		require.Regexp(`^uploads/42/small/[0-9a-f-]+\.jpg$`, id)
	})

	t.Run("RecordNamer without record context falls back to a bare id", func(t *testing.T) {
		id := RecordNamer().Name(Metadata{}, map[string]any{})
		require.NotContains(t, id, "/")
	})

	t.Run("suspiciously long extensions are ignored", func(t *testing.T) {
		require.Equal(t, "", fileExt("archive.tar.gz-backup-2"))
	})
}
