package remote

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/affixlabs/affix/attach"
	storagemem "github.com/affixlabs/affix/storage/memory"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 40, 20))))

	mux := http.NewServeMux()
	mux.HandleFunc("/photo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(img.Bytes())
	})
	mux.HandleFunc("/big.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("a fetched file lands in cache with its metadata attached", func(t *testing.T) {
		require := require.New(t)
		srv := setupServer(t)

		cache := storagemem.New()
		registry := attach.NewRegistry()
		registry.Register("cache", cache)

		f := NewFetcher(registry, "cache", WithClient(srv.Client()))
		file, err := f.Fetch(ctx, srv.URL+"/photo.png")
		require.NoError(err)

		require.Equal("cache", file.Storage)
		require.Equal("photo.png", file.Metadata.Filename())
		require.Equal("image/png", file.Metadata.MIMEType())
		require.Equal(40, file.Metadata["width"])
		require.Equal(1, cache.Len())

		ok, err := file.Exists(ctx, registry)
		require.NoError(err)
		require.True(ok)
	})

	t.Run("a missing remote file reports not exist", func(t *testing.T) {
		require := require.New(t)
		srv := setupServer(t)

		registry := attach.NewRegistry()
		registry.Register("cache", storagemem.New())

		f := NewFetcher(registry, "cache", WithClient(srv.Client()))
		_, err := f.Fetch(ctx, srv.URL+"/vanished.png")
		require.ErrorIs(err, fs.ErrNotExist)
	})

	t.Run("a file over the size cap is rejected", func(t *testing.T) {
		require := require.New(t)
		srv := setupServer(t)

		cache := storagemem.New()
		registry := attach.NewRegistry()
		registry.Register("cache", cache)

		f := NewFetcher(registry, "cache", WithClient(srv.Client()), WithMaxSize(1024))
		_, err := f.Fetch(ctx, srv.URL+"/big.bin")
		require.ErrorIs(err, ErrTooLarge)
		require.Equal(0, cache.Len(), "nothing is uploaded for a failed fetch")
	})
}
