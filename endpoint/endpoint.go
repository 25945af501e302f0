// Package endpoint is the HTTP surface of the attachment lifecycle:
// direct uploads into cache, presigned direct-to-storage uploads, and
// a download path for stored objects.
package endpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/internal/httpx"
	"github.com/affixlabs/affix/internal/metrics"
	"github.com/affixlabs/affix/internal/to"
	"github.com/affixlabs/affix/media"
	"github.com/affixlabs/affix/remote"
)

// presignExpiry bounds how long a presigned upload stays usable.
const presignExpiry = 15 * time.Minute

// Env carries what the handlers need.
type Env struct {
	// Registry resolves the storages files are served from.
	Registry *attach.Registry
	// Cache is the key of the storage fresh uploads land in.
	Cache string
	// Namer chooses upload locations. Defaults to random names.
	Namer attach.Namer
	// MaxSize caps direct uploads when positive.
	MaxSize int64
	// Fetcher serves remote-URL uploads. Nil disables them.
	Fetcher *remote.Fetcher
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

func (e *Env) namer() attach.Namer {
	if e.Namer == nil {
		return attach.RandomNamer()
	}
	return e.Namer
}

// Router assembles the endpoint's routes.
func Router(env *Env) chi.Router {
	r := chi.NewRouter()
	r.Post("/uploads", handler(env, Create))
	r.Post("/uploads/remote", handler(env, CreateRemote))
	r.Get("/presign", handler(env, Presign))
	r.Get("/files/{storage}/*", handler(env, Show))
	return r
}

func handler(env *Env, fn func(*Env, http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return httpx.HandlerFunc(func(r *http.Request) *Env { return env }, fn)
}

// Create accepts a multipart upload, stores it in the cache tier and
// returns the file reference the client later assigns to a record.
func Create(env *Env, w http.ResponseWriter, r *http.Request) error {
	file, header, err := r.FormFile("file")
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	defer file.Close()

	if env.MaxSize > 0 && header.Size > env.MaxSize {
		return httpx.Error(http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds %d bytes", env.MaxSize))
	}

	meta, content, err := media.Extract(file)
	if err != nil {
		return err
	}
	meta["filename"] = header.Filename

	id := env.namer().Name(meta, nil)
	uploaded, err := attach.Upload(r.Context(), env.Registry, env.Cache, content, id, meta)
	if err != nil {
		return err
	}
	env.Metrics.RecordUpload(env.Cache, uploaded.Metadata.Size())
	return to.JSONStatus(w, http.StatusCreated, uploaded)
}

// CreateRemote fetches a remote URL into the cache tier.
func CreateRemote(env *Env, w http.ResponseWriter, r *http.Request) error {
	if env.Fetcher == nil {
		return httpx.Error(http.StatusUnprocessableEntity, errors.New("remote fetching is not configured"))
	}
	var params struct {
		URL string `json:"url" schema:"url"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if params.URL == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("missing url"))
	}
	uploaded, err := env.Fetcher.Fetch(r.Context(), params.URL)
	if err != nil {
		return err
	}
	env.Metrics.RecordUpload(uploaded.Storage, uploaded.Metadata.Size())
	return to.JSONStatus(w, http.StatusCreated, uploaded)
}

// Presign authorizes a direct-to-storage upload when the cache tier
// supports it, returning the location, URL and method the client
// should use.
func Presign(env *Env, w http.ResponseWriter, r *http.Request) error {
	var params struct {
		Filename string `schema:"filename"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}

	storage, err := env.Registry.Lookup(env.Cache)
	if err != nil {
		return err
	}
	presigner, ok := storage.(attach.Presigner)
	if !ok {
		return httpx.Error(http.StatusUnprocessableEntity, fmt.Errorf("storage %q cannot presign uploads", env.Cache))
	}

	meta := attach.Metadata{"filename": params.Filename}
	signed, err := presigner.PresignUpload(r.Context(), env.namer().Name(meta, nil), presignExpiry)
	if err != nil {
		return err
	}
	return to.JSON(w, struct {
		*attach.PresignedUpload
		Storage string `json:"storage"`
	}{signed, env.Cache})
}

// Show serves a stored object, redirecting when its storage resolves
// ids to fetchable URLs and streaming the content itself otherwise.
func Show(env *Env, w http.ResponseWriter, r *http.Request) error {
	storage, err := env.Registry.Lookup(chi.URLParam(r, "storage"))
	if err != nil {
		return err
	}
	id := chi.URLParam(r, "*")

	if u, err := storage.URL(r.Context(), id, attach.URLOptions{Expiry: presignExpiry}); err == nil && isFetchable(u) {
		return httpx.Redirect(w, u)
	}

	rc, err := storage.Open(r.Context(), id)
	if err != nil {
		return err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	head, _ := br.Peek(512)
	w.Header().Set("Content-Type", http.DetectContentType(head))
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, br)
	return err
}

func isFetchable(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
