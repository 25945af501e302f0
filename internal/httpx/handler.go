// Package httpx is a convenience wrapper around the http.ServeMux type that
// allows us to return errors from our handlers.
// see https://blog.questionable.services/article/http-handler-error-handling-revisited/ for more details.
package httpx

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-json-experiment/json"

	"github.com/affixlabs/affix/attach"
)

// Error is a convenience function for returning an error with an associated HTTP status code.
func Error(code int, err error) error {
	return &StatusError{code, err}
}

// StatusError represents an error with an associated HTTP status code.
type StatusError struct {
	Code int
	Err  error
}

// Allows StatusError to satisfy the error interface.
func (se *StatusError) Error() string {
	return se.Err.Error()
}

// Returns our HTTP status code.
func (se *StatusError) Status() int {
	return se.Code
}

// HandlerFunc adapts a function that returns an error to an http.HandlerFunc.
func HandlerFunc[E any](envFn func(r *http.Request) *E, fn func(*E, http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env := envFn(r)
		err := fn(env, w, r)
		if err != nil {
			code := Status(err)
			slog.Error("HTTP", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(code)
			json.MarshalFull(w, map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// Redirect returns a 302 redirect to the specified URI.
func Redirect(w http.ResponseWriter, uri string) error {
	w.Header().Set("Location", uri)
	w.WriteHeader(302)
	return nil
}

// Status translates an error into the HTTP status to report it with.
// An explicit StatusError wins; otherwise the attachment error taxonomy
// decides.
func Status(err error) int {
	if se := new(StatusError); errors.As(err, &se) {
		return se.Status()
	}
	var verr *attach.ValidationError
	switch {
	case errors.Is(err, attach.ErrRecordMissing),
		errors.Is(err, attach.ErrUnknownStorage),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, attach.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, attach.ErrMalformedReference):
		return http.StatusBadRequest
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
