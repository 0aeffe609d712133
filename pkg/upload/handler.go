package upload

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// MaxChunkSize bounds a single PATCH body.
const MaxChunkSize = 8 << 20

// Handler exposes an AferoBackend over HTTP for HTTPBackend clients.
type Handler struct {
	backend *AferoBackend
	logger  *slog.Logger
	access  func(r *http.Request, objectPath string) bool
}

type HandlerOption func(*Handler)

// WithAccess installs a check run before every upload request; requests it
// rejects get 403.
func WithAccess(fn func(r *http.Request, objectPath string) bool) HandlerOption {
	return func(h *Handler) { h.access = fn }
}

func NewHandler(backend *AferoBackend, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{backend: backend, logger: logger.With("component", "uploads")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// guard wraps an upload endpoint with the access check.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.access != nil && !h.access(r, mux.Vars(r)["path"]) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// RegisterUploads mounts the resumable write endpoints on r.
func (h *Handler) RegisterUploads(r *mux.Router) {
	r.HandleFunc("/uploads/{path:.+}", h.guard(h.offset)).Methods(http.MethodHead)
	r.HandleFunc("/uploads/{path:.+}", h.guard(h.write)).Methods(http.MethodPatch)
	r.HandleFunc("/uploads/{path:.+}", h.guard(h.commit)).Methods(http.MethodPut)
	r.HandleFunc("/uploads/{path:.+}", h.guard(h.abort)).Methods(http.MethodDelete)
}

// RegisterMedia mounts read access to committed objects on r.
func (h *Handler) RegisterMedia(r *mux.Router) {
	r.HandleFunc("/media/{path:.+}", h.serve).Methods(http.MethodGet, http.MethodHead)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidPath):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrOffsetMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("upload request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
	}
}

func (h *Handler) offset(w http.ResponseWriter, r *http.Request) {
	offset, err := h.backend.Offset(r.Context(), mux.Vars(r)["path"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set(OffsetHeader, strconv.FormatInt(offset, 10))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.ParseInt(r.Header.Get(OffsetHeader), 10, 64)
	if err != nil || offset < 0 {
		http.Error(w, "missing or invalid "+OffsetHeader, http.StatusBadRequest)
		return
	}
	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxChunkSize))
	if err != nil {
		http.Error(w, "chunk too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := h.backend.Write(r.Context(), mux.Vars(r)["path"], offset, chunk); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set(OffsetHeader, strconv.FormatInt(offset+int64(len(chunk)), 10))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	p := mux.Vars(r)["path"]
	size, _ := strconv.ParseInt(r.Header.Get(LengthHeader), 10, 64)
	meta := Metadata{Name: p, ContentType: r.Header.Get(ContentTypeHeader), Size: size}
	if err := meta.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.backend.Commit(r.Context(), p, meta); err != nil {
		h.fail(w, r, err)
		return
	}
	url, err := h.backend.DownloadURL(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("upload committed", "path", p, "content_type", meta.ContentType)
	w.Header().Set("Location", url)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) abort(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Abort(r.Context(), mux.Vars(r)["path"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	p := mux.Vars(r)["path"]
	f, err := h.backend.Open(p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.fail(w, r, ErrNotFound)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
