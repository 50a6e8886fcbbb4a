package server

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/EphraimElvis/coralite-io/internal/assets"
	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
)

// StaticHandler serves files from one cache and logs every response.
type StaticHandler struct {
	prefix    string
	cache     *assets.Cache
	console   *logging.Console
	logger    logging.Logger
	clientSrc string
}

// HandlerOption configures a StaticHandler.
type HandlerOption func(*StaticHandler)

// WithPrefix strips prefix from request paths before lookup.
func WithPrefix(prefix string) HandlerOption {
	return func(h *StaticHandler) {
		h.prefix = strings.TrimSuffix(prefix, "/")
	}
}

// WithClientScript inserts a script tag loading src into buffered HTML pages.
func WithClientScript(src string) HandlerOption {
	return func(h *StaticHandler) {
		h.clientSrc = src
	}
}

// WithHandlerLogger sets the diagnostics logger.
func WithHandlerLogger(logger logging.Logger) HandlerOption {
	return func(h *StaticHandler) {
		h.logger = logger
	}
}

// NewStaticHandler creates a handler over cache. Response lines go to console.
func NewStaticHandler(cache *assets.Cache, console *logging.Console, opts ...HandlerOption) *StaticHandler {
	h := &StaticHandler{
		cache:   cache,
		console: console,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("static")

	return h
}

// ResolvePath maps a request path to a file path under the served root.
// The prefix is removed first; a directory path gets index.html and a final
// segment without an extension gets .html.
func ResolvePath(prefix, urlPath string) string {
	p := urlPath
	if prefix != "" && strings.HasPrefix(p, prefix) &&
		(len(p) == len(prefix) || p[len(prefix)] == '/') {
		p = p[len(prefix):]
	}
	if p == "" {
		p = "/"
	}

	if strings.HasSuffix(p, "/") {
		return p + "index.html"
	}

	if segment := p[strings.LastIndex(p, "/")+1:]; !strings.Contains(segment, ".") {
		return p + ".html"
	}

	return p
}

// ContentType returns the MIME type for a file extension without the dot.
func ContentType(ext string) string {
	if ext != "" {
		if ct := mime.TypeByExtension("." + ext); ct != "" {
			return ct
		}
	}

	return "application/octet-stream"
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rw := newResponseWriter(w)

	defer func() {
		h.console.Request(rw.Status(), time.Since(start), r.URL.Path)
	}()

	h.serve(rw, r)
}

func (h *StaticHandler) serve(w http.ResponseWriter, r *http.Request) {
	name := ResolvePath(h.prefix, r.URL.Path)

	entry, ok := h.cache.Get(name)
	if !ok {
		h.logger.Debug(r.Context(), "Not found", "error", errors.NewNotFoundError(name))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !entry.HasContent() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	header := w.Header()
	header.Set("Content-Type", ContentType(entry.Ext))
	header.Set("Cache-Control", "no-cache")

	if entry.Buffered() {
		h.writeBuffer(w, r, entry)
		return
	}

	h.writeStream(w, r, entry)
}

func (h *StaticHandler) writeBuffer(w http.ResponseWriter, r *http.Request, entry *assets.Entry) {
	body, hash := entry.Buffer, entry.Hash
	if h.clientSrc != "" && entry.Ext == "html" {
		body = injectScript(body, h.clientSrc)
		hash = xxhash.Sum64(body)
	}

	w.Header().Set("ETag", fmt.Sprintf(`"%016x"`, hash))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		h.logger.Debug(r.Context(), "Write aborted", "path", entry.Path, "error", err)
	}
}

func (h *StaticHandler) writeStream(w http.ResponseWriter, r *http.Request, entry *assets.Entry) {
	rc, err := entry.Open()
	if err != nil {
		// Removed between lookup and open.
		h.logger.Warn(r.Context(), errors.NewIOError(errors.ErrCodeFileNotFound, "open failed", err).
			WithFile(entry.Path), "Streaming failed")
		w.WriteHeader(http.StatusNotFound)
		return
	}
	defer rc.Close()

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn(context.WithoutCancel(r.Context()), errors.NewIOError(errors.ErrCodeInternalError, "stream interrupted", err).
			WithFile(entry.Path), "Streaming failed")
	}
}
