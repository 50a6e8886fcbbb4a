package server

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EphraimElvis/coralite-io/internal/assets"
	"github.com/EphraimElvis/coralite-io/internal/logging"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		path   string
		want   string
	}{
		{name: "root", path: "/", want: "/index.html"},
		{name: "directory", path: "/blog/", want: "/blog/index.html"},
		{name: "extensionless page", path: "/about", want: "/about.html"},
		{name: "nested page", path: "/blog/first-post", want: "/blog/first-post.html"},
		{name: "file with extension", path: "/styles.css", want: "/styles.css"},
		{name: "dot in directory only", path: "/v1.2/notes", want: "/v1.2/notes.html"},
		{name: "prefix stripped", prefix: "/assets", path: "/assets/logo.png", want: "/logo.png"},
		{name: "prefix directory", prefix: "/assets", path: "/assets/", want: "/index.html"},
		{name: "bare prefix", prefix: "/assets", path: "/assets", want: "/index.html"},
		{name: "prefix must end at a segment", prefix: "/assets", path: "/assetsfoo", want: "/assetsfoo.html"},
		{name: "prefix absent", prefix: "/assets", path: "/other/logo.png", want: "/other/logo.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePath(tt.prefix, tt.path))
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("png"))
	assert.True(t, strings.HasPrefix(ContentType("html"), "text/html"))
	assert.True(t, strings.HasPrefix(ContentType("css"), "text/css"))
	assert.Equal(t, "application/octet-stream", ContentType(""))
	assert.Equal(t, "application/octet-stream", ContentType("no-such-extension"))
}

type handlerFixture struct {
	fs      afero.Fs
	log     *bytes.Buffer
	console *logging.Console
}

func newHandlerFixture(t *testing.T, files map[string]string) *handlerFixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}

	log := &bytes.Buffer{}

	return &handlerFixture{fs: fs, log: log, console: logging.NewConsole(log)}
}

func (f *handlerFixture) handler(root string, maxSize int64, opts ...HandlerOption) *StaticHandler {
	cache := assets.New(f.fs, assets.Config{Root: root, MaxFileCount: 10, MaxFileSize: maxSize})
	return NewStaticHandler(cache, f.console, opts...)
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStaticHandlerServesPages(t *testing.T) {
	f := newHandlerFixture(t, map[string]string{
		"dist/index.html":      "<h1>home</h1>",
		"dist/about.html":      "<h1>about</h1>",
		"dist/blog/index.html": "<h1>blog</h1>",
	})
	h := f.handler("dist", 1024)

	tests := []struct {
		path string
		body string
	}{
		{"/", "<h1>home</h1>"},
		{"/about", "<h1>about</h1>"},
		{"/about.html", "<h1>about</h1>"},
		{"/blog/", "<h1>blog</h1>"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(h, tt.path)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
			assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
			assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
			assert.NotEmpty(t, rec.Header().Get("ETag"))
		})
	}
}

func TestStaticHandlerNotFound(t *testing.T) {
	f := newHandlerFixture(t, map[string]string{
		"dist/index.html":   "home",
		"dist/docs/a.html":  "a",
		"outside/leak.html": "secret",
	})
	h := f.handler("dist", 1024)

	for _, path := range []string{"/missing", "/docs", "/docs/", "/../outside/leak.html"} {
		t.Run(path, func(t *testing.T) {
			rec := get(h, path)

			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Empty(t, rec.Body.String())
		})
	}
}

func TestStaticHandlerAssetsPrefix(t *testing.T) {
	png := "\x89PNG\r\n\x1a\nfake"
	f := newHandlerFixture(t, map[string]string{
		"public/logo.png":  png,
		"public/site.css":  "body{}",
		"public/font.woff": "wOFF",
	})
	h := f.handler("public", 1024, WithPrefix("/assets"))

	rec := get(h, "/assets/logo.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, png, rec.Body.String())

	rec = get(h, "/assets/site.css")
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/css"))

	rec = get(h, "/assets/nope.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticHandlerEmptyFile(t *testing.T) {
	f := newHandlerFixture(t, map[string]string{"dist/empty.html": ""})
	h := f.handler("dist", 1024)

	rec := get(h, "/empty")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestStaticHandlerStreamsLargeFiles(t *testing.T) {
	large := strings.Repeat("0123456789", 100)
	f := newHandlerFixture(t, map[string]string{"public/big.txt": large})

	streamed := get(f.handler("public", 16), "/big.txt")
	buffered := get(f.handler("public", 1<<20), "/big.txt")

	assert.Equal(t, http.StatusOK, streamed.Code)
	assert.Equal(t, large, streamed.Body.String())
	assert.Equal(t, buffered.Body.String(), streamed.Body.String())
	assert.Equal(t, buffered.Header().Get("Content-Type"), streamed.Header().Get("Content-Type"))
	assert.Empty(t, streamed.Header().Get("ETag"))
}

func TestStaticHandlerHead(t *testing.T) {
	f := newHandlerFixture(t, map[string]string{"dist/index.html": "home"})
	h := f.handler("dist", 1024)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestStaticHandlerLogsOncePerRequest(t *testing.T) {
	f := newHandlerFixture(t, map[string]string{"dist/index.html": "home"})
	h := f.handler("dist", 1024)

	get(h, "/")
	get(h, "/missing")

	lines := strings.Split(strings.TrimSpace(f.log.String()), "\n")
	require.Len(t, lines, 2)

	assert.Regexp(t, `^\d{2}:\d{2}:\d{2} 200 ─ \d+\.\d{2}ms ─ /$`, lines[0])
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2} 404 ─ \d+\.\d{2}ms ─ /missing$`, lines[1])
}

func TestStaticHandlerInjectsClient(t *testing.T) {
	f := newHandlerFixture(t, map[string]string{
		"dist/index.html": "<html><body><p>hi</p></body></html>",
		"dist/frag.html":  "<p>no body</p>",
		"dist/data.json":  `{"body":"</body>"}`,
	})
	h := f.handler("dist", 1024, WithClientScript(ClientPath))

	rec := get(h, "/")
	assert.Equal(t, `<html><body><p>hi</p><script src="/_/client.js"></script></body></html>`, rec.Body.String())
	assert.Equal(t, "71", rec.Header().Get("Content-Length"))

	rec = get(h, "/frag")
	assert.Equal(t, `<p>no body</p><script src="/_/client.js"></script>`, rec.Body.String())

	rec = get(h, "/data.json")
	assert.Equal(t, `{"body":"</body>"}`, rec.Body.String())
}

func TestInjectScriptUsesLastBodyClose(t *testing.T) {
	page := []byte("<body><pre>&lt;/body&gt;</pre><!-- </body> --></BODY>\n")

	got := injectScript(page, "/c.js")

	assert.Equal(t, "<body><pre>&lt;/body&gt;</pre><!-- </body> --><script src=\"/c.js\"></script></BODY>\n", string(got))
	assert.Equal(t, "<body><pre>&lt;/body&gt;</pre><!-- </body> --></BODY>\n", string(page), "input is not modified")
}

func TestResponseWriterDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	_, err := io.WriteString(rw, "x")
	require.NoError(t, err)
	rw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, rw.Status())
	assert.Equal(t, http.StatusOK, rec.Code)
}
