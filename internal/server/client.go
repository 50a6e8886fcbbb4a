package server

import (
	"fmt"
	"net/http"
	"strconv"
)

// clientScript reloads the page on every rebuild event.
const clientScript = `(() => {
  const source = new EventSource(%s);
  source.addEventListener("rebuild", () => window.location.reload());
})();
`

// ClientScript returns the reload client for a push endpoint path.
func ClientScript(rebuildPath string) string {
	return fmt.Sprintf(clientScript, strconv.Quote(rebuildPath))
}

func (s *Server) handleClient(w http.ResponseWriter, _ *http.Request) {
	body := ClientScript(s.config.Serve.RebuildPath)

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write([]byte(body))
}
