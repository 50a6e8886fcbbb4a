package stream

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-contrib/sse"
)

// EventStreamType is the MIME type of a Server-Sent Events response.
const EventStreamType = "text/event-stream"

// AcceptsEventStream reports whether the request asked for an event stream.
func AcceptsEventStream(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		if strings.Contains(v, EventStreamType) {
			return true
		}
	}

	return false
}

// SSEConn is a push connection over a Server-Sent Events response.
type SSEConn struct {
	mutex   sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	done    chan struct{}
}

// NewSSEConn opens an event stream on w. It returns false when w cannot
// flush, in which case nothing has been written.
func NewSSEConn(w http.ResponseWriter) (*SSEConn, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	h := w.Header()
	h.Set("Content-Type", EventStreamType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEConn{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}, true
}

// Send writes one event and flushes it.
func (c *SSEConn) Send(id, event, data string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrClosed
	}

	if err := sse.Encode(c.w, sse.Event{Id: id, Event: event, Data: data}); err != nil {
		return err
	}
	c.flusher.Flush()

	return nil
}

// Done is closed by Close.
func (c *SSEConn) Done() <-chan struct{} {
	return c.done
}

// Close stops further writes. The handler owning the response must call it
// before returning; it is safe to call more than once.
func (c *SSEConn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.closed {
		c.closed = true
		close(c.done)
	}

	return nil
}
