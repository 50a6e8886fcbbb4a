package server

import (
	"net/http"
	"strconv"

	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/stream"
)

const (
	// ConnectedMessage is the data-only message sent when a client subscribes.
	ConnectedMessage = "connected"
	// UnsupportedMessage answers requests that can hold no push stream.
	UnsupportedMessage = "Server-Sent Events Not Supported!"
)

// handleRebuild subscribes the client to rebuild notifications until it
// disconnects or the server stops.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var conn stream.Conn

	switch {
	case stream.IsWebSocketUpgrade(r):
		ws, err := stream.AcceptWebSocket(w, r)
		if err != nil {
			s.logger.Warn(r.Context(), errors.NewNetworkError(errors.ErrCodeDeliveryFailed, "websocket upgrade failed", err),
				"Push connection rejected")
			return
		}
		conn = ws
	case stream.AcceptsEventStream(r):
		sc, ok := stream.NewSSEConn(w)
		if !ok {
			writeUnsupported(w)
			return
		}
		conn = sc
	default:
		writeUnsupported(w)
		return
	}

	id := s.registry.Register(conn)
	defer func() {
		if s.registry.Unregister(id) {
			_ = conn.Close()
		}
	}()

	s.logger.Debug(r.Context(), "Push connection opened", "connection", id, "open", s.registry.Len())

	if err := conn.Send(id, "", ConnectedMessage); err != nil {
		s.logger.Warn(r.Context(), errors.NewDeliveryError(id, err), "Initial message failed")
		return
	}

	select {
	case <-r.Context().Done():
	case <-conn.Done():
	case <-s.ctx.Done():
	}

	s.logger.Debug(r.Context(), "Push connection closed", "connection", id)
}

func writeUnsupported(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(UnsupportedMessage)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(UnsupportedMessage))
}
