package stream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Message is the JSON frame sent to WebSocket clients. It mirrors the fields
// of a Server-Sent Event.
type Message struct {
	ID    string `json:"id"`
	Event string `json:"event,omitempty"`
	Data  string `json:"data"`
}

// IsWebSocketUpgrade reports whether r asks to switch to the WebSocket protocol.
func IsWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// WSConn is a push connection over a WebSocket. Clients never send anything
// meaningful; the read side only watches for the close frame.
type WSConn struct {
	conn         *websocket.Conn
	ctx          context.Context
	writeTimeout time.Duration
}

// AcceptWebSocket upgrades the request. On failure the response has already
// been written by the websocket package.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Development server: any page served locally may connect.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, err
	}

	return &WSConn{
		conn:         conn,
		ctx:          conn.CloseRead(context.Background()),
		writeTimeout: 10 * time.Second,
	}, nil
}

// Send writes one JSON message.
func (c *WSConn) Send(id, event, data string) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, c.conn, Message{ID: id, Event: event, Data: data})
}

// Done is closed when the peer closes the connection or it breaks.
func (c *WSConn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close sends a normal closure.
func (c *WSConn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}

	return err
}
