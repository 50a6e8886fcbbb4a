// Package stream tracks open push connections and fans rebuild
// notifications out to them.
//
// A Registry owns every connection between Register and Unregister. The
// Broadcaster iterates a snapshot of the registry, so connections may come and
// go while a broadcast is in flight.
package stream

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by Send on a connection that has been closed.
var ErrClosed = errors.New("stream: connection closed")

// Conn is one push connection to a browser.
type Conn interface {
	// Send delivers one event. An empty event name sends a data-only message.
	Send(id, event, data string) error
	// Done is closed once the connection can no longer deliver.
	Done() <-chan struct{}
	Close() error
}

// Registry maps connection ids to open connections.
type Registry struct {
	mutex sync.RWMutex
	conns map[string]Conn
	newID func() string
}

// NewRegistry creates an empty registry issuing UUIDv4 ids.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Conn),
		newID: uuid.NewString,
	}
}

// Register adds conn under a fresh id and returns the id.
func (r *Registry) Register(conn Conn) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := r.newID()
	for _, taken := r.conns[id]; taken; _, taken = r.conns[id] {
		id = r.newID()
	}
	r.conns[id] = conn

	return id
}

// Unregister removes id. It reports whether the id was present, so only one
// caller ends up closing a connection that is unregistered twice.
func (r *Registry) Unregister(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)

	return true
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.conns)
}

// snapshot copies the current registrations.
func (r *Registry) snapshot() map[string]Conn {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make(map[string]Conn, len(r.conns))
	for id, c := range r.conns {
		out[id] = c
	}

	return out
}

// CloseAll unregisters and closes every connection.
func (r *Registry) CloseAll() {
	r.mutex.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mutex.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
