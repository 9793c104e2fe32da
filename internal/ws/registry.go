package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Registry is the process-wide mapping from user id to live websocket
// connection. Each user has at most one entry; registering again replaces the
// previous mapping and the old connection is cleaned up when it closes.
type Registry struct {
	mu    sync.RWMutex
	conns map[int]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]*websocket.Conn)}
}

// Register binds the user to the connection, replacing any existing binding.
// Closing a replaced connection is the transport's responsibility.
func (r *Registry) Register(userID int, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = conn
}

// Lookup returns the live connection for the user, if one is registered.
func (r *Registry) Lookup(userID int) (*websocket.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// UnregisterByHandle removes every entry bound to the connection. The scan is
// by value because a connection may close before it ever authenticated, so
// its user id is not known here. Idempotent; unknown handles are a no-op.
func (r *Registry) UnregisterByHandle(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, c := range r.conns {
		if c == conn {
			delete(r.conns, userID)
		}
	}
}
