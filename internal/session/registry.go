// Package session owns the lifecycle of provider clients: single
// flight initialization, QR pairing, failure backoff and the critical
// error counter that disconnects a flapping session for good.
package session

import (
	"sync"

	"github.com/zapdesk-io/zapdesk-ce/internal/transport"
)

// registry maps connection ids to live provider clients.
type registry struct {
	mu      sync.RWMutex
	clients map[int64]transport.Client
}

func newRegistry() *registry {
	return &registry{clients: make(map[int64]transport.Client)}
}

func (r *registry) get(connectionID int64) (transport.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connectionID]
	return c, ok
}

func (r *registry) put(connectionID int64, c transport.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[connectionID] = c
}

// remove drops the client and reports whether one was registered.
func (r *registry) remove(connectionID int64) (transport.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connectionID]
	if ok {
		delete(r.clients, connectionID)
	}
	return c, ok
}

// removeIf drops the entry only when it still points at c, so a
// teardown of a stale client cannot evict its replacement.
func (r *registry) removeIf(connectionID int64, c transport.Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[connectionID] == c {
		delete(r.clients, connectionID)
		return true
	}
	return false
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
