package chat

import "sync"

// Registry tracks which users currently have a reachable live connection.
// One handle per user: a reconnect replaces the previous handle rather than
// appending to it. Process-local and rebuilt empty on restart, so every user
// is offline until they identify again.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register associates the client with the user id, last write wins.
func (r *Registry) Register(userID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[userID] = c
	connectedUsers.Set(float64(len(r.clients)))
}

// Lookup returns the user's active connection handle, if any.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// Unregister removes the mapping only while it still points at this client.
// A disconnect racing with a reconnect must not knock out the newer handle.
func (r *Registry) Unregister(c *Client) {
	if c.userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.clients[c.userID]; ok && current == c {
		delete(r.clients, c.userID)
	}
	connectedUsers.Set(float64(len(r.clients)))
}
