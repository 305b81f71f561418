package chat

import "sync"

// rooms groups live connections by the chat they are currently viewing.
// Subscription is orthogonal to identity: a client may sit in any number of
// rooms, and only subscribers receive that chat's live broadcasts.
type rooms struct {
	mu      sync.RWMutex
	members map[string]map[*Client]struct{}
}

func newRooms() *rooms {
	return &rooms{members: make(map[string]map[*Client]struct{})}
}

func (r *rooms) join(chatID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[chatID] == nil {
		r.members[chatID] = make(map[*Client]struct{})
	}
	r.members[chatID][c] = struct{}{}
}

func (r *rooms) leave(chatID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.members[chatID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.members, chatID)
		}
	}
}

// dropClient removes the client from every room, called on disconnect.
func (r *rooms) dropClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, set := range r.members {
		delete(set, c)
		if len(set) == 0 {
			delete(r.members, chatID)
		}
	}
}

func (r *rooms) contains(chatID string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[chatID][c]
	return ok
}

// broadcast pushes the event to every subscriber of the room, the sender
// included.
func (r *rooms) broadcast(chatID string, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.members[chatID] {
		c.push(ev)
	}
}
