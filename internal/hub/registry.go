package hub

import (
	"sync"
)

// Registry is the process-local map of live connections and their room
// memberships. Room membership is reference counted: the gateway subscribes
// to a room's bus channel when the first local connection joins and
// unsubscribes when the last one leaves.
//
// All methods are safe for concurrent use. No method blocks or performs
// I/O, so callers never suspend while holding the registry's lock.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client                 // connID -> client
	rooms   map[string]map[string]*Client      // roomID -> connID -> client
	joined  map[string]map[string]struct{}     // connID -> set of roomIDs
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Register adds an authenticated connection.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[c.ID] = c
	r.joined[c.ID] = make(map[string]struct{})
}

// Join adds the connection to a room. first reports whether the room went
// from zero to one local connection (time to subscribe on the bus); ok is
// false when the connection is not registered, e.g. it already disconnected.
// Joining a room twice is a no-op.
func (r *Registry) Join(connID, roomID string) (first, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, registered := r.clients[connID]
	if !registered {
		return false, false
	}
	if _, already := r.joined[connID][roomID]; already {
		return false, true
	}

	r.joined[connID][roomID] = struct{}{}
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Client)
	}
	r.rooms[roomID][connID] = c
	return len(r.rooms[roomID]) == 1, true
}

// Leave removes the connection from a room. last reports whether the room
// dropped to zero local connections (time to unsubscribe on the bus).
func (r *Registry) Leave(connID, roomID string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(connID, roomID)
}

func (r *Registry) leaveLocked(connID, roomID string) (last bool) {
	if set, ok := r.joined[connID]; ok {
		delete(set, roomID)
	}
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, present := members[connID]; !present {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

// ConnectionsInRoom returns the local connections joined to a room.
func (r *Registry) ConnectionsInRoom(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Connections returns every registered connection. Used for global
// (presence) fan-out.
func (r *Registry) Connections() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Unregister removes the connection and atomically snapshots and clears its
// joined rooms, so a disconnect that fires twice cannot double-decrement.
// rooms is every room the connection had joined; emptied is the subset that
// dropped to zero local connections. ok is false if the connection was
// already unregistered.
func (r *Registry) Unregister(connID string) (rooms, emptied []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, registered := r.clients[connID]; !registered {
		return nil, nil, false
	}

	for roomID := range r.joined[connID] {
		rooms = append(rooms, roomID)
		if r.leaveLocked(connID, roomID) {
			emptied = append(emptied, roomID)
		}
	}
	delete(r.joined, connID)
	delete(r.clients, connID)
	return rooms, emptied, true
}
