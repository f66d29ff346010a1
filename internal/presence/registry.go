// Package presence tracks which users hold at least one live connection to
// this process. State is in-memory only and is lost on restart.
package presence

import "sync"

// Registry maps a user to the set of connection IDs currently open for them.
// A user with no connections has no entry.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{users: make(map[string]map[string]struct{})}
}

// Add records connID for userID and reports whether the user just came online.
func (r *Registry) Add(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.users[userID] = conns
	}
	conns[connID] = struct{}{}
	return !ok
}

// Remove forgets connID and reports whether the user just went offline.
// Removing an unknown connection is a no-op.
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}
	delete(r.users, userID)
	return true
}

// IsOnline reports whether userID has at least one open connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Connections returns the number of open connections for userID.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// OnlineCount returns the number of users with at least one connection.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Changed is the bus payload announcing a user's online/offline transition.
type Changed struct {
	UserID string
	Online bool
}
