/*
Package presence tracks which users currently hold live connections.

A user is online while at least one handle is registered for them. Register and
Unregister report the online/offline transitions; raising the resulting
presence event is left to the caller.
*/
package presence

import "sync"

// Handle is one live connection as the registry sees it.
type Handle interface {
	// ID uniquely identifies the connection.
	ID() string

	// UserID is the identity the connection is bound to.
	UserID() string

	// Send queues an encoded event for delivery. It must not block.
	Send(event []byte) error
}

// Status is a user's presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Change is a presence transition of one user.
type Change struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
}

// Registry maps users to their live handles.
// Implementations must be safe for concurrent use.
type Registry interface {
	// Register adds h for userID and reports whether the user just came online.
	Register(userID string, h Handle) bool

	// Unregister removes h. removed reports whether h was registered at all;
	// wentOffline whether it was the user's last handle. Removing an unknown
	// handle is a no-op that reports false for both.
	Unregister(userID string, h Handle) (removed, wentOffline bool)

	// Lookup returns the user's live handles, possibly none.
	Lookup(userID string) []Handle

	// IsOnline reports whether the user has at least one live handle.
	IsOnline(userID string) bool

	// OnlineUsers returns the ids of every online user.
	OnlineUsers() []string

	// All returns every live handle.
	All() []Handle
}

// Memory is the process-local Registry.
type Memory struct {
	mu    sync.RWMutex
	users map[string]map[string]Handle
}

// compile-time check that Memory satisfies Registry.
var _ Registry = (*Memory)(nil)

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[string]map[string]Handle),
	}
}

func (m *Memory) Register(userID string, h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles, ok := m.users[userID]
	if !ok {
		handles = make(map[string]Handle)
		m.users[userID] = handles
	}
	handles[h.ID()] = h

	return !ok
}

func (m *Memory) Unregister(userID string, h Handle) (removed, wentOffline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles, ok := m.users[userID]
	if !ok {
		return false, false
	}
	if _, ok := handles[h.ID()]; !ok {
		return false, false
	}

	delete(handles, h.ID())
	if len(handles) > 0 {
		return true, false
	}

	delete(m.users, userID)
	return true, true
}

func (m *Memory) Lookup(userID string) []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handles := m.users[userID]
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		out = append(out, h)
	}
	return out
}

func (m *Memory) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.users[userID]) > 0
}

func (m *Memory) OnlineUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	return ids
}

func (m *Memory) All() []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Handle
	for _, handles := range m.users {
		for _, h := range handles {
			out = append(out, h)
		}
	}
	return out
}
