package mcp

import "sync"

// SessionRegistry maps user identities to MCP session IDs.
// Populated when a tool is called with a user_id or approver.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // identity → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates an identity with a session ID, replacing any earlier one.
func (r *SessionRegistry) Register(identity, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[identity] = sessionID
}

// SessionFor returns the session ID for the given identity, if connected.
func (r *SessionRegistry) SessionFor(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[identity]
	return sid, ok
}

// Remove deletes every identity mapped to sessionID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, id)
		}
	}
}

// Len returns the number of mapped identities.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
