// internal/chat/presence.go

package chat

import "sync"

// PresenceTracker counts live connections per user. A user is online while
// at least one of their connections is open; presence events fire only on
// the first connect and the last disconnect.
type PresenceTracker struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{conns: make(map[string]int)}
}

// Connect registers one connection and reports whether the user just came
// online (this was their first connection).
func (p *PresenceTracker) Connect(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conns[userID]++
	return p.conns[userID] == 1
}

// Disconnect drops one connection and reports whether the user just went
// offline (this was their last connection).
func (p *PresenceTracker) Disconnect(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.conns[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.conns, userID)
		return true
	}
	p.conns[userID] = n - 1
	return false
}

// IsOnline reports whether the user has at least one open connection
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[userID] > 0
}

// Snapshot returns the ids of every online user
func (p *PresenceTracker) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.conns))
	for id := range p.conns {
		out = append(out, id)
	}
	return out
}
