package chat

import "sync"

// Presence is the set of users last reported online. It is driven only by
// presence pushes and may drift until the next one.
type Presence struct {
	mu     sync.RWMutex
	online map[int64]struct{}
}

// NewPresence creates an empty set.
func NewPresence() *Presence {
	return &Presence{online: make(map[int64]struct{})}
}

func (p *Presence) Online(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = struct{}{}
}

func (p *Presence) Offline(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
}

// IsOnline reports whether userID is in the set.
func (p *Presence) IsOnline(userID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Len returns the number of online users.
func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

// Clear empties the set.
func (p *Presence) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[int64]struct{})
}
