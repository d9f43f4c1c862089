// Package userdir defines the user-directory collaborator the messaging
// engine consumes to resolve identities into display profiles. Identity
// establishment itself happens upstream; the engine only reads.
package userdir

import "sync"

// Profile is the resolved display form of a user id.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Directory resolves user ids. Implementations must be safe for
// concurrent use.
type Directory interface {
	Resolve(userID string) (Profile, bool)
}

// Memory is an in-memory Directory seeded from authenticate handshakes.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemory() *Memory {
	return &Memory{profiles: make(map[string]Profile)}
}

// Put records or refreshes a profile.
func (d *Memory) Put(p Profile) {
	d.mu.Lock()
	d.profiles[p.UserID] = p
	d.mu.Unlock()
}

func (d *Memory) Resolve(userID string) (Profile, bool) {
	d.mu.RLock()
	p, ok := d.profiles[userID]
	d.mu.RUnlock()
	return p, ok
}

// DisplayName resolves a user id to its display name, falling back to
// the id itself when the directory has no entry.
func DisplayName(d Directory, userID string) string {
	if d != nil {
		if p, ok := d.Resolve(userID); ok && p.DisplayName != "" {
			return p.DisplayName
		}
	}
	return userID
}
