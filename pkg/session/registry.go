package session

import (
	"sort"
	"sync"
	"time"
)

// Registry is the authoritative set of live sessions.
//
// At most one session exists per client address. Adding a session for an
// address that already has one evicts the old session; the caller is
// responsible for tearing down the evicted session's resources before the
// new one is granted any.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]Session
	byAddress map[string]string
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]Session),
		byAddress: make(map[string]string),
	}
}

// Add inserts the session. If a session already exists for the same
// address it is removed first and returned with replaced=true.
func (r *Registry) Add(s Session) (replaced Session, didReplace bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldID, ok := r.byAddress[s.Address]; ok {
		replaced = r.byID[oldID]
		didReplace = true
		delete(r.byID, oldID)
	}

	r.byID[s.ID] = s
	r.byAddress[s.Address] = s.ID
	return replaced, didReplace
}

// Remove deletes the session by ID. Removing an unknown ID is a no-op;
// the second return reports whether a session was actually removed.
func (r *Registry) Remove(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return Session{}, false
	}

	delete(r.byID, id)
	if r.byAddress[s.Address] == id {
		delete(r.byAddress, s.Address)
	}
	return s, true
}

// Touch advances the session's activity timestamp. Unknown IDs are
// ignored (the session may have been evicted concurrently).
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return
	}
	s.LastActivityAt = time.Now()
	r.byID[id] = s
}

// Get returns the session by ID.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	return s, ok
}

// FindByAddress returns the session keyed on the given client address.
func (r *Registry) FindByAddress(address string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byAddress[address]
	if !ok {
		return Session{}, false
	}
	return r.byID[id], true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List returns all live sessions ordered by connection time.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

// LastActivity returns the most recent activity timestamp across all
// sessions, or the zero time when the registry is empty.
func (r *Registry) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest time.Time
	for _, s := range r.byID {
		if s.LastActivityAt.After(latest) {
			latest = s.LastActivityAt
		}
	}
	return latest
}
