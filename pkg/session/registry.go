// Package session tracks which channels a client has joined and which one the
// consuming UI is currently looking at.
package session

import (
	"sort"
	"sync"
)

// Match describes why an inbound channel is, or is not, relevant.
type Match int

const (
	// MatchNone means the channel is neither active nor joined.
	MatchNone Match = iota
	// MatchActive means the channel is the active session.
	MatchActive
	// MatchMember means the channel is joined but not active.
	MatchMember
)

func (m Match) String() string {
	switch m {
	case MatchActive:
		return "active"
	case MatchMember:
		return "member"
	default:
		return "none"
	}
}

// Registry holds the channel membership set and the active session.
// Membership is a set, so joining twice is a no-op. The active session is
// expected to be a member but this is not enforced.
type Registry struct {
	mu      sync.RWMutex
	members map[string]struct{}
	active  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[string]struct{})}
}

// Add records channelID as joined and reports whether it was newly added.
func (r *Registry) Add(channelID string) bool {
	if channelID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[channelID]; ok {
		return false
	}
	r.members[channelID] = struct{}{}
	return true
}

// Remove drops channelID from membership and reports whether it was present.
func (r *Registry) Remove(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[channelID]; !ok {
		return false
	}
	delete(r.members, channelID)
	return true
}

// Has reports whether channelID is joined.
func (r *Registry) Has(channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[channelID]
	return ok
}

// Members returns the joined channels in sorted order.
func (r *Registry) Members() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of joined channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// SetActive makes channelID the active session. It returns the previous
// active session and whether it differed from channelID and was set, which is
// the caller's cue to purge state tied to the previous one.
func (r *Registry) SetActive(channelID string) (previous string, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.active
	r.active = channelID
	return previous, previous != "" && previous != channelID
}

// ClearActive unsets the active session and returns what it was.
func (r *Registry) ClearActive() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.active
	r.active = ""
	return previous
}

// Active returns the active session, if set.
func (r *Registry) Active() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.active != ""
}

// Match classifies channelID against the active session and membership.
// An event is relevant if it targets the active session or any joined channel.
func (r *Registry) Match(channelID string) Match {
	if channelID == "" {
		return MatchNone
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active != "" && channelID == r.active {
		return MatchActive
	}
	if _, ok := r.members[channelID]; ok {
		return MatchMember
	}
	return MatchNone
}

// Relevant reports whether an event for channelID should reach subscribers.
func (r *Registry) Relevant(channelID string) bool {
	return r.Match(channelID) != MatchNone
}

// Clear drops all membership and the active session.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[string]struct{})
	r.active = ""
}
