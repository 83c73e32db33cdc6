package discovery

import (
	"sync"
)

// ParticipantRegistry caches participant metadata keyed by participant key.
// Entries are never evicted: participants are low-cardinality and
// long-lived, and filters look them up on every event.
type ParticipantRegistry struct {
	mu           sync.RWMutex
	participants map[string]*ParticipantData
}

var _ ParticipantLookup = (*ParticipantRegistry)(nil)

// NewParticipantRegistry creates an empty registry.
func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{
		participants: make(map[string]*ParticipantData),
	}
}

// Put stores or replaces participant metadata.
func (r *ParticipantRegistry) Put(data *ParticipantData) {
	if data == nil || data.Key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[data.Key] = data
}

// Remove drops a participant.
func (r *ParticipantRegistry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, key)
}

// Participant returns the metadata for key, or nil if unknown.
func (r *ParticipantRegistry) Participant(key string) *ParticipantData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants[key]
}

// Count returns the number of known participants.
func (r *ParticipantRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}
