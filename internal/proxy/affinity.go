// internal/proxy/affinity.go
package proxy

import (
	"sync"
	"time"
)

type affinityEntry struct {
	egressID  string
	expiresAt time.Time
}

// AffinityStore binds sticky session groups to egress points with a TTL.
type AffinityStore struct {
	mu      sync.Mutex
	entries map[string]affinityEntry
	ttl     time.Duration
}

// NewAffinityStore creates a store with the given TTL
func NewAffinityStore(ttl time.Duration) *AffinityStore {
	return &AffinityStore{entries: make(map[string]affinityEntry), ttl: ttl}
}

// SetTTL changes the TTL applied on subsequent binds and refreshes.
func (s *AffinityStore) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// Lookup returns the bound egress id for group if the entry is live and
// valid(id) holds. Live entries are refreshed; invalid or expired ones are deleted.
func (s *AffinityStore) Lookup(group string, now time.Time, valid func(id string) bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[group]
	if !ok {
		return "", false
	}
	if !now.Before(e.expiresAt) || !valid(e.egressID) {
		delete(s.entries, group)
		return "", false
	}
	e.expiresAt = now.Add(s.ttl)
	s.entries[group] = e
	return e.egressID, true
}

// Bind records group -> egressID.
func (s *AffinityStore) Bind(group, egressID string, now time.Time) {
	s.mu.Lock()
	s.entries[group] = affinityEntry{egressID: egressID, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
}

// PurgeEgress removes every entry referencing egressID.
func (s *AffinityStore) PurgeEgress(egressID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for group, e := range s.entries {
		if e.egressID == egressID {
			delete(s.entries, group)
			removed++
		}
	}
	return removed
}

// Cleanup removes expired entries.
func (s *AffinityStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for group, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, group)
			removed++
		}
	}
	return removed
}

// Reset drops all entries.
func (s *AffinityStore) Reset() {
	s.mu.Lock()
	s.entries = make(map[string]affinityEntry)
	s.mu.Unlock()
}

// Active counts unexpired entries.
func (s *AffinityStore) Active(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}
