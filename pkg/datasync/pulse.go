package datasync

import (
	"sort"
	"sync"
	"time"
)

// PulseTTL is how long a newly observed IP stays highlighted, independent
// of the polling cadence.
const PulseTTL = 1500 * time.Millisecond

// PulseRegistry is an expiring-entry set: each key carries a fixed expiry
// instant from the moment it is marked. Entries are removed by the periodic
// sweep or pruned lazily on read, whichever comes first.
type PulseRegistry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time // key -> expiry instant
	now     func() time.Time
}

// NewPulseRegistry creates a registry with the given TTL. A non-positive
// ttl falls back to PulseTTL.
func NewPulseRegistry(ttl time.Duration) *PulseRegistry {
	if ttl <= 0 {
		ttl = PulseTTL
	}
	return &PulseRegistry{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Mark adds or refreshes a key. The expiry is fixed relative to this call.
func (r *PulseRegistry) Mark(key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = r.now().Add(r.ttl)
}

// Contains reports whether key is currently pulsing, pruning it if expired.
func (r *PulseRegistry) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.entries[key]
	if !ok {
		return false
	}
	if r.now().After(expiry) {
		delete(r.entries, key)
		return false
	}
	return true
}

// Active returns the currently pulsing keys in sorted order, pruning
// expired entries along the way.
func (r *PulseRegistry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	keys := make([]string, 0, len(r.entries))
	for key, expiry := range r.entries {
		if now.After(expiry) {
			delete(r.entries, key)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Sweep removes all expired entries and returns how many were removed.
func (r *PulseRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	removed := 0
	for key, expiry := range r.entries {
		if now.After(expiry) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including any not yet swept.
func (r *PulseRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
