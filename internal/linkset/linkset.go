// Package linkset is the process-wide set of live links: insert on
// construction, remove on termination, snapshot iteration for the
// schedulers and the completion watcher.
package linkset

import (
	"sync"

	mapset "github.com/deckarep/golang-set"
)

// Link is the minimal surface linkset needs from internal/link.Link, kept
// narrow so this package has no import-cycle on internal/link.
type Link interface {
	ID() string
}

// Set is a concurrent-safe collection of live links.
type Set struct {
	mu  sync.RWMutex
	set mapset.Set
}

// New returns an empty Set.
func New() *Set {
	return &Set{set: mapset.NewSet()}
}

// Add registers a link. Safe to call once per link at construction.
func (s *Set) Add(l Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set.Add(l)
}

// Remove deregisters a link. Safe to call once per link at termination.
func (s *Set) Remove(l Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set.Remove(l)
}

// Snapshot returns an independent slice of the links live at the moment of
// the call. Mutations to the set after this call are not reflected.
func (s *Set) Snapshot() []Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Link, 0, s.set.Cardinality())
	for v := range s.set.Iter() {
		out = append(out, v.(Link))
	}
	return out
}

// Len reports the number of live links.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Cardinality()
}
