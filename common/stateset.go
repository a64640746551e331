package common

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/subchen/go-trylock/v2"
)

const setLockTimeout = 100 * time.Millisecond

// StateSet is the set of visited state keys shared by the explorer
// workers. Keys are canonical global-state encodings.
type StateSet struct {
	set map[string]int // key -> depth first seen, for stats
	mu  trylock.TryLocker
	log *log.Entry
}

// NewStateSet returns an empty visited set.
func NewStateSet(logger *log.Logger) *StateSet {
	return &StateSet{
		set: make(map[string]int),
		mu:  trylock.New(),
		log: logger.WithField("component", "stateset"),
	}
}

// Add records the key at the given depth. It returns true if the key was
// newly added, false if the state was visited before.
func (s *StateSet) Add(key string, depth int) bool {
	if !s.mu.TryLockTimeout(setLockTimeout) {
		// Contention this long means a stuck worker; fall back to a
		// blocking acquire so no state is ever silently skipped.
		s.log.Warn("visited set lock contended, blocking")
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if _, ok := s.set[key]; ok {
		return false
	}
	s.set[key] = depth
	return true
}

// Has reports whether the key was visited.
func (s *StateSet) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[key]
	return ok
}

// Len returns the number of visited states.
func (s *StateSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// DepthCounts returns visited-state counts per depth.
func (s *StateSet) DepthCounts() map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make(map[int]int)
	for _, d := range s.set {
		res[d]++
	}
	return res
}
