// Package metric collects exploration statistics: states visited,
// transitions fired, per-depth counts and throughput, with CSV export
// for offline inspection.
package metric

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Stats accumulates counters for one checking run. Safe for concurrent
// use by explorer workers.
type Stats struct {
	mu sync.Mutex

	start       time.Time
	states      int
	transitions int
	deadlocks   int
	terminals   int
	maxFrontier int
	perDepth    map[int]int
}

// NewStats returns zeroed counters with the clock started.
func NewStats() *Stats {
	return &Stats{
		start:    time.Now(),
		perDepth: make(map[int]int),
	}
}

// AddState records one newly visited state at the given depth.
func (s *Stats) AddState(depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states++
	s.perDepth[depth]++
}

// AddTransitions records n fired transitions.
func (s *Stats) AddTransitions(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions += n
}

// AddDeadlock records a non-terminal state with no enabled events.
func (s *Stats) AddDeadlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadlocks++
}

// AddTerminal records a terminal state.
func (s *Stats) AddTerminal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminals++
}

// ObserveFrontier tracks the largest frontier seen.
func (s *Stats) ObserveFrontier(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.maxFrontier {
		s.maxFrontier = n
	}
}

// States returns the visited-state count.
func (s *Stats) States() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states
}

// Transitions returns the fired-transition count.
func (s *Stats) Transitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions
}

// Elapsed returns the wall time since the run started.
func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.start)
}

// Rate returns visited states per second.
func (s *Stats) Rate() float64 {
	sec := s.Elapsed().Seconds()
	if sec <= 0 {
		return 0
	}
	return float64(s.States()) / sec
}

// Summary renders a one-line human-readable digest.
func (s *Stats) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("states=%d transitions=%d terminals=%d deadlocks=%d maxFrontier=%d elapsed=%s",
		s.states, s.transitions, s.terminals, s.deadlocks, s.maxFrontier,
		time.Since(s.start).Round(time.Millisecond))
}

// WriteCSV writes depth,states rows ordered by depth.
func (s *Stats) WriteCSV(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"depth", "states"}); err != nil {
		return err
	}
	depths := make([]int, 0, len(s.perDepth))
	for d := range s.perDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	for _, d := range depths {
		row := []string{strconv.Itoa(d), strconv.Itoa(s.perDepth[d])}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	return writer.Error()
}
