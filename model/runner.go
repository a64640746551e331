package model

import (
	"math/rand"

	"github.com/twopc-checker/common"
)

// Scheduler picks the next event to fire out of the enabled set. The
// explorer enumerates all events itself; single-path drivers (the
// harness, the simulate command) plug a scheduler in here.
type Scheduler interface {
	Next(s GlobalState, enabled []Event) (Event, bool)
}

// RandomScheduler picks uniformly at random among the enabled events.
type RandomScheduler struct {
	rnd *rand.Rand
}

// NewRandomScheduler returns a scheduler seeded deterministically.
func NewRandomScheduler(seed int64) *RandomScheduler {
	return &RandomScheduler{rnd: rand.New(rand.NewSource(seed))}
}

// Next implements Scheduler.
func (r *RandomScheduler) Next(_ GlobalState, enabled []Event) (Event, bool) {
	if len(enabled) == 0 {
		return Event{}, false
	}
	return enabled[r.rnd.Intn(len(enabled))], true
}

// PathResult is the outcome of walking one event path.
type PathResult struct {
	Final      GlobalState
	Trace      []Event
	Violations []common.Violation
	Steps      int
	Terminal   bool
	Stuck      bool
}

// TimeoutFired reports whether the vote-collection timeout fired on the
// path, i.e. the abort was unilateral rather than vote-driven.
func (r *PathResult) TimeoutFired() bool {
	for _, e := range r.Trace {
		if e.Type == EventTimeout {
			return true
		}
	}
	return false
}

// RunPath drives one path from s until the run is terminal, no event is
// enabled, the scheduler declines, a violation is found, or maxSteps
// events have fired. Invariants and per-edge log extension are checked
// after every step; the first violating step ends the walk.
func (m Model) RunPath(s GlobalState, sched Scheduler, maxSteps int) *PathResult {
	res := &PathResult{}
	if v := m.CheckInvariants(s); len(v) > 0 {
		res.Final = s
		res.Violations = v
		return res
	}

	for res.Steps < maxSteps {
		if s.IsTerminal() {
			res.Terminal = true
			break
		}
		enabled := m.Enabled(s)
		if len(enabled) == 0 {
			res.Stuck = true
			break
		}
		e, ok := sched.Next(s, enabled)
		if !ok {
			break
		}

		next, viol, err := m.Apply(s, e)
		if err != nil {
			// Scheduler handed back an event that was not enabled.
			res.Violations = append(res.Violations, common.Violation{
				Rule:   common.RuleProtocol,
				Detail: err.Error(),
			})
			break
		}
		res.Trace = append(res.Trace, e)
		res.Steps++
		if viol != nil {
			res.Violations = append(res.Violations, *viol)
			s = next
			break
		}
		if v := CheckLogExtension(s, next); len(v) > 0 {
			res.Violations = append(res.Violations, v...)
			s = next
			break
		}
		if v := m.CheckInvariants(next); len(v) > 0 {
			res.Violations = append(res.Violations, v...)
			s = next
			break
		}
		s = next
	}

	if s.IsTerminal() {
		res.Terminal = true
	}
	res.Final = s
	return res
}
