package harness

import (
	"fmt"
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/twopc-checker/common"
	"github.com/twopc-checker/model"
)

// Harness runs scenarios and evaluates the safety and liveness
// properties on the resulting path.
type Harness struct {
	log *log.Entry
}

// New returns a harness logging through the given logger.
func New(logger *log.Logger) *Harness {
	return &Harness{log: logger.WithField("component", "harness")}
}

// RunResult is the outcome of one scenario run.
type RunResult struct {
	Scenario Scenario
	Path     *model.PathResult

	// Committed/Aborted classify the terminal outcome; both false for
	// a non-terminal final state.
	Committed bool
	Aborted   bool

	// Live is true when the run reached a terminal state within the
	// step bound once faults ceased.
	Live bool
}

// Failed reports whether the run surfaced a violation.
func (r *RunResult) Failed() bool {
	return len(r.Path.Violations) > 0
}

// scenarioScheduler samples events uniformly, subject to the fault
// plan: after the cutoff step no crash, drop or duplicate events are
// chosen and crashed parties are restarted first, making the tail of
// the run fault-free and fair.
type scenarioScheduler struct {
	rnd    *rand.Rand
	cutoff int
	steps  int
}

func (s *scenarioScheduler) Next(_ model.GlobalState, enabled []model.Event) (model.Event, bool) {
	defer func() { s.steps++ }()
	if s.steps < s.cutoff {
		return enabled[s.rnd.Intn(len(enabled))], true
	}

	var restarts, progress []model.Event
	for _, e := range enabled {
		switch e.Type {
		case model.EventRestart:
			restarts = append(restarts, e)
		case model.EventCrash, model.EventDrop, model.EventDuplicate:
			// Faults ceased.
		default:
			progress = append(progress, e)
		}
	}
	if len(restarts) > 0 {
		return restarts[s.rnd.Intn(len(restarts))], true
	}
	if len(progress) == 0 {
		return model.Event{}, false
	}
	return progress[s.rnd.Intn(len(progress))], true
}

// Run validates the scenario, walks one random path and evaluates the
// invariants plus liveness-under-fairness.
func (h *Harness) Run(sc Scenario) (*RunResult, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	m := model.New(model.Options{
		Votes:              sc.VoteMap(),
		MaxCrashesPerParty: sc.CrashBudget,
		EnableLoss:         sc.Loss,
		EnableDuplication:  sc.Duplication,
		EnableTimeout:      true,
	})
	initial := model.NewRun(sc.Txid, sc.ParticipantIDs())
	sched := &scenarioScheduler{
		rnd:    rand.New(rand.NewSource(sc.Seed)),
		cutoff: sc.FaultCutoff,
	}

	path := m.RunPath(initial, sched, sc.MaxSteps)
	res := &RunResult{Scenario: sc, Path: path, Live: path.Terminal}

	if len(path.Violations) == 0 && !path.Terminal {
		// Faults ceased at the cutoff and every party was restarted,
		// so the transaction had to finish within the step bound.
		path.Violations = append(path.Violations, common.Violation{
			Rule: common.RuleLiveness,
			Detail: fmt.Sprintf("no terminal state within %d steps (faults ceased at step %d)",
				sc.MaxSteps, sc.FaultCutoff),
		})
	}

	if path.Terminal {
		res.Committed = true
		res.Aborted = true
		for _, id := range path.Final.PartIDs() {
			switch path.Final.Parts[id].Phase {
			case common.Committed:
				res.Aborted = false
			case common.Aborted:
				res.Committed = false
			}
		}
	}

	if res.Failed() {
		h.log.Warnf("scenario %s failed: %s (trace length %d)",
			sc.Txid, path.Violations[0], len(path.Trace))
	} else {
		h.log.Debugf("scenario %s: terminal after %d steps, committed=%t",
			sc.Txid, path.Steps, res.Committed)
	}
	return res, nil
}
