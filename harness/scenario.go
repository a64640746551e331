// Package harness runs randomized transaction scenarios against the
// protocol model: one sampled event path per run, with the same
// invariants the explorer checks plus a liveness property once faults
// cease. The gopter properties in the tests shrink failing scenarios
// toward minimal reproductions.
package harness

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/xid"

	"github.com/twopc-checker/common"
)

// ErrMalformedScenario marks scenarios rejected before running; a
// malformed input is never counted as a found protocol bug.
var ErrMalformedScenario = errors.New("malformed scenario")

// MaxParticipants bounds generated scenarios to keep single runs cheap.
const MaxParticipants = 8

// Scenario is one randomized run description: participant votes, the
// scheduling seed and the fault plan.
type Scenario struct {
	Txid string

	// IDs optionally overrides the participant ids; by default the
	// participants are p1..pN for N = len(Votes).
	IDs []common.PartyID

	// Votes holds each participant's intended vote, in id order.
	Votes []common.Vote

	Seed int64

	// CrashBudget is the max crash count per party; zero means no
	// crash events at all.
	CrashBudget int

	// FaultCutoff is the step index after which no further faults are
	// injected and crashed parties are restarted; the run must then
	// reach a terminal state within MaxSteps.
	FaultCutoff int

	MaxSteps int

	Loss        bool
	Duplication bool
}

// ParticipantIDs returns the effective participant id list.
func (sc Scenario) ParticipantIDs() []common.PartyID {
	if len(sc.IDs) > 0 {
		return sc.IDs
	}
	ids := make([]common.PartyID, len(sc.Votes))
	for i := range sc.Votes {
		ids[i] = common.ParticipantID(i + 1)
	}
	return ids
}

// Validate rejects inconsistent scenarios before they run.
func (sc Scenario) Validate() error {
	if len(sc.Votes) == 0 {
		return fmt.Errorf("%w: no participants", ErrMalformedScenario)
	}
	if len(sc.Votes) > MaxParticipants {
		return fmt.Errorf("%w: %d participants (max %d)", ErrMalformedScenario, len(sc.Votes), MaxParticipants)
	}
	for i, v := range sc.Votes {
		if v != common.VoteYes && v != common.VoteNo {
			return fmt.Errorf("%w: participant %d has vote %q", ErrMalformedScenario, i+1, v)
		}
	}
	if len(sc.IDs) > 0 && len(sc.IDs) != len(sc.Votes) {
		return fmt.Errorf("%w: %d ids for %d votes", ErrMalformedScenario, len(sc.IDs), len(sc.Votes))
	}
	seen := make(map[common.PartyID]bool)
	for _, id := range sc.ParticipantIDs() {
		if id == common.CoordinatorID {
			return fmt.Errorf("%w: participant id collides with coordinator", ErrMalformedScenario)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate participant id %s", ErrMalformedScenario, id)
		}
		seen[id] = true
	}
	if sc.MaxSteps <= 0 {
		return fmt.Errorf("%w: non-positive step bound", ErrMalformedScenario)
	}
	if sc.FaultCutoff < 0 || sc.FaultCutoff >= sc.MaxSteps {
		return fmt.Errorf("%w: fault cutoff %d outside [0,%d)", ErrMalformedScenario, sc.FaultCutoff, sc.MaxSteps)
	}
	if sc.CrashBudget < 0 {
		return fmt.Errorf("%w: negative crash budget", ErrMalformedScenario)
	}
	return nil
}

// VoteMap returns the pinned vote per participant id.
func (sc Scenario) VoteMap() map[common.PartyID]common.Vote {
	ids := sc.ParticipantIDs()
	votes := make(map[common.PartyID]common.Vote, len(ids))
	for i, id := range ids {
		votes[id] = sc.Votes[i]
	}
	return votes
}

// AllYes reports whether every participant intends to vote yes.
func (sc Scenario) AllYes() bool {
	for _, v := range sc.Votes {
		if v != common.VoteYes {
			return false
		}
	}
	return true
}

// NewScenarioRand returns the seeded source RandomScenario draws from.
func NewScenarioRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// RandomScenario samples a scenario for the simulate command. The
// gopter generators in the tests build scenarios the same way.
func RandomScenario(rnd *rand.Rand, maxParticipants int) Scenario {
	if maxParticipants < 1 || maxParticipants > MaxParticipants {
		maxParticipants = 4
	}
	n := 1 + rnd.Intn(maxParticipants)
	votes := make([]common.Vote, n)
	for i := range votes {
		if rnd.Intn(4) == 0 {
			votes[i] = common.VoteNo
		} else {
			votes[i] = common.VoteYes
		}
	}
	return Scenario{
		Txid:        xid.New().String(),
		Votes:       votes,
		Seed:        rnd.Int63(),
		CrashBudget: rnd.Intn(2),
		FaultCutoff: 20 + rnd.Intn(40),
		MaxSteps:    1000,
		Loss:        rnd.Intn(3) == 0,
		Duplication: rnd.Intn(3) == 0,
	}
}
