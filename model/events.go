package model

import (
	"fmt"

	"github.com/twopc-checker/common"
	"github.com/twopc-checker/coordinator"
	"github.com/twopc-checker/participant"
)

// EventType is enum for the kinds of events the scheduler can fire.
type EventType string

const (
	EventStart     EventType = "start"
	EventDeliver   EventType = "deliver"
	EventDecide    EventType = "decide"
	EventTimeout   EventType = "timeout"
	EventResend    EventType = "resend"
	EventCrash     EventType = "crash"
	EventRestart   EventType = "restart"
	EventDrop      EventType = "drop"
	EventDuplicate EventType = "duplicate"
)

// Event is one schedulable transition of the global state. Events are
// comparable value types; a counterexample trace is a sequence of them.
//
// Party is the acting party (receiver for deliveries, crash/restart
// target, resender for resends). Target is the resend destination for
// coordinator resends. Vote carries the branched vote choice when a
// Prepare is delivered to an undecided participant.
type Event struct {
	Type     EventType
	Party    common.PartyID
	Target   common.PartyID
	Msg      common.Message
	Vote     common.Vote
	Decision common.Decision
}

func (e Event) String() string {
	switch e.Type {
	case EventDeliver:
		if e.Vote != common.VoteUnset {
			return fmt.Sprintf("deliver %s (vote %s)", e.Msg, e.Vote)
		}
		return fmt.Sprintf("deliver %s", e.Msg)
	case EventDecide:
		return fmt.Sprintf("decide %s", e.Decision)
	case EventResend:
		if e.Target != "" {
			return fmt.Sprintf("resend %s -> %s", e.Party, e.Target)
		}
		return fmt.Sprintf("resend %s", e.Party)
	case EventDrop, EventDuplicate:
		return fmt.Sprintf("%s %s", e.Type, e.Msg)
	case EventStart:
		return "start"
	}
	return fmt.Sprintf("%s %s", e.Type, e.Party)
}

// Options configures which events the fault model produces.
type Options struct {
	// Votes pins each participant's vote. A participant with no pinned
	// vote gets both branches enumerated (explorer mode); the harness
	// pins every vote from the sampled scenario.
	Votes map[common.PartyID]common.Vote

	// MaxCrashesPerParty bounds crash events; zero disables crashes.
	MaxCrashesPerParty int

	EnableLoss        bool
	EnableDuplication bool
	EnableTimeout     bool
}

// DupCap is the in-flight copy cap per distinct message: one copy
// normally, two when duplication is modeled. The cap keeps resend loops
// from blowing up the state space.
func (o Options) DupCap() int {
	if o.EnableDuplication {
		return 2
	}
	return 1
}

// Model produces enabled events and applies them. It is immutable and
// safe for concurrent use by explorer workers.
type Model struct {
	Opts Options
}

// New returns a model with the given options.
func New(opts Options) Model {
	return Model{Opts: opts}
}

// Enabled returns every event that can fire at s, in deterministic
// order. A crashed party neither receives nor sends; its messages stay
// in flight.
func (m Model) Enabled(s GlobalState) []Event {
	var events []Event
	limit := m.Opts.DupCap()
	ids := s.PartIDs()

	// Coordinator progress.
	if s.Coord.Alive {
		switch s.Coord.Phase {
		case common.Init, common.Preparing:
			events = append(events, Event{Type: EventStart, Party: common.CoordinatorID})
		case common.WaitingVotes:
			if s.Coord.AllVotesYes() {
				events = append(events, Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionCommit})
			}
			if s.Coord.AnyVoteNo() {
				events = append(events, Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionAbort})
			}
			if m.Opts.EnableTimeout {
				events = append(events, Event{Type: EventTimeout, Party: common.CoordinatorID})
			}
		}
	}

	// Message deliveries, one event per deliverable copy kind; the vote
	// branch applies only to a Prepare arriving at an undecided
	// participant.
	for _, msg := range s.InFlight.Sorted() {
		if msg.To == common.CoordinatorID {
			if s.Coord.Alive {
				events = append(events, Event{Type: EventDeliver, Party: msg.To, Msg: msg})
			}
			continue
		}
		p, ok := s.Parts[msg.To]
		if !ok || !p.Alive {
			continue
		}
		if msg.Type == common.MsgPrepare && p.Phase == common.Init {
			if pinned, ok := m.Opts.Votes[msg.To]; ok {
				events = append(events, Event{Type: EventDeliver, Party: msg.To, Msg: msg, Vote: pinned})
			} else {
				events = append(events,
					Event{Type: EventDeliver, Party: msg.To, Msg: msg, Vote: common.VoteYes},
					Event{Type: EventDeliver, Party: msg.To, Msg: msg, Vote: common.VoteNo},
				)
			}
			continue
		}
		events = append(events, Event{Type: EventDeliver, Party: msg.To, Msg: msg})
	}

	// Coordinator resends to participants that still owe a response.
	// ResendTo is pure, so it doubles as the enabledness probe.
	if s.Coord.Alive {
		for _, id := range ids {
			if _, out := coordinator.ResendTo(s.Coord, id); len(out) > 0 && s.InFlight.Count(out[0]) < limit {
				events = append(events, Event{Type: EventResend, Party: common.CoordinatorID, Target: id})
			}
		}
	}

	// Participant vote re-synchronization (after restart or loss).
	for _, id := range ids {
		if _, out := participant.Resend(s.Parts[id]); len(out) > 0 && s.InFlight.Count(out[0]) < limit {
			events = append(events, Event{Type: EventResend, Party: id})
		}
	}

	// Faults.
	if m.Opts.MaxCrashesPerParty > 0 {
		if s.Coord.Alive && s.Crashes[common.CoordinatorID] < m.Opts.MaxCrashesPerParty {
			events = append(events, Event{Type: EventCrash, Party: common.CoordinatorID})
		}
		for _, id := range ids {
			if s.Parts[id].Alive && s.Crashes[id] < m.Opts.MaxCrashesPerParty {
				events = append(events, Event{Type: EventCrash, Party: id})
			}
		}
	}
	if !s.Coord.Alive {
		events = append(events, Event{Type: EventRestart, Party: common.CoordinatorID})
	}
	for _, id := range ids {
		if !s.Parts[id].Alive {
			events = append(events, Event{Type: EventRestart, Party: id})
		}
	}

	if m.Opts.EnableLoss {
		for _, msg := range s.InFlight.Sorted() {
			events = append(events, Event{Type: EventDrop, Msg: msg})
		}
	}
	if m.Opts.EnableDuplication {
		for _, msg := range s.InFlight.Sorted() {
			if s.InFlight.Count(msg) < limit {
				events = append(events, Event{Type: EventDuplicate, Msg: msg})
			}
		}
	}

	return events
}
