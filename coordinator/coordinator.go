// Package coordinator implements the coordinator side of the two-phase
// commit protocol as a pure state machine. The coordinator drives the
// participants through the prepare and decision phases; its durable log
// entry for the decision is the single source of truth for the
// transaction outcome.
package coordinator

import (
	"github.com/twopc-checker/common"
)

// State is the full local state of the coordinator. Votes and Acked are
// volatile and reset on restart; the log survives.
type State struct {
	ID           common.PartyID
	Txid         string
	Phase        common.Phase
	Participants []common.PartyID
	Votes        map[common.PartyID]common.Vote
	Acked        map[common.PartyID]bool
	Alive        bool
	Log          common.Log
}

// New returns a fresh coordinator in Init for the given participants.
// The participant order is preserved as passed in (callers keep it
// sorted for canonical state encoding).
func New(txid string, participants []common.PartyID) State {
	return State{
		ID:           common.CoordinatorID,
		Txid:         txid,
		Phase:        common.Init,
		Participants: participants,
		Votes:        make(map[common.PartyID]common.Vote),
		Acked:        make(map[common.PartyID]bool),
		Alive:        true,
	}
}

func (s State) msg(t common.MsgType, to common.PartyID) common.Message {
	return common.Message{Type: t, From: s.ID, To: to, Txid: s.Txid}
}

// AllVotesYes reports whether every participant has voted yes.
func (s State) AllVotesYes() bool {
	for _, p := range s.Participants {
		if s.Votes[p] != common.VoteYes {
			return false
		}
	}
	return true
}

// AnyVoteNo reports whether some participant has voted no.
func (s State) AnyVoteNo() bool {
	for _, p := range s.Participants {
		if s.Votes[p] == common.VoteNo {
			return true
		}
	}
	return false
}

func (s State) allAcked() bool {
	for _, p := range s.Participants {
		if !s.Acked[p] {
			return false
		}
	}
	return true
}

// Start begins (or, after a restart in Preparing, resumes) the prepare
// phase: the phase is logged before any Prepare message is sent.
func Start(s State) (State, []common.Message, *common.Violation) {
	switch s.Phase {
	case common.Init:
		next, err := s.Log.Append(s.Alive, common.Preparing)
		if err != nil {
			return s, nil, nil
		}
		s.Log = next
	case common.Preparing:
		// Already logged before the crash, just re-broadcast.
	default:
		return s, nil, &common.Violation{
			Rule:   common.RuleProtocol,
			Party:  s.ID,
			Detail: "start in phase " + string(s.Phase),
		}
	}

	s.Phase = common.WaitingVotes
	out := make([]common.Message, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, s.msg(common.MsgPrepare, p))
	}
	return s, out, nil
}

// Receive applies a delivered participant message.
func Receive(s State, msg common.Message) (State, []common.Message, *common.Violation) {
	if !s.Alive {
		return s, nil, &common.Violation{
			Rule:   common.RuleProtocol,
			Party:  s.ID,
			Detail: "message delivered to crashed coordinator",
		}
	}

	switch msg.Type {
	case common.MsgVoteYes, common.MsgVoteNo:
		// Votes only matter while no decision is logged; late or
		// duplicate votes after the decision are ignored.
		if s.Phase == common.Preparing || s.Phase == common.WaitingVotes {
			votes := make(map[common.PartyID]common.Vote, len(s.Votes)+1)
			for k, v := range s.Votes {
				votes[k] = v
			}
			if msg.Type == common.MsgVoteYes {
				votes[msg.From] = common.VoteYes
			} else {
				votes[msg.From] = common.VoteNo
			}
			s.Votes = votes
		}
		return s, nil, nil

	case common.MsgAck:
		switch s.Phase {
		case common.Committing, common.Aborting:
			acked := make(map[common.PartyID]bool, len(s.Acked)+1)
			for k, v := range s.Acked {
				acked[k] = v
			}
			acked[msg.From] = true
			s.Acked = acked
			if s.allAcked() {
				next, err := s.Log.Append(s.Alive, common.Done)
				if err != nil {
					return s, nil, nil
				}
				s.Log = next
				s.Phase = common.Done
			}
			return s, nil, nil
		case common.Done:
			return s, nil, nil
		}
		return s, nil, &common.Violation{
			Rule:   common.RuleProtocol,
			Party:  s.ID,
			Detail: "ack received in phase " + string(s.Phase),
		}
	}

	return s, nil, &common.Violation{
		Rule:   common.RuleProtocol,
		Party:  s.ID,
		Detail: "unexpected message type " + string(msg.Type),
	}
}

// Decide writes the decision to the durable log. No message is sent
// here: the write-ahead ordering is what makes a crash between the log
// write and the sends recoverable. Commit requires a unanimous yes vote.
func Decide(s State, d common.Decision) (State, *common.Violation) {
	if s.Phase != common.WaitingVotes {
		return s, &common.Violation{
			Rule:   common.RuleProtocol,
			Party:  s.ID,
			Detail: "decide in phase " + string(s.Phase),
		}
	}
	if d == common.DecisionCommit && !s.AllVotesYes() {
		return s, &common.Violation{
			Rule:   common.RuleValidity,
			Party:  s.ID,
			Detail: "commit decided without unanimous yes votes",
		}
	}

	phase := common.Aborting
	if d == common.DecisionCommit {
		phase = common.Committing
	}
	next, err := s.Log.Append(s.Alive, phase)
	if err != nil {
		return s, nil
	}
	s.Log = next
	s.Phase = phase
	return s, nil
}

// Timeout fires the vote-collection timeout: a unilateral abort, legal
// only while no decision has been logged yet.
func Timeout(s State) (State, *common.Violation) {
	return Decide(s, common.DecisionAbort)
}

// ResendTo re-sends the message the given participant still owes a
// response for: Prepare while collecting votes, the decision afterwards.
// Duplicate sends are expected; participants handle them idempotently.
func ResendTo(s State, p common.PartyID) (State, []common.Message) {
	if !s.Alive {
		return s, nil
	}
	switch s.Phase {
	case common.WaitingVotes:
		if s.Votes[p] == common.VoteUnset {
			return s, []common.Message{s.msg(common.MsgPrepare, p)}
		}
	case common.Committing:
		if !s.Acked[p] {
			return s, []common.Message{s.msg(common.MsgCommit, p)}
		}
	case common.Aborting:
		if !s.Acked[p] {
			return s, []common.Message{s.msg(common.MsgAbort, p)}
		}
	}
	return s, nil
}

// Crash marks the coordinator crashed, preserving phase and log.
func Crash(s State) State {
	s.Alive = false
	return s
}

// Restart replays the log: a logged decision is resumed and re-sent, a
// log that only reached Preparing reopens the vote collection, an empty
// log starts over. The volatile vote and ack maps are lost.
func Restart(s State) State {
	s.Alive = true
	s.Phase = s.Log.Fold()
	s.Votes = make(map[common.PartyID]common.Vote)
	s.Acked = make(map[common.PartyID]bool)
	return s
}
