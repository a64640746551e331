// Package participant implements the participant side of the two-phase
// commit protocol as a pure state machine. All transitions take a state
// value and return the successor state plus any outgoing messages; the
// fault and scheduling model owns delivery, crashes and restarts.
package participant

import (
	"github.com/twopc-checker/common"
)

// State is the full local state of one participant. Phase and the vote
// derived from the log are durable across restart, Alive is volatile.
type State struct {
	ID    common.PartyID
	Txid  string
	Phase common.Phase
	Alive bool
	Log   common.Log
}

// New returns a fresh participant in Init.
func New(id common.PartyID, txid string) State {
	return State{
		ID:    id,
		Txid:  txid,
		Phase: common.Init,
		Alive: true,
	}
}

// VoteFromLog derives the participant's vote from its durable log. A
// vote is only ever sent after the matching intent entry is logged, so
// the log is authoritative even after restart.
func (s State) VoteFromLog() common.Vote {
	if s.Log.Contains(common.Aborting) || s.Log.Contains(common.Aborted) {
		return common.VoteNo
	}
	if s.Log.Contains(common.Prepared) {
		return common.VoteYes
	}
	return common.VoteUnset
}

func (s State) reply(t common.MsgType) common.Message {
	return common.Message{Type: t, From: s.ID, To: common.CoordinatorID, Txid: s.Txid}
}

// Receive applies a delivered coordinator message. vote is the
// externally chosen vote and is only consulted for the first Prepare;
// the explorer branches over both values, the harness samples one.
//
// A nil violation and unchanged state with no replies means the append
// was interrupted by a crash; the message is consumed either way.
func Receive(s State, msg common.Message, vote common.Vote) (State, []common.Message, *common.Violation) {
	if !s.Alive {
		// Crashed parties do not process messages; enabled-event
		// computation never schedules this.
		return s, nil, &common.Violation{
			Rule:   common.RuleProtocol,
			Party:  s.ID,
			Detail: "message delivered to crashed participant",
		}
	}

	switch msg.Type {
	case common.MsgPrepare:
		return s.receivePrepare(vote)
	case common.MsgCommit:
		return s.receiveCommit()
	case common.MsgAbort:
		return s.receiveAbort()
	default:
		return s, nil, &common.Violation{
			Rule:   common.RuleProtocol,
			Party:  s.ID,
			Detail: "unexpected message type " + string(msg.Type),
		}
	}
}

func (s State) receivePrepare(vote common.Vote) (State, []common.Message, *common.Violation) {
	switch s.Phase {
	case common.Init:
		if vote == common.VoteNo {
			// Log the abort intent before the vote leaves the party.
			next, err := s.Log.Append(s.Alive, common.Aborting)
			if err != nil {
				return s, nil, nil
			}
			s.Log = next
			s.Phase = common.Aborting
			return s, []common.Message{s.reply(common.MsgVoteNo)}, nil
		}
		next, err := s.Log.Append(s.Alive, common.Preparing)
		if err != nil {
			return s, nil, nil
		}
		next, err = next.Append(s.Alive, common.Prepared)
		if err != nil {
			return s, nil, nil
		}
		s.Log = next
		s.Phase = common.Prepared
		return s, []common.Message{s.reply(common.MsgVoteYes)}, nil

	case common.Preparing:
		// Restarted mid-prepare: the yes intent is already logged,
		// finish preparing and re-vote.
		next, err := s.Log.Append(s.Alive, common.Prepared)
		if err != nil {
			return s, nil, nil
		}
		s.Log = next
		s.Phase = common.Prepared
		return s, []common.Message{s.reply(common.MsgVoteYes)}, nil

	case common.Prepared, common.Committed:
		// Duplicate Prepare after the vote (or a coordinator restart
		// that lost its vote map): re-send the logged vote.
		return s, []common.Message{s.reply(common.MsgVoteYes)}, nil

	case common.Aborting, common.Aborted:
		return s, []common.Message{s.reply(common.MsgVoteNo)}, nil
	}

	return s, nil, &common.Violation{
		Rule:   common.RuleProtocol,
		Party:  s.ID,
		Detail: "prepare received in phase " + string(s.Phase),
	}
}

func (s State) receiveCommit() (State, []common.Message, *common.Violation) {
	switch s.Phase {
	case common.Prepared:
		next, err := s.Log.Append(s.Alive, common.Committed)
		if err != nil {
			return s, nil, nil
		}
		s.Log = next
		s.Phase = common.Committed
		return s, []common.Message{s.reply(common.MsgAck)}, nil

	case common.Committed:
		// Redelivered decision: no transition, still acked.
		return s, []common.Message{s.reply(common.MsgAck)}, nil
	}

	return s, nil, &common.Violation{
		Rule:   common.RuleProtocol,
		Party:  s.ID,
		Detail: "commit received in phase " + string(s.Phase),
	}
}

func (s State) receiveAbort() (State, []common.Message, *common.Violation) {
	switch s.Phase {
	case common.Init:
		// Unilateral coordinator abort before this party ever saw
		// Prepare: log the intent first so no phase is skipped.
		next, err := s.Log.Append(s.Alive, common.Aborting)
		if err != nil {
			return s, nil, nil
		}
		next, err = next.Append(s.Alive, common.Aborted)
		if err != nil {
			return s, nil, nil
		}
		s.Log = next
		s.Phase = common.Aborted
		return s, []common.Message{s.reply(common.MsgAck)}, nil

	case common.Preparing, common.Prepared, common.Aborting:
		next, err := s.Log.Append(s.Alive, common.Aborted)
		if err != nil {
			return s, nil, nil
		}
		s.Log = next
		s.Phase = common.Aborted
		return s, []common.Message{s.reply(common.MsgAck)}, nil

	case common.Aborted:
		return s, []common.Message{s.reply(common.MsgAck)}, nil
	}

	return s, nil, &common.Violation{
		Rule:   common.RuleProtocol,
		Party:  s.ID,
		Detail: "abort received in phase " + string(s.Phase),
	}
}

// Resend re-sends the participant's last vote. A restarted participant
// in a non-terminal phase must re-synchronize with the coordinator; the
// same path recovers a lost vote message.
func Resend(s State) (State, []common.Message) {
	if !s.Alive {
		return s, nil
	}
	switch s.Phase {
	case common.Prepared:
		return s, []common.Message{s.reply(common.MsgVoteYes)}
	case common.Aborting:
		return s, []common.Message{s.reply(common.MsgVoteNo)}
	}
	return s, nil
}

// Crash marks the participant crashed, preserving its phase and log.
func Crash(s State) State {
	s.Alive = false
	return s
}

// Restart brings a crashed participant back by replaying the log.
// Restart alone never finalizes a transaction: a non-terminal resumed
// phase still needs the coordinator's decision.
func Restart(s State) State {
	s.Alive = true
	s.Phase = s.Log.Fold()
	return s
}
