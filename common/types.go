package common

import "fmt"

// PartyID identifies a party in the transaction. The coordinator has a
// fixed id, participants are numbered p1..pN.
type PartyID string

// CoordinatorID is the fixed id of the coordinator party.
const CoordinatorID PartyID = "coord"

// ParticipantID returns the id of the i-th participant (1-based).
func ParticipantID(i int) PartyID {
	return PartyID(fmt.Sprintf("p%d", i))
}

// Phase is enum for the local phases of the 2PC state machines.
type Phase string

const (
	Init      Phase = "init"
	Preparing Phase = "preparing"
	Prepared  Phase = "prepared"

	Committing Phase = "committing"
	Committed  Phase = "committed"
	Aborting   Phase = "aborting"
	Aborted    Phase = "aborted"

	// Coordinator only.
	WaitingVotes Phase = "waiting-votes"
	Done         Phase = "done"
)

// Terminal reports whether the phase is a participant terminal phase.
func (p Phase) Terminal() bool {
	return p == Committed || p == Aborted
}

// Vote is a participant's local vote on the transaction outcome.
type Vote string

const (
	VoteUnset Vote = ""
	VoteYes   Vote = "yes"
	VoteNo    Vote = "no"
)

// Decision is the coordinator's authoritative transaction decision.
type Decision string

const (
	DecisionNone   Decision = ""
	DecisionCommit Decision = "commit"
	DecisionAbort  Decision = "abort"
)

// MsgType is enum for the message vocabulary exchanged between the
// coordinator and the participants.
type MsgType string

const (
	MsgPrepare MsgType = "prepare"
	MsgVoteYes MsgType = "vote-yes"
	MsgVoteNo  MsgType = "vote-no"
	MsgCommit  MsgType = "commit"
	MsgAbort   MsgType = "abort"
	MsgAck     MsgType = "ack"
)

// Message is an immutable in-flight protocol message. It is a comparable
// value type so the transport can keep it as a multiset key; content is
// never corrupted, only delayed, dropped or duplicated.
type Message struct {
	Type MsgType
	From PartyID
	To   PartyID
	Txid string
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s->%s", m.Type, m.From, m.To)
}

// Violation reports a broken protocol invariant. A violation is always
// fatal to the checking run that found it.
type Violation struct {
	Rule   string
	Party  PartyID
	Detail string
}

func (v Violation) String() string {
	if v.Party != "" {
		return fmt.Sprintf("%s [%s]: %s", v.Rule, v.Party, v.Detail)
	}
	return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
}

// Invariant rule names, used in violation reports.
const (
	RuleAtomicity        = "atomicity"
	RuleDecisionConsist  = "decision-consistency"
	RuleValidity         = "validity"
	RuleLogMonotonic     = "log-monotonicity"
	RuleNoOrphanDecision = "no-orphan-decision"
	RuleProtocol         = "protocol-violation"
	RuleLiveness         = "liveness"
)
