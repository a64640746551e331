package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/twopc-checker/common"
)

const txid = "tx-test"

func prepareTo(p common.PartyID) common.Message {
	return common.Message{Type: common.MsgPrepare, From: common.CoordinatorID, To: p, Txid: txid}
}

func voteFrom(p common.PartyID, t common.MsgType) common.Message {
	return common.Message{Type: t, From: p, To: common.CoordinatorID, Txid: txid}
}

func commitTo(p common.PartyID) common.Message {
	return common.Message{Type: common.MsgCommit, From: common.CoordinatorID, To: p, Txid: txid}
}

func abortTo(p common.PartyID) common.Message {
	return common.Message{Type: common.MsgAbort, From: common.CoordinatorID, To: p, Txid: txid}
}

func ackFrom(p common.PartyID) common.Message {
	return common.Message{Type: common.MsgAck, From: p, To: common.CoordinatorID, Txid: txid}
}

// run drives an explicit event sequence, checking the safety invariants
// and the append-only log rule on every edge it takes.
type run struct {
	t *testing.T
	m Model
	s GlobalState
}

func newRun(t *testing.T, opts Options, parts ...common.PartyID) *run {
	return &run{t: t, m: New(opts), s: NewRun(txid, parts)}
}

func (r *run) step(e Event) {
	r.t.Helper()
	next, viol, err := r.m.Apply(r.s, e)
	assert.NoErrorf(r.t, err, "event %s not applicable", e)
	assert.Nilf(r.t, viol, "event %s raised %v", e, viol)
	assert.Empty(r.t, CheckLogExtension(r.s, next))
	assert.Empty(r.t, r.m.CheckInvariants(next))
	r.s = next
}

func (r *run) deliver(msg common.Message, vote common.Vote) {
	r.t.Helper()
	r.step(Event{Type: EventDeliver, Party: msg.To, Msg: msg, Vote: vote})
}

func (r *run) enabledHas(want Event) bool {
	for _, e := range r.m.Enabled(r.s) {
		if e == want {
			return true
		}
	}
	return false
}

func TestAllYesRunCommits(t *testing.T) {
	r := newRun(t, Options{}, "p1", "p2")

	r.step(Event{Type: EventStart, Party: common.CoordinatorID})
	r.deliver(prepareTo("p1"), common.VoteYes)
	r.deliver(prepareTo("p2"), common.VoteYes)
	r.deliver(voteFrom("p1", common.MsgVoteYes), common.VoteUnset)
	r.deliver(voteFrom("p2", common.MsgVoteYes), common.VoteUnset)

	assert.True(t, r.enabledHas(Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionCommit}))
	r.step(Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionCommit})

	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p1"})
	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p2"})
	r.deliver(commitTo("p1"), common.VoteUnset)
	r.deliver(commitTo("p2"), common.VoteUnset)
	r.deliver(ackFrom("p1"), common.VoteUnset)
	r.deliver(ackFrom("p2"), common.VoteUnset)

	assert.True(t, r.s.IsTerminal())
	assert.Equal(t, common.Done, r.s.Coord.Phase)
	assert.Equal(t, common.Committed, r.s.Parts["p1"].Phase)
	assert.Equal(t, common.Committed, r.s.Parts["p2"].Phase)
}

func TestOneNoVoteForcesAbort(t *testing.T) {
	r := newRun(t, Options{}, "p1", "p2")

	r.step(Event{Type: EventStart, Party: common.CoordinatorID})
	r.deliver(prepareTo("p1"), common.VoteYes)
	r.deliver(prepareTo("p2"), common.VoteNo)
	r.deliver(voteFrom("p1", common.MsgVoteYes), common.VoteUnset)
	r.deliver(voteFrom("p2", common.MsgVoteNo), common.VoteUnset)

	// A recorded no-vote rules the commit branch out entirely.
	assert.False(t, r.enabledHas(Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionCommit}))
	r.step(Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionAbort})

	// Write-ahead: the decision is durable before any abort is sent.
	assert.Equal(t, common.DecisionAbort, r.s.Coord.Log.Decision())
	assert.Equal(t, 0, r.s.InFlight.Count(abortTo("p1")))
	assert.Equal(t, 0, r.s.InFlight.Count(abortTo("p2")))

	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p1"})
	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p2"})
	r.deliver(abortTo("p1"), common.VoteUnset)
	r.deliver(abortTo("p2"), common.VoteUnset)
	r.deliver(ackFrom("p1"), common.VoteUnset)
	r.deliver(ackFrom("p2"), common.VoteUnset)

	assert.True(t, r.s.IsTerminal())
	assert.Equal(t, common.Aborted, r.s.Parts["p1"].Phase)
	assert.Equal(t, common.Aborted, r.s.Parts["p2"].Phase)
}

func TestParticipantCrashAfterPreparedStillCommits(t *testing.T) {
	r := newRun(t, Options{MaxCrashesPerParty: 1}, "p1", "p2")

	r.step(Event{Type: EventStart, Party: common.CoordinatorID})
	r.deliver(prepareTo("p1"), common.VoteYes)
	r.deliver(prepareTo("p2"), common.VoteYes)
	r.deliver(voteFrom("p1", common.MsgVoteYes), common.VoteUnset)
	r.deliver(voteFrom("p2", common.MsgVoteYes), common.VoteUnset)

	// p1 crashes after logging prepared but before any decision exists;
	// its recorded vote keeps the commit branch enabled.
	r.step(Event{Type: EventCrash, Party: "p1"})
	assert.Equal(t, 1, r.s.Crashes["p1"])
	// Crashed parties cannot be crashed again within the budget.
	assert.False(t, r.enabledHas(Event{Type: EventCrash, Party: "p1"}))
	assert.True(t, r.enabledHas(Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionCommit}))

	r.step(Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionCommit})
	r.step(Event{Type: EventRestart, Party: "p1"})
	assert.Equal(t, common.Prepared, r.s.Parts["p1"].Phase, "prepared survives the crash via the log")

	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p1"})
	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p2"})
	r.deliver(commitTo("p1"), common.VoteUnset)
	r.deliver(commitTo("p2"), common.VoteUnset)
	r.deliver(ackFrom("p1"), common.VoteUnset)
	r.deliver(ackFrom("p2"), common.VoteUnset)

	assert.True(t, r.s.IsTerminal())
	assert.Equal(t, common.Committed, r.s.Parts["p1"].Phase)
}

func TestCoordinatorCrashAfterCommitDecisionNeverAborts(t *testing.T) {
	r := newRun(t, Options{MaxCrashesPerParty: 1, EnableTimeout: true}, "p1", "p2")

	r.step(Event{Type: EventStart, Party: common.CoordinatorID})
	r.deliver(prepareTo("p1"), common.VoteYes)
	r.deliver(prepareTo("p2"), common.VoteYes)
	r.deliver(voteFrom("p1", common.MsgVoteYes), common.VoteUnset)
	r.deliver(voteFrom("p2", common.MsgVoteYes), common.VoteUnset)
	r.step(Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionCommit})

	// Crash before a single Commit was sent: the decision exists only
	// in the durable log.
	r.step(Event{Type: EventCrash, Party: common.CoordinatorID})
	r.step(Event{Type: EventRestart, Party: common.CoordinatorID})
	assert.Equal(t, common.Committing, r.s.Coord.Phase)

	// After the restart neither a timeout nor a fresh decision can
	// fire: the logged commit is irrevocable.
	for _, e := range r.m.Enabled(r.s) {
		assert.NotEqual(t, EventTimeout, e.Type)
		assert.NotEqual(t, EventDecide, e.Type)
	}

	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p1"})
	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p2"})
	assert.Equal(t, 0, r.s.InFlight.Count(abortTo("p1")), "no abort may ever be sent")
	r.deliver(commitTo("p1"), common.VoteUnset)
	r.deliver(commitTo("p2"), common.VoteUnset)
	r.deliver(ackFrom("p1"), common.VoteUnset)
	r.deliver(ackFrom("p2"), common.VoteUnset)

	assert.True(t, r.s.IsTerminal())
	assert.Equal(t, common.Committed, r.s.Parts["p1"].Phase)
	assert.Equal(t, common.Committed, r.s.Parts["p2"].Phase)
}

func TestDuplicatedCommitActsOnce(t *testing.T) {
	votes := map[common.PartyID]common.Vote{"p1": common.VoteYes}
	r := newRun(t, Options{Votes: votes, EnableDuplication: true}, "p1")

	r.step(Event{Type: EventStart, Party: common.CoordinatorID})
	r.deliver(prepareTo("p1"), common.VoteYes)
	r.deliver(voteFrom("p1", common.MsgVoteYes), common.VoteUnset)
	r.step(Event{Type: EventDecide, Party: common.CoordinatorID, Decision: common.DecisionCommit})
	r.step(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p1"})
	r.step(Event{Type: EventDuplicate, Msg: commitTo("p1")})
	assert.Equal(t, 2, r.s.InFlight.Count(commitTo("p1")))

	r.deliver(commitTo("p1"), common.VoteUnset)
	r.deliver(commitTo("p1"), common.VoteUnset)

	// Both copies were acked, but the state transition happened once.
	assert.Equal(t, 2, r.s.InFlight.Count(ackFrom("p1")))
	committed := 0
	for _, e := range r.s.Parts["p1"].Log.ReadAll() {
		if e.Phase == common.Committed {
			committed++
		}
	}
	assert.Equal(t, 1, committed)

	r.deliver(ackFrom("p1"), common.VoteUnset)
	assert.Equal(t, common.Done, r.s.Coord.Phase)
	assert.True(t, r.s.IsTerminal(), "a stale duplicate ack does not block termination")

	// The late ack copy is absorbed without effect.
	r.deliver(ackFrom("p1"), common.VoteUnset)
	assert.Equal(t, common.Done, r.s.Coord.Phase)
}

func TestEnabledBranchesUnpinnedVote(t *testing.T) {
	r := newRun(t, Options{}, "p1")
	r.step(Event{Type: EventStart, Party: common.CoordinatorID})

	assert.True(t, r.enabledHas(Event{Type: EventDeliver, Party: "p1", Msg: prepareTo("p1"), Vote: common.VoteYes}))
	assert.True(t, r.enabledHas(Event{Type: EventDeliver, Party: "p1", Msg: prepareTo("p1"), Vote: common.VoteNo}))
}

func TestDropLosesTheOnlyCopy(t *testing.T) {
	r := newRun(t, Options{EnableLoss: true}, "p1")
	r.step(Event{Type: EventStart, Party: common.CoordinatorID})
	assert.Equal(t, 1, r.s.InFlight.Count(prepareTo("p1")))

	r.step(Event{Type: EventDrop, Msg: prepareTo("p1")})
	assert.Equal(t, 0, r.s.InFlight.Count(prepareTo("p1")))

	// Recovery path: the coordinator re-sends to the silent party.
	assert.True(t, r.enabledHas(Event{Type: EventResend, Party: common.CoordinatorID, Target: "p1"}))
}

func TestApplyNeverMutatesInput(t *testing.T) {
	r := newRun(t, Options{}, "p1", "p2")
	before := r.s.Key()

	next, viol, err := r.m.Apply(r.s, Event{Type: EventStart, Party: common.CoordinatorID})
	assert.NoError(t, err)
	assert.Nil(t, viol)
	assert.Equal(t, before, r.s.Key(), "input state must be untouched")
	assert.NotEqual(t, before, next.Key())
}

func TestCloneSharesNothing(t *testing.T) {
	s := NewRun(txid, []common.PartyID{"p1", "p2"})
	s.InFlight.Add(prepareTo("p1"), 1)
	s.Crashes["p2"] = 1
	s.Coord.Votes["p1"] = common.VoteYes
	var err error
	s.Coord.Log, err = s.Coord.Log.Append(true, common.Preparing)
	assert.NoError(t, err)

	c := s.Clone()
	assert.Equal(t, s.Key(), c.Key())

	// Nothing may be lost in the copy: the multiset has a struct key,
	// which needs its own copy path.
	assert.Equal(t, 1, c.InFlight.Count(prepareTo("p1")))
	assert.Equal(t, 1, c.Crashes["p2"])
	assert.Equal(t, common.VoteYes, c.Coord.Votes["p1"])
	assert.Equal(t, 1, c.Coord.Log.Len())

	c.InFlight.Remove(prepareTo("p1"))
	c.Crashes["p1"] = 3
	c.Coord.Votes["p2"] = common.VoteNo
	c.Coord.Acked["p1"] = true
	p := c.Parts["p1"]
	p.Phase = common.Committed
	c.Parts["p1"] = p

	assert.Equal(t, 1, s.InFlight.Count(prepareTo("p1")))
	assert.Equal(t, 0, s.Crashes["p1"])
	assert.Equal(t, common.VoteUnset, s.Coord.Votes["p2"])
	assert.False(t, s.Coord.Acked["p1"])
	assert.Equal(t, common.Init, s.Parts["p1"].Phase)
}

func TestKeyIsCanonical(t *testing.T) {
	a := NewRun(txid, []common.PartyID{"p1", "p2", "p3"})
	b := NewRun(txid, []common.PartyID{"p3", "p1", "p2"})
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, a.Hash(), b.Hash())

	m := New(Options{})
	next, _, _ := m.Apply(a, Event{Type: EventStart, Party: common.CoordinatorID})
	assert.NotEqual(t, a.Key(), next.Key())
}

func TestMultisetCap(t *testing.T) {
	ms := make(Multiset)
	msg := prepareTo("p1")

	assert.True(t, ms.Add(msg, 2))
	assert.True(t, ms.Add(msg, 2))
	assert.False(t, ms.Add(msg, 2), "the copy cap bounds the in-flight count")
	assert.Equal(t, 2, ms.Count(msg))

	assert.True(t, ms.Remove(msg))
	assert.True(t, ms.Remove(msg))
	assert.False(t, ms.Remove(msg))
	assert.Equal(t, 0, ms.Size())

	expected := []common.Message{}
	assert.Truef(t, cmp.Equal(expected, ms.Sorted()), "Expected %v but got %v", expected, ms.Sorted())
}
