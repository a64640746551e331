package model

import (
	"fmt"

	"github.com/twopc-checker/common"
)

var partSuccessors = map[common.Phase][]common.Phase{
	common.Preparing: {common.Prepared, common.Aborted},
	common.Prepared:  {common.Committed, common.Aborted},
	common.Aborting:  {common.Aborted},
}

var coordSuccessors = map[common.Phase][]common.Phase{
	common.Preparing:  {common.Committing, common.Aborting},
	common.Committing: {common.Done},
	common.Aborting:   {common.Done},
}

func legalNext(succ map[common.Phase][]common.Phase, from, to common.Phase) bool {
	for _, p := range succ[from] {
		if p == to {
			return true
		}
	}
	return false
}

func checkLogShape(id common.PartyID, l common.Log, succ map[common.Phase][]common.Phase, first ...common.Phase) []common.Violation {
	var out []common.Violation
	entries := l.ReadAll()
	for i, e := range entries {
		if e.Seq != i {
			out = append(out, common.Violation{
				Rule:   common.RuleLogMonotonic,
				Party:  id,
				Detail: fmt.Sprintf("entry %d has sequence number %d", i, e.Seq),
			})
			return out
		}
	}
	if len(entries) == 0 {
		return nil
	}
	ok := false
	for _, f := range first {
		if entries[0].Phase == f {
			ok = true
		}
	}
	if !ok {
		out = append(out, common.Violation{
			Rule:   common.RuleLogMonotonic,
			Party:  id,
			Detail: fmt.Sprintf("log starts with %s", entries[0].Phase),
		})
	}
	for i := 1; i < len(entries); i++ {
		if !legalNext(succ, entries[i-1].Phase, entries[i].Phase) {
			out = append(out, common.Violation{
				Rule:   common.RuleLogMonotonic,
				Party:  id,
				Detail: fmt.Sprintf("illegal log succession %s -> %s", entries[i-1].Phase, entries[i].Phase),
			})
		}
	}
	return out
}

// CheckInvariants evaluates every safety invariant on s and returns all
// violations found. An empty result means the state is consistent.
func (m Model) CheckInvariants(s GlobalState) []common.Violation {
	var out []common.Violation
	ids := s.PartIDs()

	// Per-party log well-formedness and phase/log agreement.
	out = append(out, checkLogShape(s.Coord.ID, s.Coord.Log, coordSuccessors, common.Preparing)...)
	fold := s.Coord.Log.Fold()
	coordOK := s.Coord.Phase == fold ||
		(fold == common.Preparing && s.Coord.Phase == common.WaitingVotes)
	if !coordOK {
		out = append(out, common.Violation{
			Rule:   common.RuleLogMonotonic,
			Party:  s.Coord.ID,
			Detail: fmt.Sprintf("phase %s behind logged phase %s", s.Coord.Phase, fold),
		})
	}
	for _, id := range ids {
		p := s.Parts[id]
		out = append(out, checkLogShape(id, p.Log, partSuccessors, common.Preparing, common.Aborting)...)
		if p.Phase != p.Log.Fold() {
			out = append(out, common.Violation{
				Rule:   common.RuleLogMonotonic,
				Party:  id,
				Detail: fmt.Sprintf("phase %s does not match logged phase %s", p.Phase, p.Log.Fold()),
			})
		}
	}

	// Atomicity: terminal phases are never mixed.
	var committed, aborted []common.PartyID
	for _, id := range ids {
		switch s.Parts[id].Phase {
		case common.Committed:
			committed = append(committed, id)
		case common.Aborted:
			aborted = append(aborted, id)
		}
	}
	if len(committed) > 0 && len(aborted) > 0 {
		out = append(out, common.Violation{
			Rule:   common.RuleAtomicity,
			Detail: fmt.Sprintf("%v committed while %v aborted", committed, aborted),
		})
	}

	// Coordinator-decision consistency and validity.
	switch s.Coord.Log.Decision() {
	case common.DecisionCommit:
		for _, id := range ids {
			if s.Parts[id].Log.Contains(common.Aborted) {
				out = append(out, common.Violation{
					Rule:   common.RuleDecisionConsist,
					Party:  id,
					Detail: "aborted against a logged commit decision",
				})
			}
			if !s.Parts[id].Log.Contains(common.Prepared) {
				out = append(out, common.Violation{
					Rule:   common.RuleValidity,
					Party:  id,
					Detail: "commit decision without this participant's logged prepare",
				})
			}
			if s.Parts[id].Log.Contains(common.Aborting) {
				out = append(out, common.Violation{
					Rule:   common.RuleValidity,
					Party:  id,
					Detail: "commit decision despite a logged no-vote",
				})
			}
		}
	case common.DecisionAbort:
		for _, id := range ids {
			if s.Parts[id].Log.Contains(common.Committed) {
				out = append(out, common.Violation{
					Rule:   common.RuleDecisionConsist,
					Party:  id,
					Detail: "committed against a logged abort decision",
				})
			}
		}
	}

	// No orphan decision: a terminal entry needs a logged intent first.
	for _, id := range ids {
		entries := s.Parts[id].Log.ReadAll()
		for i, e := range entries {
			switch e.Phase {
			case common.Committed:
				if !hasBefore(entries, i, common.Prepared) {
					out = append(out, common.Violation{
						Rule:   common.RuleNoOrphanDecision,
						Party:  id,
						Detail: "committed without a prior prepared entry",
					})
				}
			case common.Aborted:
				if !hasBefore(entries, i, common.Preparing, common.Prepared, common.Aborting) {
					out = append(out, common.Violation{
						Rule:   common.RuleNoOrphanDecision,
						Party:  id,
						Detail: "aborted without a prior intent entry",
					})
				}
			}
		}
	}

	return out
}

func hasBefore(entries []common.LogEntry, idx int, phases ...common.Phase) bool {
	for i := 0; i < idx; i++ {
		for _, p := range phases {
			if entries[i].Phase == p {
				return true
			}
		}
	}
	return false
}

// CheckLogExtension verifies that every party's log in next is an
// append-only extension of its log in prev. The drivers call this on
// every edge they take.
func CheckLogExtension(prev, next GlobalState) []common.Violation {
	var out []common.Violation
	if !prev.Coord.Log.ExtendedBy(next.Coord.Log) {
		out = append(out, common.Violation{
			Rule:   common.RuleLogMonotonic,
			Party:  prev.Coord.ID,
			Detail: "log truncated or rewritten across a step",
		})
	}
	for _, id := range prev.PartIDs() {
		if !prev.Parts[id].Log.ExtendedBy(next.Parts[id].Log) {
			out = append(out, common.Violation{
				Rule:   common.RuleLogMonotonic,
				Party:  id,
				Detail: "log truncated or rewritten across a step",
			})
		}
	}
	return out
}
