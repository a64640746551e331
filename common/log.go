package common

import (
	"errors"
	"fmt"
)

// ErrCrashInterrupted is returned by Log.Append when the owning party is
// crashed: the write is dropped, simulating a crash mid-write. Recovery
// happens by restart-and-replay, this is never a checking failure.
var ErrCrashInterrupted = errors.New("append interrupted by crash")

// LogEntry is one durable record of a party's log. Seq is a dense
// sequence number assigned by Append, there are no timestamps.
type LogEntry struct {
	Seq   int
	Phase Phase
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%d:%s", e.Seq, e.Phase)
}

// Log is a party's simulated durable log. It is an append-only value:
// Append returns the extended log, the receiver is never mutated. The
// log survives crash/restart, only the party's volatile state is lost.
type Log struct {
	Entries []LogEntry
}

// Append returns the log extended with phase. If alive is false the
// party crashed before the write could complete and the entry is dropped
// with ErrCrashInterrupted.
func (l Log) Append(alive bool, phase Phase) (Log, error) {
	if !alive {
		return l, ErrCrashInterrupted
	}
	next := make([]LogEntry, len(l.Entries), len(l.Entries)+1)
	copy(next, l.Entries)
	next = append(next, LogEntry{Seq: len(l.Entries), Phase: phase})
	return Log{Entries: next}, nil
}

// ReadAll returns the current entry sequence. Callers must not mutate
// the returned slice.
func (l Log) ReadAll() []LogEntry {
	return l.Entries
}

// Len returns the number of entries.
func (l Log) Len() int {
	return len(l.Entries)
}

// Fold recomputes the phase a party resumes at after restart: the phase
// of the last entry, or Init for an empty log.
func (l Log) Fold() Phase {
	if len(l.Entries) == 0 {
		return Init
	}
	return l.Entries[len(l.Entries)-1].Phase
}

// Decision extracts the logged decision, if any. A decision is the
// single Committing or Aborting entry; once written it is the source of
// truth for the transaction outcome.
func (l Log) Decision() Decision {
	for _, e := range l.Entries {
		switch e.Phase {
		case Committing:
			return DecisionCommit
		case Aborting:
			return DecisionAbort
		}
	}
	return DecisionNone
}

// Contains reports whether some entry records the given phase.
func (l Log) Contains(phase Phase) bool {
	for _, e := range l.Entries {
		if e.Phase == phase {
			return true
		}
	}
	return false
}

// ExtendedBy reports whether other is l plus zero or more appended
// entries. Any truncation, reorder or rewrite makes this false.
func (l Log) ExtendedBy(other Log) bool {
	if len(other.Entries) < len(l.Entries) {
		return false
	}
	for i, e := range l.Entries {
		if other.Entries[i] != e {
			return false
		}
	}
	return true
}
