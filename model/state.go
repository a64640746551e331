// Package model is the fault and scheduling model for the two-phase
// commit protocol: it owns the global state, enumerates the enabled
// events at each state, and applies one event at a time as a pure
// transition. All nondeterminism (message orderings, vote choices,
// crashes, restarts, loss, duplication, timeouts) is externalized as
// distinct enabled events; Apply is deterministic given the event.
package model

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/rs/xid"

	"github.com/twopc-checker/common"
	"github.com/twopc-checker/coordinator"
	"github.com/twopc-checker/participant"
)

// Multiset is the in-flight message multiset of the simulated transport.
// The transport may delay, drop or duplicate messages but never corrupt
// them, so a content-keyed count map is a faithful representation.
type Multiset map[common.Message]int

// Add adds one copy of msg, capped at limit copies. It returns false if
// the copy was discarded because the cap was reached.
func (m Multiset) Add(msg common.Message, limit int) bool {
	if m[msg] >= limit {
		return false
	}
	m[msg]++
	return true
}

// Remove removes one copy of msg. It returns false if none is in flight.
func (m Multiset) Remove(msg common.Message) bool {
	if m[msg] <= 0 {
		return false
	}
	if m[msg] == 1 {
		delete(m, msg)
	} else {
		m[msg]--
	}
	return true
}

// Count returns the number of in-flight copies of msg.
func (m Multiset) Count(msg common.Message) int {
	return m[msg]
}

// Size returns the total number of in-flight copies.
func (m Multiset) Size() int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}

// Sorted returns the distinct in-flight messages in canonical order.
func (m Multiset) Sorted() []common.Message {
	msgs := make([]common.Message, 0, len(m))
	for msg := range m {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return msgs
}

// GlobalState is the full snapshot of one simulated run: the
// coordinator, all participants, the in-flight messages and the
// per-party crash counts (kept in the state so bounded exploration
// deduplicates soundly). It is owned exclusively by the driving loop;
// Apply never mutates it, successors are built on deep clones.
type GlobalState struct {
	Txid     string
	Coord    coordinator.State
	Parts    map[common.PartyID]participant.State
	InFlight Multiset
	Crashes  map[common.PartyID]int
}

// NewRun builds the initial global state for a transaction across the
// given participants. An empty txid gets a generated one.
func NewRun(txid string, participants []common.PartyID) GlobalState {
	if txid == "" {
		txid = xid.New().String()
	}
	ids := make([]common.PartyID, len(participants))
	copy(ids, participants)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make(map[common.PartyID]participant.State, len(ids))
	crashes := make(map[common.PartyID]int, len(ids)+1)
	crashes[common.CoordinatorID] = 0
	for _, id := range ids {
		parts[id] = participant.New(id, txid)
		crashes[id] = 0
	}
	return GlobalState{
		Txid:     txid,
		Coord:    coordinator.New(txid, ids),
		Parts:    parts,
		InFlight: make(Multiset),
		Crashes:  crashes,
	}
}

// PartIDs returns the participant ids in canonical order.
func (s GlobalState) PartIDs() []common.PartyID {
	ids := make([]common.PartyID, 0, len(s.Parts))
	for id := range s.Parts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a deep copy sharing no mutable structure with s. The
// struct-keyed InFlight multiset and the plain count map are copied by
// hand; copier cannot handle struct map keys.
func (s GlobalState) Clone() GlobalState {
	out := GlobalState{Txid: s.Txid}
	if err := copier.CopyWithOption(&out.Coord, &s.Coord, copier.Option{DeepCopy: true}); err != nil {
		panic(fmt.Sprintf("clone coordinator: %s", err))
	}
	out.Parts = make(map[common.PartyID]participant.State, len(s.Parts))
	for id, p := range s.Parts {
		var cp participant.State
		if err := copier.CopyWithOption(&cp, &p, copier.Option{DeepCopy: true}); err != nil {
			panic(fmt.Sprintf("clone participant %s: %s", id, err))
		}
		out.Parts[id] = cp
	}
	out.InFlight = make(Multiset, len(s.InFlight))
	for msg, n := range s.InFlight {
		out.InFlight[msg] = n
	}
	out.Crashes = make(map[common.PartyID]int, len(s.Crashes))
	for id, n := range s.Crashes {
		out.Crashes[id] = n
	}
	return out
}

// IsTerminal reports whether the run is finished: coordinator Done and
// every participant in a terminal phase. Stale duplicate messages may
// still be in flight, they can no longer change any outcome.
func (s GlobalState) IsTerminal() bool {
	if s.Coord.Phase != common.Done {
		return false
	}
	for _, p := range s.Parts {
		if !p.Phase.Terminal() {
			return false
		}
	}
	return true
}

func writeLog(b *strings.Builder, l common.Log) {
	b.WriteByte('[')
	for i, e := range l.ReadAll() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(e.Phase))
	}
	b.WriteByte(']')
}

// Key returns the canonical order-independent encoding of the state,
// used for visited-state deduplication. Equal states always produce
// equal keys regardless of map iteration order.
func (s GlobalState) Key() string {
	var b strings.Builder
	ids := s.PartIDs()

	b.WriteString("c{")
	b.WriteString(string(s.Coord.Phase))
	fmt.Fprintf(&b, ",a=%t,v=", s.Coord.Alive)
	for _, p := range ids {
		b.WriteString(string(s.Coord.Votes[p]))
		b.WriteByte(';')
	}
	b.WriteString("k=")
	for _, p := range ids {
		fmt.Fprintf(&b, "%t;", s.Coord.Acked[p])
	}
	writeLog(&b, s.Coord.Log)
	fmt.Fprintf(&b, ",x=%d}", s.Crashes[common.CoordinatorID])

	for _, id := range ids {
		p := s.Parts[id]
		fmt.Fprintf(&b, "|%s{%s,a=%t,x=%d", id, p.Phase, p.Alive, s.Crashes[id])
		writeLog(&b, p.Log)
		b.WriteByte('}')
	}

	b.WriteString("|m{")
	for _, msg := range s.InFlight.Sorted() {
		fmt.Fprintf(&b, "%s/%s/%s=%d;", msg.Type, msg.From, msg.To, s.InFlight[msg])
	}
	b.WriteByte('}')
	return b.String()
}

// Hash returns a 64-bit digest of the canonical key, for compact
// reporting.
func (s GlobalState) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(s.Key()))
	return h.Sum64()
}
