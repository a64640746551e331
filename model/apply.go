package model

import (
	"fmt"

	"github.com/twopc-checker/common"
	"github.com/twopc-checker/coordinator"
	"github.com/twopc-checker/participant"
)

// Apply fires one event against s and returns the successor state. The
// input state is never mutated. A non-nil violation means the protocol
// broke during this transition (fatal to the checking run); a non-nil
// error means the event was not applicable at s, which is a driver bug,
// not a protocol bug.
func (m Model) Apply(s GlobalState, e Event) (GlobalState, *common.Violation, error) {
	next := s.Clone()
	limit := m.Opts.DupCap()

	send := func(msgs []common.Message) {
		for _, msg := range msgs {
			next.InFlight.Add(msg, limit)
		}
	}

	switch e.Type {
	case EventStart:
		if !next.Coord.Alive {
			return s, nil, fmt.Errorf("start: coordinator is crashed")
		}
		cs, out, viol := coordinator.Start(next.Coord)
		if viol != nil {
			return s, viol, nil
		}
		next.Coord = cs
		send(out)
		return next, nil, nil

	case EventDeliver:
		if !next.InFlight.Remove(e.Msg) {
			return s, nil, fmt.Errorf("deliver: %s not in flight", e.Msg)
		}
		if e.Msg.To == common.CoordinatorID {
			cs, out, viol := coordinator.Receive(next.Coord, e.Msg)
			if viol != nil {
				return s, viol, nil
			}
			next.Coord = cs
			send(out)
			return next, nil, nil
		}
		p, ok := next.Parts[e.Msg.To]
		if !ok {
			return s, nil, fmt.Errorf("deliver: unknown participant %s", e.Msg.To)
		}
		ps, out, viol := participant.Receive(p, e.Msg, e.Vote)
		if viol != nil {
			return s, viol, nil
		}
		next.Parts[e.Msg.To] = ps
		send(out)
		return next, nil, nil

	case EventDecide:
		cs, viol := coordinator.Decide(next.Coord, e.Decision)
		if viol != nil {
			return s, viol, nil
		}
		next.Coord = cs
		return next, nil, nil

	case EventTimeout:
		cs, viol := coordinator.Timeout(next.Coord)
		if viol != nil {
			return s, viol, nil
		}
		next.Coord = cs
		return next, nil, nil

	case EventResend:
		if e.Party == common.CoordinatorID {
			cs, out := coordinator.ResendTo(next.Coord, e.Target)
			next.Coord = cs
			send(out)
			return next, nil, nil
		}
		p, ok := next.Parts[e.Party]
		if !ok {
			return s, nil, fmt.Errorf("resend: unknown participant %s", e.Party)
		}
		ps, out := participant.Resend(p)
		next.Parts[e.Party] = ps
		send(out)
		return next, nil, nil

	case EventCrash:
		if e.Party == common.CoordinatorID {
			if !next.Coord.Alive {
				return s, nil, fmt.Errorf("crash: coordinator already crashed")
			}
			next.Coord = coordinator.Crash(next.Coord)
		} else {
			p, ok := next.Parts[e.Party]
			if !ok || !p.Alive {
				return s, nil, fmt.Errorf("crash: %s not alive", e.Party)
			}
			next.Parts[e.Party] = participant.Crash(p)
		}
		next.Crashes[e.Party]++
		return next, nil, nil

	case EventRestart:
		if e.Party == common.CoordinatorID {
			if next.Coord.Alive {
				return s, nil, fmt.Errorf("restart: coordinator not crashed")
			}
			next.Coord = coordinator.Restart(next.Coord)
		} else {
			p, ok := next.Parts[e.Party]
			if !ok || p.Alive {
				return s, nil, fmt.Errorf("restart: %s not crashed", e.Party)
			}
			next.Parts[e.Party] = participant.Restart(p)
		}
		return next, nil, nil

	case EventDrop:
		if !next.InFlight.Remove(e.Msg) {
			return s, nil, fmt.Errorf("drop: %s not in flight", e.Msg)
		}
		return next, nil, nil

	case EventDuplicate:
		if next.InFlight.Count(e.Msg) == 0 {
			return s, nil, fmt.Errorf("duplicate: %s not in flight", e.Msg)
		}
		next.InFlight.Add(e.Msg, limit)
		return next, nil, nil
	}

	return s, nil, fmt.Errorf("unknown event type %q", e.Type)
}
