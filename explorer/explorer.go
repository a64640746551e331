// Package explorer is the model checker: a bounded breadth-first (or
// depth-first) search over the reachable global-state space, checking
// every invariant at every newly visited state and reporting the first
// violation with the event path that produced it. BFS is the default so
// a reported counterexample trace is as short as possible.
package explorer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/twopc-checker/common"
	"github.com/twopc-checker/metric"
	"github.com/twopc-checker/model"
)

// Search strategies.
const (
	SearchBFS = "bfs"
	SearchDFS = "dfs"
)

// Explorer runs bounded state-space exploration for one model.
type Explorer struct {
	m        model.Model
	maxDepth int
	search   string
	workers  int
	visited  *common.StateSet
	stats    *metric.Stats
	log      *log.Entry
}

// New returns an explorer. workers only applies to BFS; DFS is
// single-threaded. A nil stats gets a fresh collector.
func New(logger *log.Logger, m model.Model, maxDepth int, search string, workers int, stats *metric.Stats) *Explorer {
	if workers < 1 {
		workers = 1
	}
	if search == "" {
		search = SearchBFS
	}
	if stats == nil {
		stats = metric.NewStats()
	}
	return &Explorer{
		m:        m,
		maxDepth: maxDepth,
		search:   search,
		workers:  workers,
		visited:  common.NewStateSet(logger),
		stats:    stats,
		log:      logger.WithField("component", "explorer"),
	}
}

// Result is the verdict of one exploration.
type Result struct {
	OK        bool
	Violation *common.Violation
	Trace     []model.Event
	BoundHit  bool
	States    int
	Depth     int
}

// TraceString renders the counterexample trace one event per line.
func (r *Result) TraceString() string {
	lines := make([]string, 0, len(r.Trace))
	for i, e := range r.Trace {
		lines = append(lines, fmt.Sprintf("%3d. %s", i+1, e))
	}
	return strings.Join(lines, "\n")
}

type node struct {
	state  model.GlobalState
	event  model.Event
	parent *node
	depth  int
}

func (n *node) trace() []model.Event {
	var rev []model.Event
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		rev = append(rev, cur.event)
	}
	out := make([]model.Event, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}

type found struct {
	violation common.Violation
	node      *node
}

// Run explores from the initial state and returns either "no violation
// found up to bound" or the first violation with a counterexample.
func (e *Explorer) Run(initial model.GlobalState) *Result {
	if v := e.m.CheckInvariants(initial); len(v) > 0 {
		return &Result{Violation: &v[0], States: 1}
	}
	e.visited.Add(initial.Key(), 0)
	e.stats.AddState(0)

	var res *Result
	if e.search == SearchDFS {
		res = e.runDFS(initial)
	} else {
		res = e.runBFS(initial)
	}
	res.States = e.visited.Len()
	return res
}

// Stats exposes the collected counters.
func (e *Explorer) Stats() *metric.Stats {
	return e.stats
}

// expand generates all successor nodes of n, splitting them into fresh
// frontier nodes and violations found on the way.
func (e *Explorer) expand(n *node) (fresh []*node, finds []found) {
	if n.state.IsTerminal() {
		e.stats.AddTerminal()
		return nil, nil
	}
	enabled := e.m.Enabled(n.state)
	if len(enabled) == 0 {
		// Not a bug: classic 2PC blocks when the decision cannot be
		// learned; the harness liveness property covers progress.
		e.stats.AddDeadlock()
		return nil, nil
	}

	for _, ev := range enabled {
		child, viol, err := e.m.Apply(n.state, ev)
		e.stats.AddTransitions(1)
		cn := &node{state: child, event: ev, parent: n, depth: n.depth + 1}
		if err != nil {
			finds = append(finds, found{
				violation: common.Violation{Rule: common.RuleProtocol, Detail: err.Error()},
				node:      cn,
			})
			continue
		}
		if viol != nil {
			finds = append(finds, found{violation: *viol, node: cn})
			continue
		}
		if vs := model.CheckLogExtension(n.state, child); len(vs) > 0 {
			finds = append(finds, found{violation: vs[0], node: cn})
			continue
		}
		if vs := e.m.CheckInvariants(child); len(vs) > 0 {
			finds = append(finds, found{violation: vs[0], node: cn})
			continue
		}
		if e.visited.Add(child.Key(), cn.depth) {
			e.stats.AddState(cn.depth)
			fresh = append(fresh, cn)
		}
	}
	return fresh, finds
}

func (e *Explorer) runBFS(initial model.GlobalState) *Result {
	frontier := []*node{{state: initial}}
	depth := 0

	for len(frontier) > 0 {
		if depth >= e.maxDepth {
			e.log.Infof("depth bound %d reached with %d states on the frontier", e.maxDepth, len(frontier))
			return &Result{OK: true, BoundHit: true, Depth: depth}
		}
		e.stats.ObserveFrontier(len(frontier))

		// Level-synchronous fan-out: each worker expands a share of the
		// frontier; the visited set deduplicates across workers.
		workers := e.workers
		if workers > len(frontier) {
			workers = len(frontier)
		}
		nextParts := make([][]*node, workers)
		findParts := make([][]found, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := w; i < len(frontier); i += workers {
					fresh, finds := e.expand(frontier[i])
					nextParts[w] = append(nextParts[w], fresh...)
					findParts[w] = append(findParts[w], finds...)
				}
			}(w)
		}
		wg.Wait()

		var finds []found
		var next []*node
		for w := 0; w < workers; w++ {
			next = append(next, nextParts[w]...)
			finds = append(finds, findParts[w]...)
		}
		if len(finds) > 0 {
			best := pickMinimal(finds)
			return &Result{
				Violation: &best.violation,
				Trace:     best.node.trace(),
				Depth:     best.node.depth,
			}
		}

		frontier = next
		depth++
		e.log.Debugf("depth %d: %d new states", depth, len(frontier))
	}
	return &Result{OK: true, Depth: depth}
}

func (e *Explorer) runDFS(initial model.GlobalState) *Result {
	stack := []*node{{state: initial}}
	boundHit := false
	maxDepth := 0

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.depth > maxDepth {
			maxDepth = n.depth
		}
		if n.depth >= e.maxDepth {
			boundHit = true
			continue
		}
		fresh, finds := e.expand(n)
		if len(finds) > 0 {
			best := pickMinimal(finds)
			return &Result{
				Violation: &best.violation,
				Trace:     best.node.trace(),
				Depth:     best.node.depth,
			}
		}
		stack = append(stack, fresh...)
	}
	return &Result{OK: true, BoundHit: boundHit, Depth: maxDepth}
}

// pickMinimal makes the reported counterexample deterministic when
// several violations surface in one level: shortest trace first, then
// lexicographic on the rendered trace.
func pickMinimal(finds []found) found {
	sort.Slice(finds, func(i, j int) bool {
		a, b := finds[i], finds[j]
		if a.node.depth != b.node.depth {
			return a.node.depth < b.node.depth
		}
		at := fmt.Sprint(a.node.trace())
		bt := fmt.Sprint(b.node.trace())
		if at != bt {
			return at < bt
		}
		return a.violation.String() < b.violation.String()
	})
	return finds[0]
}
