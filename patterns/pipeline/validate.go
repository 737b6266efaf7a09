package pipeline

import (
	"fmt"
	"slices"
)

// slot is one (edge, source, target) triple of a non-feedback edge.
type slot struct {
	edge int
	kind EdgeKind
	from string
	to   string
}

// loop is the body closed by one feedback edge.
type loop struct {
	edge          int
	evaluator     string
	target        string
	maxIterations int
	body          map[string]bool
}

// plan is the compiled, read-only form of a validated graph.
type plan struct {
	graph    *Graph
	order    []string // topological, ties broken by declaration order
	slots    []slot
	incoming map[string][]int
	outgoing map[string][]int
	outputs  []int // slots into output, in declaration order
	targets  map[string][]string
	loops    map[string]*loop // keyed by evaluator id
	inLoop   map[string]bool
}

// Validate checks g and returns a *ValidationError listing every problem, or
// nil.
func Validate(g *Graph) error {
	_, err := compile(g)
	return err
}

func compile(g *Graph) (*plan, error) {
	if g == nil {
		return nil, &ValidationError{Problems: []string{"graph is nil"}}
	}
	v := &validator{graph: g}
	p := v.run()
	if len(v.problems) > 0 {
		return nil, &ValidationError{GraphID: g.ID, Problems: v.problems}
	}
	return p, nil
}

type validator struct {
	graph    *Graph
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) run() *plan {
	g := v.graph
	ids := g.NodeIDs()
	if len(ids) == 0 {
		v.addf("graph has no nodes")
	}
	for _, id := range ids {
		n := g.Nodes[id]
		switch {
		case n == nil:
			v.addf("node %q is nil", id)
			continue
		case id == InputID || id == OutputID:
			v.addf("node id %q is reserved", id)
		case id == "":
			v.addf("node with empty id")
		case n.ID != id:
			v.addf("node %q is registered under %q", n.ID, id)
		}
		if !n.Kind.valid() {
			v.addf("node %q has invalid type %d", id, int(n.Kind))
		}
	}

	p := &plan{
		graph:    g,
		incoming: make(map[string][]int),
		outgoing: make(map[string][]int),
		targets:  make(map[string][]string),
		loops:    make(map[string]*loop),
		inLoop:   make(map[string]bool),
	}
	var feedback []int
	pairs := make(map[[2]string]bool)

	for i, e := range g.Edges {
		if !e.Kind.valid() {
			v.addf("edge %d has invalid type %d", i, int(e.Kind))
			continue
		}
		if len(e.From) == 0 || len(e.To) == 0 {
			v.addf("edge %d (%s) needs at least one source and one target", i, e.Kind)
			continue
		}
		if e.MaxIterations < 0 {
			v.addf("edge %d: max_iterations must not be negative", i)
		}
		ok := true
		for _, from := range e.From {
			ok = v.checkSource(i, e.Kind, from) && ok
		}
		for _, to := range e.To {
			ok = v.checkTarget(i, to) && ok
		}
		if !ok {
			continue
		}
		if e.Kind == EdgeFeedback {
			feedback = append(feedback, i)
			continue
		}
		for _, from := range e.From {
			for _, to := range e.To {
				if from == to {
					v.addf("edge %d: node %q points to itself", i, from)
					continue
				}
				if pairs[[2]string{from, to}] {
					v.addf("duplicate edge %s -> %s", from, to)
					continue
				}
				pairs[[2]string{from, to}] = true
				idx := len(p.slots)
				p.slots = append(p.slots, slot{edge: i, kind: e.Kind, from: from, to: to})
				p.outgoing[from] = append(p.outgoing[from], idx)
				p.incoming[to] = append(p.incoming[to], idx)
				if to == OutputID {
					p.outputs = append(p.outputs, idx)
				}
				if (e.Kind == EdgeConditional || e.Kind == EdgeDynamic) && !slices.Contains(p.targets[from], to) {
					p.targets[from] = append(p.targets[from], to)
				}
			}
		}
	}

	for _, id := range ids {
		n := g.Nodes[id]
		if n == nil {
			continue
		}
		if len(p.incoming[id]) == 0 {
			v.addf("node %q has no incoming edge", id)
		}
		switch {
		case n.Kind == KindRouter && len(p.targets[id]) == 0:
			v.addf("router %q has no conditional edge", id)
		case n.Kind.dispatches() && len(p.targets[id]) == 0:
			v.addf("%s %q has no dynamic edge", n.Kind, id)
		}
	}
	if len(p.outputs) == 0 {
		v.addf("no edge reaches %q", OutputID)
	}

	p.order = v.topoSort(ids, p)
	if p.order == nil {
		return p
	}
	for _, i := range feedback {
		v.compileLoop(i, p)
	}
	return p
}

func (v *validator) checkSource(i int, kind EdgeKind, from string) bool {
	if from == OutputID {
		v.addf("edge %d: %q cannot be a source", i, OutputID)
		return false
	}
	if from == InputID {
		if kind != EdgeDirect && kind != EdgeParallel {
			v.addf("edge %d: %s edges cannot start at %q", i, kind, InputID)
			return false
		}
		return true
	}
	n := v.graph.Nodes[from]
	if n == nil {
		v.addf("edge %d: unknown source %q", i, from)
		return false
	}
	switch kind {
	case EdgeConditional:
		if n.Kind != KindRouter {
			v.addf("edge %d: conditional edge from %s %q; only routers branch conditionally", i, n.Kind, from)
			return false
		}
	case EdgeDynamic:
		if !n.Kind.dispatches() {
			v.addf("edge %d: dynamic edge from %s %q; only orchestrators and coordinators dispatch dynamically", i, n.Kind, from)
			return false
		}
	case EdgeFeedback:
		if n.Kind != KindEvaluator {
			v.addf("edge %d: feedback edge from %s %q; only evaluators send feedback", i, n.Kind, from)
			return false
		}
	}
	return true
}

func (v *validator) checkTarget(i int, to string) bool {
	if to == InputID {
		v.addf("edge %d: %q cannot be a target", i, InputID)
		return false
	}
	if to != OutputID && v.graph.Nodes[to] == nil {
		v.addf("edge %d: unknown target %q", i, to)
		return false
	}
	return true
}

// topoSort orders nodes with Kahn's algorithm, breaking ties by declaration
// order. It returns nil and records a problem when the forward edges form a
// cycle.
func (v *validator) topoSort(ids []string, p *plan) []string {
	indegree := make(map[string]int, len(ids))
	for _, id := range ids {
		for _, s := range p.incoming[id] {
			if p.slots[s].from != InputID {
				indegree[id]++
			}
		}
	}

	var queue, order []string
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	position := make(map[string]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		var ready []string
		for _, s := range p.outgoing[current] {
			to := p.slots[s].to
			if to == OutputID {
				continue
			}
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
			}
		}
		slices.SortFunc(ready, func(a, b string) int { return position[a] - position[b] })
		queue = append(queue, ready...)
	}

	if len(order) != len(ids) {
		var cyclic []string
		for _, id := range ids {
			if indegree[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		v.addf("cycle without a feedback edge through %v", cyclic)
		return nil
	}
	return order
}

func (v *validator) compileLoop(i int, p *plan) {
	e := v.graph.Edges[i]
	if len(e.From) != 1 || len(e.To) != 1 {
		v.addf("feedback edge %d must have exactly one source and one target", i)
		return
	}
	evaluator, target := e.From[0], e.To[0]
	if target == OutputID {
		v.addf("feedback edge %d cannot target %q", i, OutputID)
		return
	}
	if target == evaluator {
		v.addf("feedback edge %d: evaluator %q cannot revise itself", i, evaluator)
		return
	}
	if _, dup := p.loops[evaluator]; dup {
		v.addf("evaluator %q has more than one feedback edge", evaluator)
		return
	}

	downstream := reach(target, p.outgoing, func(s int) string { return p.slots[s].to })
	if !downstream[evaluator] {
		v.addf("feedback edge %d: %q is not an ancestor of evaluator %q", i, target, evaluator)
		return
	}
	upstream := reach(evaluator, p.incoming, func(s int) string { return p.slots[s].from })

	body := make(map[string]bool)
	for id := range downstream {
		if upstream[id] {
			body[id] = true
		}
	}
	for _, id := range p.order {
		if !body[id] || id == evaluator {
			continue
		}
		for _, s := range p.outgoing[id] {
			if to := p.slots[s].to; !body[to] {
				v.addf("feedback loop %s -> %s: node %q leaves the loop through %q", evaluator, target, id, to)
			}
		}
	}
	for _, id := range p.order {
		if body[id] && p.inLoop[id] {
			v.addf("node %q belongs to more than one feedback loop", id)
		}
	}
	for id := range body {
		p.inLoop[id] = true
	}
	p.loops[evaluator] = &loop{
		edge:          i,
		evaluator:     evaluator,
		target:        target,
		maxIterations: e.MaxIterations,
		body:          body,
	}
}

// reach returns every node reachable from start, start included, following
// the slots listed in adjacency.
func reach(start string, adjacency map[string][]int, next func(int) string) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range adjacency[current] {
			id := next(s)
			if id == OutputID || id == InputID || seen[id] {
				continue
			}
			seen[id] = true
			stack = append(stack, id)
		}
	}
	return seen
}
