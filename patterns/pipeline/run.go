package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/observability"
)

type slotStatus int

const (
	slotPending slotStatus = iota
	slotFired
	slotDead
	slotFailed
)

type slotState struct {
	status slotStatus
	text   string
	err    *Error
}

type nodeStatus int

const (
	nodePending nodeStatus = iota
	nodeRunning
	nodeDone
	nodeDead
	nodeFailed
)

type nodeState struct {
	status  nodeStatus
	visits  int
	outputs []string
}

type revision struct {
	candidate   string
	instruction string
}

type rejection struct {
	gate string
	text string
}

// message is what a visit goroutine reports to the coordinator: either one
// streamed fragment or the end of the visit.
type message struct {
	nodeID   string
	fragment string
	streamed bool
	input    string
	out      *NodeOutput
	err      error
}

// run is the state of one invocation. Everything except the trace is owned
// by the coordinator goroutine, the one calling execute.
type run struct {
	engine    *Engine
	config    engineConfig
	plan      *plan
	id        string
	input     string
	history   []ai.Message
	streaming bool
	trace     *Trace
	observer  runObserver

	nodes      map[string]*nodeState
	slots      []slotState
	feedback   map[int]int
	revisions  map[string]revision
	rejections []rejection

	messages chan message
	inflight int
	sem      chan struct{}
	cancel   context.CancelFunc

	// output emission, streaming only
	emit        func(Event) bool
	stopped     bool
	nextOutput  int
	live        int
	liveEmitted bool
	liveBroken  *Error
	emittedAny  bool
}

func newRun(e *Engine, p *plan, runID, input string, history []ai.Message, streaming bool) *run {
	r := &run{
		engine:    e,
		config:    e.config.clone(),
		plan:      p,
		id:        runID,
		input:     input,
		history:   history,
		streaming: streaming,
		trace:     newTrace(runID, p.graph.ID),
		nodes:     make(map[string]*nodeState, len(p.order)),
		slots:     make([]slotState, len(p.slots)),
		feedback:  make(map[int]int),
		revisions: make(map[string]revision),
		messages:  make(chan message),
		live:      -1,
	}
	for _, id := range p.order {
		r.nodes[id] = &nodeState{}
	}
	if r.config.maxConcurrency > 0 {
		r.sem = make(chan struct{}, r.config.maxConcurrency)
	}
	return r
}

// execute drives the run to quiescence and assembles the result. On failure
// the result is still returned for its trace.
func (r *run) execute(ctx context.Context) (*Result, error) {
	if r.config.executionTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, r.config.executionTimeout)
		defer cancelTimeout()
	}
	ctx, r.cancel = context.WithCancel(ctx)
	defer r.cancel()

	r.observer.provider = r.config.observer
	if r.observer.provider == nil {
		r.observer.provider = observability.ObserverFromContext(ctx)
	}
	ctx = r.observer.runStart(ctx, r)

	for _, s := range r.plan.outgoing[InputID] {
		r.resolve(s, slotFired, r.input, nil)
	}
	r.loop(ctx)

	result, err := r.finish(ctx)
	r.observer.runEnd(ctx, r, err)
	return result, err
}

func (r *run) loop(ctx context.Context) {
	for {
		r.schedule(ctx)
		if r.inflight == 0 {
			return
		}
		msg := <-r.messages
		if msg.streamed {
			r.forward(msg)
			continue
		}
		r.inflight--
		r.complete(ctx, msg)
	}
}

type launchable struct {
	id       string
	upstream []Upstream
}

// schedule resolves or launches every pending node whose incoming slots are
// all resolved. Topological order lets dead and failed branches propagate in
// a single pass. Launches wait until that pass is over, so that output slots
// of skipped branches are already flushed when a node picks its stream slot.
func (r *run) schedule(ctx context.Context) {
	var ready []launchable
	for _, id := range r.plan.order {
		st := r.nodes[id]
		if st.status != nodePending {
			continue
		}
		upstream, failure, resolved := r.collect(id)
		switch {
		case !resolved:
		case failure != nil:
			st.status = nodeFailed
			r.observer.nodeSkipped(ctx, id, fmt.Sprintf("%v: %v", ErrUpstreamFailed, failure))
			r.resolveOutgoing(id, slotFailed, "", failure)
		case len(upstream) == 0:
			st.status = nodeDead
			r.observer.nodeSkipped(ctx, id, "no branch reached the node")
			r.resolveOutgoing(id, slotDead, "", nil)
		case ctx.Err() == nil:
			ready = append(ready, launchable{id: id, upstream: upstream})
		}
	}
	for _, n := range ready {
		r.launch(ctx, n.id, n.upstream)
	}
}

// collect reports whether every incoming slot of id is resolved, the fired
// ones in declaration order and the first failure.
func (r *run) collect(id string) (upstream []Upstream, failure *Error, ready bool) {
	for _, s := range r.plan.incoming[id] {
		state := r.slots[s]
		switch state.status {
		case slotPending:
			return nil, nil, false
		case slotFailed:
			if failure == nil {
				failure = state.err
			}
		case slotFired:
			upstream = append(upstream, Upstream{From: r.plan.slots[s].from, Text: state.text})
		}
	}
	return upstream, failure, true
}

func (r *run) launch(ctx context.Context, id string, upstream []Upstream) {
	st := r.nodes[id]
	st.status = nodeRunning
	st.visits++
	n := r.plan.graph.Nodes[id]

	texts := make([]string, len(upstream))
	for i, u := range upstream {
		texts[i] = u.Text
	}
	in := &NodeInput{
		Node:              n,
		Model:             r.config.modelFor(n),
		Text:              strings.Join(texts, Separator),
		Upstream:          upstream,
		Goal:              r.input,
		History:           r.history,
		Targets:           r.plan.targets[id],
		Client:            r.engine.client,
		Tools:             r.engine.tools,
		MaxToolIterations: r.config.maxToolIterations,
	}
	if rev, ok := r.revisions[id]; ok {
		delete(r.revisions, id)
		in.Text = revisionRequest(in.Text, rev.candidate, rev.instruction)
		in.Revising = true
	}
	if s := r.streamSlot(n); s >= 0 {
		r.live, r.liveEmitted = s, false
		in.Emit = func(fragment string) bool {
			if ctx.Err() != nil {
				return false
			}
			select {
			case r.messages <- message{nodeID: id, fragment: fragment, streamed: true}:
				return true
			case <-ctx.Done():
				return false
			}
		}
	}

	capReached := false
	if l := r.plan.loops[id]; l != nil {
		capReached = r.feedback[l.edge] >= r.limit(l)
	}

	r.inflight++
	visit := st.visits
	go func() {
		out, err := r.visit(ctx, in, visit, capReached)
		r.messages <- message{nodeID: id, input: in.Text, out: out, err: err}
	}()
}

// visit runs the executor of one node under the concurrency limit and records
// its span.
func (r *run) visit(ctx context.Context, in *NodeInput, visit int, capReached bool) (*NodeOutput, error) {
	if r.sem != nil {
		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-ctx.Done():
			return &NodeOutput{}, ctx.Err()
		}
	}

	start := time.Now()
	visitCtx, span := r.observer.visitStart(ctx, in.Node, visit)
	out, err := executorFor(in.Node.Kind).Execute(visitCtx, in)
	if out == nil {
		out = &NodeOutput{}
	}

	record := Span{
		NodeID:       in.Node.ID,
		Kind:         in.Node.Kind,
		Visit:        visit,
		Model:        in.Model,
		Start:        start,
		End:          time.Now(),
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		Iterations:   out.Iterations,
		ToolCalls:    out.ToolCalls,
		Decision:     out.Decision,
		Status:       StatusOK,
	}
	switch {
	case err == nil && out.Rejected:
		record.Status = StatusRejected
	case err == nil:
		record.CapExceeded = capReached && out.Verdict != nil && !out.Verdict.Accept
	case errors.Is(err, ErrToolIterationLimit):
		record.Status = StatusPartial
	case ctx.Err() != nil:
		record.Status = StatusCancelled
	default:
		record.Status = StatusFailed
	}
	if err != nil {
		record.Error = err.Error()
	}
	r.trace.append(record)
	r.observer.visitEnd(visitCtx, span, &record, err)
	return out, err
}

// complete applies the outcome of a visit to the outgoing slots of the node.
func (r *run) complete(ctx context.Context, msg message) {
	id, out := msg.nodeID, msg.out
	st := r.nodes[id]
	if msg.err != nil && !errors.Is(msg.err, ErrToolIterationLimit) {
		st.status = nodeFailed
		r.resolveOutgoing(id, slotFailed, "", newError(id, msg.err))
		return
	}
	st.status = nodeDone
	st.outputs = append(st.outputs, out.Text)

	switch r.plan.graph.Nodes[id].Kind {
	case KindRouter:
		for _, s := range r.plan.outgoing[id] {
			sl := r.plan.slots[s]
			if sl.kind == EdgeConditional && sl.to != out.Route {
				r.resolve(s, slotDead, "", nil)
				continue
			}
			r.resolve(s, slotFired, out.Text, nil)
		}
	case KindOrchestrator, KindCoordinator:
		selected := make(map[string]string, len(out.Assignments))
		for _, a := range out.Assignments {
			selected[a.Target] = a.Instruction
		}
		for _, s := range r.plan.outgoing[id] {
			sl := r.plan.slots[s]
			if sl.kind != EdgeDynamic {
				r.resolve(s, slotFired, out.Text, nil)
				continue
			}
			instruction, ok := selected[sl.to]
			if !ok {
				r.resolve(s, slotDead, "", nil)
				continue
			}
			r.resolve(s, slotFired, assignment(msg.input, instruction), nil)
		}
	case KindGate:
		if out.Rejected {
			r.rejections = append(r.rejections, rejection{gate: id, text: out.Text})
			r.observer.shortCircuit(ctx, id, out.Text)
			r.resolveOutgoing(id, slotDead, "", nil)
			return
		}
		r.resolveOutgoing(id, slotFired, out.Text, nil)
	case KindEvaluator:
		r.evaluated(ctx, id, out)
	default:
		r.resolveOutgoing(id, slotFired, out.Text, nil)
	}
}

// evaluated either sends the loop back to its target or lets the candidate
// through. Reaching the cap ends the loop, not the run.
func (r *run) evaluated(ctx context.Context, id string, out *NodeOutput) {
	l := r.plan.loops[id]
	if l != nil && out.Verdict != nil && !out.Verdict.Accept {
		limit := r.limit(l)
		if r.feedback[l.edge] < limit {
			r.feedback[l.edge]++
			r.observer.revision(ctx, l, r.feedback[l.edge], limit)
			r.reset(l)
			r.revisions[l.target] = revision{candidate: out.Text, instruction: out.Verdict.Instruction}
			return
		}
		r.trace.CapExceeded = true
		r.observer.capExceeded(ctx, l, limit)
	}
	r.resolveOutgoing(id, slotFired, out.Text, nil)
}

func (r *run) limit(l *loop) int {
	if l.maxIterations > 0 {
		return l.maxIterations
	}
	return r.config.maxFeedbackIterations
}

// reset makes the loop body runnable again. Slots entering the body from
// outside keep their values.
func (r *run) reset(l *loop) {
	for id := range l.body {
		r.nodes[id].status = nodePending
	}
	for i, s := range r.plan.slots {
		if l.body[s.from] && l.body[s.to] {
			r.slots[i] = slotState{}
		}
	}
}

func (r *run) resolveOutgoing(id string, status slotStatus, text string, err *Error) {
	for _, s := range r.plan.outgoing[id] {
		r.resolve(s, status, text, err)
	}
}

func (r *run) resolve(s int, status slotStatus, text string, err *Error) {
	r.slots[s] = slotState{status: status, text: text, err: err}
	if r.plan.slots[s].to == OutputID {
		r.flush()
	}
}

// streamSlot returns the output slot a node may stream into live, or -1. Only
// the head of the not yet emitted output slots streams, and never from inside
// a feedback loop.
func (r *run) streamSlot(n *Node) int {
	if !r.streaming || r.stopped || r.plan.inLoop[n.ID] || !n.Kind.streams() {
		return -1
	}
	if n.Kind == KindWorker && len(n.Tools) > 0 && r.engine.tools != nil {
		if descriptions, _ := r.engine.tools.Describe(n.Tools); len(descriptions) > 0 {
			return -1
		}
	}
	if r.nextOutput >= len(r.plan.outputs) {
		return -1
	}
	head := r.plan.outputs[r.nextOutput]
	if r.plan.slots[head].from != n.ID {
		return -1
	}
	return head
}

// flush emits every resolved output slot at the head of the queue.
func (r *run) flush() {
	for r.nextOutput < len(r.plan.outputs) {
		s := r.plan.outputs[r.nextOutput]
		state := r.slots[s]
		streamed := s == r.live && r.liveEmitted
		switch state.status {
		case slotPending:
			return
		case slotFired:
			if !streamed && state.text != "" {
				r.separate()
				r.send(Event{Type: EventFragment, NodeID: r.plan.slots[s].from, Text: state.text})
			}
		case slotFailed:
			if streamed {
				r.liveBroken = state.err
			}
		}
		r.nextOutput++
	}
}

// forward passes a live fragment to the caller.
func (r *run) forward(msg message) {
	if !r.liveEmitted {
		r.liveEmitted = true
		r.separate()
	}
	r.send(Event{Type: EventFragment, NodeID: msg.nodeID, Text: msg.fragment})
}

// separate emits the output separator between two emitted outputs.
func (r *run) separate() {
	if r.emittedAny {
		r.send(Event{Type: EventFragment, Text: Separator})
	}
	r.emittedAny = true
}

func (r *run) send(event Event) {
	if r.emit == nil || r.stopped {
		return
	}
	if !r.emit(event) {
		r.stopped = true
		r.cancel()
	}
}

// interrupted reports whether cancellation cut the run short.
func (r *run) interrupted(ctx context.Context) bool {
	if r.stopped {
		return true
	}
	if ctx.Err() == nil {
		return false
	}
	for _, s := range r.plan.outputs {
		state := r.slots[s]
		if state.status == slotPending || (state.status == slotFailed && state.err.Kind == KindCancelled) {
			return true
		}
	}
	return false
}

func (r *run) finish(ctx context.Context) (*Result, error) {
	r.trace.End = time.Now()
	result := &Result{RunID: r.id, Trace: r.trace}
	defer func() {
		in, out, tools := r.trace.Totals()
		result.Metadata = Metadata{
			RunID:          r.id,
			Elapsed:        r.trace.End.Sub(r.trace.Start),
			InputTokens:    in,
			OutputTokens:   out,
			ToolCalls:      tools,
			ShortCircuited: result.ShortCircuited,
		}
	}()

	if r.interrupted(ctx) {
		r.trace.Incomplete = true
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		return result, &Error{Kind: KindCancelled, Err: fmt.Errorf("%w: %w", ErrRunCancelled, cause)}
	}
	if r.liveBroken != nil {
		return result, r.liveBroken
	}

	var texts, dropped []string
	var failure *Error
	fired := 0
	for _, s := range r.plan.outputs {
		state := r.slots[s]
		switch state.status {
		case slotFired:
			fired++
			if state.text != "" {
				texts = append(texts, state.text)
			}
		case slotFailed:
			if failure == nil {
				failure = state.err
			}
			dropped = append(dropped, r.plan.slots[s].from)
		}
	}

	switch {
	case fired > 0:
		result.Output = strings.Join(texts, Separator)
		r.trace.DroppedBranches = dropped
	case len(r.rejections) > 0:
		result.Output = r.rejections[0].text
		result.ShortCircuited = true
		r.separate()
		r.send(Event{Type: EventFragment, NodeID: r.rejections[0].gate, Text: result.Output})
	case failure != nil:
		return result, failure
	}
	return result, nil
}
