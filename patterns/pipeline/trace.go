package pipeline

import (
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// SpanStatus is the outcome of one node visit.
type SpanStatus string

const (
	StatusOK        SpanStatus = "ok"
	StatusPartial   SpanStatus = "partial"
	StatusFailed    SpanStatus = "failed"
	StatusCancelled SpanStatus = "cancelled"
	StatusRejected  SpanStatus = "rejected"
	StatusSkipped   SpanStatus = "skipped"
)

// ToolCallRecord is one tool invocation made during a worker visit.
type ToolCallRecord struct {
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

// Span records one visit of one node.
type Span struct {
	NodeID       string           `json:"node_id"`
	Kind         NodeKind         `json:"kind"`
	Visit        int              `json:"visit"`
	Model        string           `json:"model,omitempty"`
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
	Iterations   int              `json:"iterations"`
	ToolCalls    []ToolCallRecord `json:"tool_calls,omitempty"`
	Status       SpanStatus       `json:"status"`
	Decision     string           `json:"decision,omitempty"`
	Error        string           `json:"error,omitempty"`
	CapExceeded  bool             `json:"cap_exceeded,omitempty"`
}

// Duration is End - Start.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Trace is the append-only record of a run. Spans are appended by node
// goroutines as visits finish, so their order is completion order.
type Trace struct {
	RunID           string    `json:"run_id"`
	GraphID         string    `json:"graph_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Incomplete      bool      `json:"incomplete,omitempty"`
	CapExceeded     bool      `json:"cap_exceeded,omitempty"`
	DroppedBranches []string  `json:"dropped_branches,omitempty"`

	mu    sync.Mutex
	spans []Span
}

func newTrace(runID, graphID string) *Trace {
	return &Trace{RunID: runID, GraphID: graphID, Start: time.Now()}
}

func (t *Trace) append(span Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = append(t.spans, span)
}

// Spans returns a copy of the recorded spans.
func (t *Trace) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.spans)
}

// Visits returns the spans of nodeID in visit order.
func (t *Trace) Visits(nodeID string) []Span {
	var visits []Span
	for _, s := range t.Spans() {
		if s.NodeID == nodeID {
			visits = append(visits, s)
		}
	}
	slices.SortFunc(visits, func(a, b Span) int { return a.Visit - b.Visit })
	return visits
}

// Totals sums token usage and tool calls over every span.
func (t *Trace) Totals() (inputTokens, outputTokens, toolCalls int) {
	for _, s := range t.Spans() {
		inputTokens += s.InputTokens
		outputTokens += s.OutputTokens
		toolCalls += len(s.ToolCalls)
	}
	return inputTokens, outputTokens, toolCalls
}

// traceJSON is the wire form of a Trace.
type traceJSON struct {
	RunID           string    `json:"run_id"`
	GraphID         string    `json:"graph_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Incomplete      bool      `json:"incomplete,omitempty"`
	CapExceeded     bool      `json:"cap_exceeded,omitempty"`
	DroppedBranches []string  `json:"dropped_branches,omitempty"`
	Spans           []Span    `json:"spans"`
}

// UnmarshalJSON restores a trace written by MarshalJSON.
func (t *Trace) UnmarshalJSON(data []byte) error {
	var w traceJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.RunID, t.GraphID = w.RunID, w.GraphID
	t.Start, t.End = w.Start, w.End
	t.Incomplete, t.CapExceeded = w.Incomplete, w.CapExceeded
	t.DroppedBranches = w.DroppedBranches
	t.spans = w.Spans
	return nil
}

// MarshalJSON includes the spans, which are unexported to guard the append.
func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(traceJSON{
		RunID:           t.RunID,
		GraphID:         t.GraphID,
		Start:           t.Start,
		End:             t.End,
		Incomplete:      t.Incomplete,
		CapExceeded:     t.CapExceeded,
		DroppedBranches: t.DroppedBranches,
		Spans:           t.Spans(),
	})
}
