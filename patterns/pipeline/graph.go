package pipeline

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Virtual endpoints. They may appear in edges but never as node ids.
const (
	InputID  = "input"
	OutputID = "output"
)

// NodeKind is the closed set of node behaviours.
type NodeKind int

const (
	KindLLM NodeKind = iota
	KindWorker
	KindRouter
	KindGate
	KindAggregator
	KindOrchestrator
	KindEvaluator
	KindSynthesizer
	KindCoordinator
)

var nodeKindNames = [...]string{
	KindLLM:          "llm",
	KindWorker:       "worker",
	KindRouter:       "router",
	KindGate:         "gate",
	KindAggregator:   "aggregator",
	KindOrchestrator: "orchestrator",
	KindEvaluator:    "evaluator",
	KindSynthesizer:  "synthesizer",
	KindCoordinator:  "coordinator",
}

// NodeKinds returns every kind in declaration order.
func NodeKinds() []NodeKind {
	kinds := make([]NodeKind, len(nodeKindNames))
	for i := range nodeKindNames {
		kinds[i] = NodeKind(i)
	}
	return kinds
}

func (k NodeKind) valid() bool {
	return k >= 0 && int(k) < len(nodeKindNames)
}

func (k NodeKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("NodeKind(%d)", int(k))
	}
	return nodeKindNames[k]
}

// ParseNodeKind accepts the lowercase kind name, ignoring case and
// surrounding space.
func ParseNodeKind(s string) (NodeKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range nodeKindNames {
		if n == name {
			return NodeKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node type %q", s)
}

func (k NodeKind) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("invalid node kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *NodeKind) UnmarshalText(text []byte) error {
	kind, err := ParseNodeKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// dispatches reports whether the kind selects among its outgoing edges.
func (k NodeKind) dispatches() bool {
	return k == KindOrchestrator || k == KindCoordinator
}

// streams reports whether a node of this kind produces its output with a
// single plain model call whose fragments can be forwarded live.
func (k NodeKind) streams() bool {
	switch k {
	case KindLLM, KindWorker, KindAggregator, KindSynthesizer:
		return true
	default:
		return false
	}
}

// EdgeKind is the dispatch policy of an edge. The zero value is EdgeDirect.
type EdgeKind int

const (
	EdgeDirect EdgeKind = iota
	EdgeParallel
	EdgeConditional
	EdgeDynamic
	EdgeFeedback
)

var edgeKindNames = [...]string{
	EdgeDirect:      "direct",
	EdgeParallel:    "parallel",
	EdgeConditional: "conditional",
	EdgeDynamic:     "dynamic",
	EdgeFeedback:    "feedback",
}

func (k EdgeKind) valid() bool {
	return k >= 0 && int(k) < len(edgeKindNames)
}

func (k EdgeKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("EdgeKind(%d)", int(k))
	}
	return edgeKindNames[k]
}

// ParseEdgeKind accepts the lowercase edge type name. An empty string is
// EdgeDirect.
func ParseEdgeKind(s string) (EdgeKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return EdgeDirect, nil
	}
	for i, n := range edgeKindNames {
		if n == name {
			return EdgeKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown edge type %q", s)
}

func (k EdgeKind) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("invalid edge kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *EdgeKind) UnmarshalText(text []byte) error {
	kind, err := ParseEdgeKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Endpoint is one or more node ids. In files it is written either as a single
// string or as a list of strings.
type Endpoint []string

// To builds an Endpoint from ids.
func To(ids ...string) Endpoint {
	return Endpoint(ids)
}

func (e Endpoint) String() string {
	if len(e) == 1 {
		return e[0]
	}
	return "[" + strings.Join(e, ", ") + "]"
}

func (e Endpoint) MarshalJSON() ([]byte, error) {
	if len(e) == 1 {
		return json.Marshal(e[0])
	}
	return json.Marshal([]string(e))
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*e = Endpoint{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("endpoint must be a string or a list of strings: %w", err)
	}
	*e = Endpoint(many)
	return nil
}

func (e Endpoint) MarshalYAML() (any, error) {
	if len(e) == 1 {
		return e[0], nil
	}
	return []string(e), nil
}

func (e *Endpoint) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*e = Endpoint{value.Value}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*e = Endpoint(many)
		return nil
	default:
		return fmt.Errorf("line %d: endpoint must be a string or a list of strings", value.Line)
	}
}

// Node is one agent in the graph. A node is immutable for the duration of a
// run; the engine never writes to it.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Kind   NodeKind       `json:"type" yaml:"type"`
	Model  string         `json:"model,omitempty" yaml:"model,omitempty"`
	Prompt string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Tools  []string       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// ConfigInt reads an integer setting from Config. Numbers decoded from JSON
// arrive as float64 and are truncated.
func (n *Node) ConfigInt(key string) (int, bool) {
	switch v := n.Config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// ConfigFloat reads a numeric setting from Config.
func (n *Node) ConfigFloat(key string) (float64, bool) {
	switch v := n.Config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Edge connects sources to targets with a dispatch policy. An edge with
// several sources and targets expands to one slot per (source, target) pair.
type Edge struct {
	From          Endpoint `json:"from" yaml:"from"`
	To            Endpoint `json:"to" yaml:"to"`
	Kind          EdgeKind `json:"edge_type,omitempty" yaml:"edge_type,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
}

// Graph is a pipeline definition. Edge order is significant: it breaks ties
// when joining inputs and when concatenating outputs.
type Graph struct {
	ID          string
	Name        string
	Description string
	Nodes       map[string]*Node
	Edges       []Edge

	// declaration order of Nodes; may be empty for graphs built by hand
	order []string
}

// NewGraph assembles a graph from nodes in declaration order. A repeated id
// replaces the earlier node; Builder and the decoders reject duplicates.
func NewGraph(id, name string, nodes []*Node, edges []Edge) *Graph {
	g := &Graph{
		ID:    id,
		Name:  name,
		Nodes: make(map[string]*Node, len(nodes)),
		Edges: edges,
	}
	for _, n := range nodes {
		if _, seen := g.Nodes[n.ID]; !seen {
			g.order = append(g.order, n.ID)
		}
		g.Nodes[n.ID] = n
	}
	return g
}

// NodeIDs returns node ids in declaration order, or sorted when the graph was
// assembled as a literal.
func (g *Graph) NodeIDs() []string {
	if len(g.order) == len(g.Nodes) {
		return slices.Clone(g.order)
	}
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Node returns the node with id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.Nodes[id]
}
