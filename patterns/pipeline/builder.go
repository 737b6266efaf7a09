package pipeline

import (
	"fmt"
	"maps"
)

// Builder constructs a validated Graph using a fluent API. Problems found
// while adding nodes and edges are collected and reported by Build together
// with the structural validation.
//
// Example:
//
//	g, err := pipeline.NewBuilder("support", "Support triage").
//	    Node("triage", pipeline.KindRouter).Prompt("Classify the request.").Done().
//	    Node("billing", pipeline.KindLLM).Prompt("You handle billing.").Done().
//	    Node("tech", pipeline.KindWorker).Tools("web_search").Done().
//	    Edge(pipeline.InputID, "triage").
//	    ConditionalEdge("triage", "billing", "tech").
//	    Edge("billing", pipeline.OutputID).
//	    Edge("tech", pipeline.OutputID).
//	    Build()
type Builder struct {
	graph       *Graph
	buildErrors []string
}

// NewBuilder starts a graph with the given id and display name.
func NewBuilder(id, name string) *Builder {
	return &Builder{
		graph: &Graph{
			ID:    id,
			Name:  name,
			Nodes: make(map[string]*Node),
		},
	}
}

// Description sets the graph description.
func (b *Builder) Description(description string) *Builder {
	b.graph.Description = description
	return b
}

// Node starts a node definition; finish it with NodeBuilder.Done.
func (b *Builder) Node(id string, kind NodeKind) *NodeBuilder {
	return &NodeBuilder{parent: b, node: &Node{ID: id, Kind: kind}}
}

// AddNode adds a fully formed node.
func (b *Builder) AddNode(node *Node) *Builder {
	switch {
	case node == nil:
		b.buildErrors = append(b.buildErrors, "nil node")
	case node.ID == "":
		b.buildErrors = append(b.buildErrors, "node id must not be empty")
	case b.graph.Nodes[node.ID] != nil:
		b.buildErrors = append(b.buildErrors, fmt.Sprintf("duplicate node id %q", node.ID))
	default:
		b.graph.Nodes[node.ID] = node
		b.graph.order = append(b.graph.order, node.ID)
	}
	return b
}

// Edge adds a direct edge.
func (b *Builder) Edge(from, to string) *Builder {
	return b.AddEdge(Edge{From: To(from), To: To(to)})
}

// ParallelEdge fans from out to every target.
func (b *Builder) ParallelEdge(from string, targets ...string) *Builder {
	return b.AddEdge(Edge{From: To(from), To: To(targets...), Kind: EdgeParallel})
}

// ConditionalEdge lets router from choose exactly one of targets.
func (b *Builder) ConditionalEdge(from string, targets ...string) *Builder {
	return b.AddEdge(Edge{From: To(from), To: To(targets...), Kind: EdgeConditional})
}

// DynamicEdge lets an orchestrator or coordinator choose a subset of targets.
func (b *Builder) DynamicEdge(from string, targets ...string) *Builder {
	return b.AddEdge(Edge{From: To(from), To: To(targets...), Kind: EdgeDynamic})
}

// FeedbackEdge lets evaluator from send target back for revision. A
// maxIterations of 0 uses the engine default.
func (b *Builder) FeedbackEdge(from, to string, maxIterations int) *Builder {
	return b.AddEdge(Edge{From: To(from), To: To(to), Kind: EdgeFeedback, MaxIterations: maxIterations})
}

// AddEdge adds an edge as is.
func (b *Builder) AddEdge(edge Edge) *Builder {
	b.graph.Edges = append(b.graph.Edges, edge)
	return b
}

// Build validates the graph. The error is a *ValidationError.
func (b *Builder) Build() (*Graph, error) {
	_, err := compile(b.graph)
	if len(b.buildErrors) == 0 {
		if err != nil {
			return nil, err
		}
		return b.graph, nil
	}

	problems := append([]string(nil), b.buildErrors...)
	if ve, ok := err.(*ValidationError); ok {
		problems = append(problems, ve.Problems...)
	}
	return nil, &ValidationError{GraphID: b.graph.ID, Problems: problems}
}

// NodeBuilder configures one node.
type NodeBuilder struct {
	parent *Builder
	node   *Node
}

// Model sets the model id; empty means the run default.
func (nb *NodeBuilder) Model(model string) *NodeBuilder {
	nb.node.Model = model
	return nb
}

// Prompt sets the system prompt.
func (nb *NodeBuilder) Prompt(prompt string) *NodeBuilder {
	nb.node.Prompt = prompt
	return nb
}

// Tools sets the tool names a worker may call.
func (nb *NodeBuilder) Tools(names ...string) *NodeBuilder {
	nb.node.Tools = append(nb.node.Tools, names...)
	return nb
}

// Config sets one kind-specific setting, e.g. "threshold" or
// "max_iterations".
func (nb *NodeBuilder) Config(key string, value any) *NodeBuilder {
	if nb.node.Config == nil {
		nb.node.Config = make(map[string]any)
	}
	nb.node.Config[key] = value
	return nb
}

// ConfigMap merges settings into the node config.
func (nb *NodeBuilder) ConfigMap(settings map[string]any) *NodeBuilder {
	if nb.node.Config == nil {
		nb.node.Config = make(map[string]any, len(settings))
	}
	maps.Copy(nb.node.Config, settings)
	return nb
}

// Done adds the node and returns to the graph builder.
func (nb *NodeBuilder) Done() *Builder {
	return nb.parent.AddNode(nb.node)
}
