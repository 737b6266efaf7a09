package pipeline

import (
	"context"
	"strings"

	"github.com/leofalp/fissio/providers/observability"
)

// llmExecutor makes one model call with the node prompt, the history and the
// node input.
type llmExecutor struct{}

func (llmExecutor) Execute(ctx context.Context, in *NodeInput) (*NodeOutput, error) {
	out := &NodeOutput{}
	text, err := generate(ctx, in, out, in.request(in.Node.Prompt, in.conversation(in.Text)))
	out.Text = text
	return out, err
}

// workerExecutor runs the tool loop over the node's registered tools. A
// worker without usable tools behaves like an llm node.
type workerExecutor struct{}

func (workerExecutor) Execute(ctx context.Context, in *NodeInput) (*NodeOutput, error) {
	if len(in.Node.Tools) == 0 || in.Tools == nil {
		return llmExecutor{}.Execute(ctx, in)
	}

	descriptions, missing := in.Tools.Describe(in.Node.Tools)
	if len(missing) > 0 {
		if observer := observability.ObserverFromContext(ctx); observer != nil {
			observer.Warn(ctx, "worker declares unregistered tools",
				observability.String(observability.AttrNodeID, in.Node.ID),
				observability.StringSlice("pipeline.node.missing_tools", missing),
			)
		}
	}
	if len(descriptions) == 0 {
		return llmExecutor{}.Execute(ctx, in)
	}

	maxIterations := in.MaxToolIterations
	if n, ok := in.Node.ConfigInt("max_iterations"); ok && n > 0 {
		maxIterations = n
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}

	out := &NodeOutput{}
	err := runToolLoop(ctx, in, out, descriptions, maxIterations)
	return out, err
}

// joinExecutor combines every predecessor output, labelled by node id, in one
// call. Aggregators and synthesizers differ only in their default prompt.
type joinExecutor struct {
	fallback string
}

func (e joinExecutor) Execute(ctx context.Context, in *NodeInput) (*NodeOutput, error) {
	combined := in.Text
	if len(in.Upstream) > 1 && !in.Revising {
		combined = labelled(in.Upstream)
	}
	system := orDefault(in.Node.Prompt, e.fallback)

	out := &NodeOutput{}
	text, err := generate(ctx, in, out, in.request(system, in.conversation(strings.TrimSpace(combined))))
	out.Text = text
	return out, err
}
