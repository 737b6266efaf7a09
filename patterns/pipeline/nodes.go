package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/tool"
)

// NodeExecutor runs one visit of one node.
type NodeExecutor interface {
	Execute(ctx context.Context, input *NodeInput) (*NodeOutput, error)
}

// Upstream is the output of one predecessor as seen by a node.
type Upstream struct {
	From string
	Text string
}

// NodeInput is everything an executor may read during a visit.
type NodeInput struct {
	Node  *Node
	Model string

	// Text is the node input: fired predecessor outputs joined by Separator,
	// composed with a revision request on feedback visits.
	Text     string
	Upstream []Upstream
	Revising bool

	// Goal is the user input of the run.
	Goal    string
	History []ai.Message

	// Targets lists the conditional or dynamic targets of routers,
	// orchestrators and coordinators.
	Targets []string

	Client            client.ModelClient
	Tools             *tool.Catalog
	MaxToolIterations int

	// Emit forwards a text fragment to the caller. It is nil unless the node
	// output is being streamed live; a false return means stop.
	Emit func(fragment string) bool
}

// Assignment is one target selected by an orchestrator or coordinator.
type Assignment struct {
	Target      string `json:"target"`
	Instruction string `json:"instruction"`
}

// Verdict is an evaluator decision.
type Verdict struct {
	Accept      bool
	Score       *float64
	Instruction string
}

// NodeOutput is the result of a visit.
type NodeOutput struct {
	Text string

	Route       string
	Assignments []Assignment
	Verdict     *Verdict
	Rejected    bool

	Usage      ai.Usage
	Iterations int
	ToolCalls  []ToolCallRecord
	Decision   string
}

// executorFor returns the executor of kind.
func executorFor(kind NodeKind) NodeExecutor {
	switch kind {
	case KindLLM:
		return llmExecutor{}
	case KindWorker:
		return workerExecutor{}
	case KindRouter:
		return routerExecutor{}
	case KindGate:
		return gateExecutor{}
	case KindAggregator:
		return joinExecutor{fallback: defaultAggregatorPrompt}
	case KindSynthesizer:
		return joinExecutor{fallback: defaultSynthesizerPrompt}
	case KindOrchestrator:
		return dispatchExecutor{goal: defaultOrchestratorGoal}
	case KindCoordinator:
		return dispatchExecutor{goal: defaultCoordinatorGoal}
	case KindEvaluator:
		return evaluatorExecutor{}
	default:
		panic(fmt.Sprintf("pipeline: no executor for %s", kind))
	}
}

func (in *NodeInput) request(system string, messages []ai.Message) ai.ChatRequest {
	return ai.ChatRequest{
		Model:        in.Model,
		SystemPrompt: system,
		Messages:     messages,
	}
}

// conversation is the run history followed by text as the user turn.
func (in *NodeInput) conversation(text string) []ai.Message {
	messages := slices.Clone(in.History)
	return append(messages, ai.Message{Role: ai.RoleUser, Content: text})
}

func userTurn(text string) []ai.Message {
	return []ai.Message{{Role: ai.RoleUser, Content: text}}
}

// modelError marks err as a model client failure unless the run itself was
// cancelled.
func modelError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProvider, err)
}

func complete(ctx context.Context, in *NodeInput, out *NodeOutput, request ai.ChatRequest) (*ai.ChatResponse, error) {
	out.Iterations++
	response, err := in.Client.Complete(ctx, request)
	if err != nil {
		return nil, modelError(ctx, err)
	}
	out.Usage.Add(response.Usage)
	return response, nil
}

// generate makes one plain call, streaming it through in.Emit when set.
func generate(ctx context.Context, in *NodeInput, out *NodeOutput, request ai.ChatRequest) (string, error) {
	if in.Emit == nil {
		response, err := complete(ctx, in, out, request)
		if err != nil {
			return "", err
		}
		return response.Content, nil
	}

	out.Iterations++
	stream, err := in.Client.Stream(ctx, request)
	if err != nil {
		return "", modelError(ctx, err)
	}
	response, err := stream.CollectWith(in.Emit)
	if response != nil {
		out.Usage.Add(response.Usage)
	}
	switch {
	case errors.Is(err, ai.ErrStreamStopped):
		if ctx.Err() != nil {
			return response.Content, ctx.Err()
		}
		return response.Content, ErrRunCancelled
	case err != nil:
		return response.Content, modelError(ctx, err)
	}
	return response.Content, nil
}

// completeAs makes one structured call. A reply that does not parse is not an
// error: data is nil and raw holds the reply for keyword fallbacks.
func completeAs[T any](ctx context.Context, in *NodeInput, out *NodeOutput, request ai.ChatRequest) (data *T, raw string, err error) {
	out.Iterations++
	response, err := client.CompleteAs[T](ctx, in.Client, request)
	if response == nil {
		return nil, "", modelError(ctx, err)
	}
	out.Usage.Add(response.Raw.Usage)
	return response.Data, response.Raw.Content, nil
}
