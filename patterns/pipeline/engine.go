package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/tool"
)

// errNoClient is returned by runs of an engine built without a model client.
var errNoClient = errors.New("pipeline: engine has no model client")

// Engine executes graphs. It holds no per-run state: the model client, the
// tool catalog and the graphs it runs are shared read-only, so one Engine
// serves any number of concurrent runs.
type Engine struct {
	client client.ModelClient
	tools  *tool.Catalog
	config engineConfig
}

// NewEngine returns an engine that calls models through modelClient and
// resolves worker tools in tools. A nil catalog means no tools.
//
//	engine := pipeline.NewEngine(modelClient, builtin.NewCatalog(builtin.FromEnv()),
//	    pipeline.WithMaxConcurrency(4),
//	    pipeline.WithObserver(observer),
//	)
func NewEngine(modelClient client.ModelClient, tools *tool.Catalog, opts ...Option) *Engine {
	if tools == nil {
		tools = tool.NewCatalog()
	}
	e := &Engine{
		client: modelClient,
		tools:  tools,
		config: engineConfig{
			maxFeedbackIterations: DefaultMaxFeedbackIterations,
			maxToolIterations:     DefaultMaxToolIterations,
		},
	}
	for _, opt := range opts {
		opt(&e.config)
	}
	return e
}

// With returns a copy of the engine with opts applied on top of its
// configuration, e.g. per-request model overrides.
func (e *Engine) With(opts ...Option) *Engine {
	copied := &Engine{client: e.client, tools: e.tools, config: e.config.clone()}
	for _, opt := range opts {
		opt(&copied.config)
	}
	return copied
}

// Client returns the model client nodes call.
func (e *Engine) Client() client.ModelClient {
	return e.client
}

// Tools returns the catalog workers resolve tools in.
func (e *Engine) Tools() *tool.Catalog {
	return e.tools
}

// Result is the outcome of a run.
type Result struct {
	RunID string

	// Output is the text of every branch that reached output, in edge
	// declaration order, joined by Separator.
	Output string

	// ShortCircuited is set when no branch reached output and Output holds
	// the rejection of a gate.
	ShortCircuited bool

	Trace    *Trace
	Metadata Metadata
}

// Metadata is the terminal record of a run.
type Metadata struct {
	RunID          string
	Elapsed        time.Duration
	InputTokens    int
	OutputTokens   int
	ToolCalls      int
	ShortCircuited bool
}

// Run executes g on input and returns the complete output. history is the
// prior conversation, given to nodes that generate text.
//
// Validation problems are reported before any node runs as an *Error of kind
// KindValidation wrapping a *ValidationError. Other failures are an *Error
// carrying the failing node; the returned Result still holds the trace.
func (e *Engine) Run(ctx context.Context, g *Graph, input string, history []ai.Message) (*Result, error) {
	r, err := e.prepare(g, input, history, false)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx)
}

// RunStream validates g and returns a stream that executes it when iterated.
// The terminal output fragments arrive as they are produced; the stream ends
// with exactly one EventEnd or EventError event.
func (e *Engine) RunStream(ctx context.Context, g *Graph, input string, history []ai.Message) (*Stream, error) {
	r, err := e.prepare(g, input, history, true)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, r), nil
}

func (e *Engine) prepare(g *Graph, input string, history []ai.Message, streaming bool) (*run, error) {
	if e.client == nil {
		return nil, &Error{Kind: KindValidation, Err: errNoClient}
	}
	p, err := compile(g)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Err: err}
	}
	return newRun(e, p, uuid.NewString(), input, history, streaming), nil
}
