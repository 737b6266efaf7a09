package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leofalp/fissio/core/parse"
	"github.com/leofalp/fissio/internal/jsonschema"
	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/observability"
)

// GenericTool is the type-erased capability the pipeline engine invokes.
// Arguments and results travel as text so that a tool can be dispatched
// without knowing its Go input and output types.
type GenericTool interface {
	// ToolInfo returns the name, description and parameter schema advertised
	// to the model.
	ToolInfo() ai.ToolDescription

	// Call runs the tool with the JSON arguments produced by the model.
	Call(ctx context.Context, inputJSON string) (string, error)
}

// Tool binds a name and description to a typed Go function. The parameter
// schema is derived from I by reflection.
type Tool[I, O any] struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Function    func(ctx context.Context, input I) (O, error)
}

type options struct {
	description string
}

// Option configures a tool created with NewTool.
type Option func(*options)

// WithDescription sets the description the model sees when deciding whether
// to call the tool.
func WithDescription(description string) Option {
	return func(o *options) {
		o.description = description
	}
}

// NewTool builds a Tool. It panics if I cannot be described as a JSON schema,
// which only happens for programming errors such as channel or func fields.
//
//	search := tool.NewTool("web_search", client.Search,
//	    tool.WithDescription("Search the web for information."),
//	)
func NewTool[I, O any](name string, function func(ctx context.Context, input I) (O, error), opts ...Option) *Tool[I, O] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return &Tool[I, O]{
		Name:        name,
		Description: o.description,
		Parameters:  jsonschema.MustGenerate[I](),
		Function:    function,
	}
}

// ToolInfo implements GenericTool.
func (t *Tool[I, O]) ToolInfo() ai.ToolDescription {
	return ai.ToolDescription{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

// Call implements GenericTool. Arguments are parsed leniently (fenced or
// slightly malformed JSON is accepted). String results are returned as they
// are; any other result is encoded as JSON. Start and end events are added to
// the span found in ctx, if any.
func (t *Tool[I, O]) Call(ctx context.Context, inputJSON string) (string, error) {
	span := observability.SpanFromContext(ctx)
	if span != nil {
		span.AddEvent(observability.EventToolExecutionStart,
			observability.String(observability.AttrToolName, t.Name),
			observability.String(observability.AttrToolInput, inputJSON),
		)
	}

	start := time.Now()
	output, err := t.call(ctx, inputJSON)
	duration := time.Since(start)

	if span != nil {
		attrs := []observability.Attribute{
			observability.String(observability.AttrToolName, t.Name),
			observability.Duration(observability.AttrToolDuration, duration),
		}
		if err != nil {
			attrs = append(attrs, observability.String(observability.AttrToolError, err.Error()))
		} else {
			attrs = append(attrs, observability.String(observability.AttrToolOutput, utils.TruncateString(output, 0)))
		}
		span.AddEvent(observability.EventToolExecutionEnd, attrs...)
	}
	return output, err
}

func (t *Tool[I, O]) call(ctx context.Context, inputJSON string) (string, error) {
	if strings.TrimSpace(inputJSON) == "" {
		inputJSON = "{}"
	}
	input, err := parse.ParseStringAs[I](inputJSON)
	if err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", t.Name, err)
	}

	output, err := t.Function(ctx, input)
	if err != nil {
		return "", err
	}

	if s, ok := any(output).(string); ok {
		return s, nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", t.Name, err)
	}
	return string(data), nil
}
