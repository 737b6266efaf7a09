package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/fissio/core/cost"
	"github.com/leofalp/fissio/patterns/pipeline"
	"github.com/leofalp/fissio/providers/ai"
)

type shoutClient struct{}

func (shoutClient) Complete(_ context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
	last := request.Messages[len(request.Messages)-1].Content
	return &ai.ChatResponse{
		Content: strings.ToUpper(last),
		Usage:   &ai.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
	}, nil
}

func (c shoutClient) Stream(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
	resp, err := c.Complete(ctx, request)
	if err != nil {
		return nil, err
	}
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		if !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: resp.Content}, nil) {
			return
		}
		if !yield(ai.StreamEvent{Type: ai.StreamEventUsage, Usage: resp.Usage}, nil) {
			return
		}
		yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: "stop"}, nil)
	}), nil
}

func shoutRun(t *testing.T) (*pipeline.Engine, *pipeline.Graph, cost.Pricing) {
	t.Helper()
	g, err := pipeline.ParseYAML([]byte(validGraph))
	require.NoError(t, err)
	engine := pipeline.NewEngine(shoutClient{}, nil, pipeline.WithDefaultModel("gpt-4o"))
	pricing := cost.Pricing{Models: map[string]cost.ModelCost{
		"gpt-4o": {InputCostPerMillion: 2, OutputCostPerMillion: 10},
	}}
	return engine, g, pricing
}

func TestRunJSON(t *testing.T) {
	engine, g, pricing := shoutRun(t)
	var out bytes.Buffer
	require.NoError(t, runJSON(context.Background(), engine, g, "hello", pricing, &out))

	var body runOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, "HELLO", body.Output)
	assert.NotEmpty(t, body.RunID)
	assert.InDelta(t, 0.007, body.Cost.TotalCost, 1e-9)
	require.NotNil(t, body.Trace)
	assert.Len(t, body.Trace.Spans(), 1)
}

func TestRunStreaming(t *testing.T) {
	engine, g, pricing := shoutRun(t)
	var out, status bytes.Buffer
	require.NoError(t, runStreaming(context.Background(), engine, g, "hello", pricing, &out, &status))

	assert.Equal(t, "HELLO\n", out.String())
	assert.Contains(t, status.String(), "1000 input / 500 output tokens")
	assert.Contains(t, status.String(), "~$0.0070")
}
